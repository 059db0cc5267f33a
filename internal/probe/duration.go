package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FallbackDuration is used for a scene whose audio length cannot be read.
const FallbackDuration = 5.0

// Runner executes name with args and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober reads container-level durations with ffprobe.
type Prober struct {
	Bin string
	// Run defaults to running Bin as a child process.
	Run Runner

	log       *zap.Logger
	fallbacks int
}

func New(bin string, log *zap.Logger) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{Bin: bin, log: log}
}

// Args is the fixed ffprobe argument template for path.
func Args(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// Probe returns the duration of path in seconds or the first error hit.
func (p *Prober) Probe(ctx context.Context, path string) (float64, error) {
	run := p.Run
	if run == nil {
		run = execOutput
	}
	out, err := run(ctx, p.Bin, Args(path)...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	d, err := ParseDuration(out)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return d, nil
}

// Duration never fails: errors are logged and FallbackDuration is returned so
// one bad probe does not abort the render.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	d, err := p.Probe(ctx, path)
	if err != nil {
		p.fallbacks++
		p.log.Warn("duration probe failed, using fallback",
			zap.String("audio", path),
			zap.Float64("fallback_seconds", FallbackDuration),
			zap.Error(err))
		return FallbackDuration
	}
	return d
}

// Fallbacks reports how many probes returned FallbackDuration.
func (p *Prober) Fallbacks() int {
	return p.fallbacks
}

// ParseDuration parses the single bare number ffprobe prints. Exported for
// testing without a real ffprobe binary.
func ParseDuration(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, errors.New("empty duration output")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return out, err
}
