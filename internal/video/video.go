package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/scene2video/internal/renderer"
)

var ErrTranscodeFailed = errors.New("transcode failed")

// TranscodeError reports a transcoder run that did not exit 0. ExitCode is -1
// when the process could not be started or was killed by a signal.
type TranscodeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("transcode failed: exit code %d", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranscodeError) Is(target error) bool { return target == ErrTranscodeFailed }

func (e *TranscodeError) Unwrap() error { return e.Err }

// Job is one transcoder run.
type Job struct {
	Plan       *renderer.Plan
	OutputPath string
}

// Transcoder runs a compiled plan to completion and returns the output path.
type Transcoder interface {
	Transcode(ctx context.Context, job Job) (string, error)
}

type FFmpegTranscoder struct {
	Bin        string
	VideoCodec string
	AudioCodec string
	PixFmt     string
	LogLevel   string

	log     *zap.Logger
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewFFmpegTranscoder(bin string, log *zap.Logger) *FFmpegTranscoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegTranscoder{
		Bin:        bin,
		VideoCodec: "libx264",
		AudioCodec: "aac",
		PixFmt:     "yuv420p",
		LogLevel:   "error",
		log:        log,
		command:    exec.CommandContext,
	}
}

// BuildArgs returns the ffmpeg argument vector (without the binary) that
// renders plan into output.
func (e *FFmpegTranscoder) BuildArgs(plan *renderer.Plan, output string) []string {
	args := make([]string, 0, 16+len(plan.Inputs)*5)
	args = append(args,
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", e.LogLevel,
		"-nostats", "-progress", "pipe:1",
	)

	for _, in := range plan.Inputs {
		if in.Loop {
			args = append(args, "-loop", "1")
		}
		if in.Duration > 0 {
			args = append(args, "-t", formatSeconds(in.Duration))
		}
		args = append(args, "-i", in.Path)
	}

	args = append(args,
		"-filter_complex", plan.FilterComplex(),
		"-map", "["+plan.VideoOut+"]",
		"-map", "["+plan.AudioOut+"]",
		"-c:v", e.VideoCodec,
		"-pix_fmt", e.PixFmt,
		"-c:a", e.AudioCodec,
		"-shortest",
		output,
	)
	return args
}

// Transcode blocks until ffmpeg exits. The video is written to a hidden
// sibling file and renamed over job.OutputPath only after a clean exit, so the
// configured path never holds a partial video.
func (e *FFmpegTranscoder) Transcode(ctx context.Context, job Job) (string, error) {
	if job.Plan == nil {
		return "", errors.New("transcode: nil plan")
	}
	partial := PartialPath(job.OutputPath)
	args := e.BuildArgs(job.Plan, partial)

	e.log.Info("starting ffmpeg",
		zap.Int("inputs", len(job.Plan.Inputs)),
		zap.Int("scenes", job.Plan.Scenes),
		zap.String("output", job.OutputPath))
	e.log.Debug("ffmpeg command", zap.String("bin", e.Bin), zap.Strings("args", args))

	cmd := e.command(ctx, e.Bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &TranscodeError{ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &TranscodeError{ExitCode: -1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return "", &TranscodeError{ExitCode: -1, Err: err}
	}

	tail := newTail(stderrTailLines)
	progress := newProgressLogger(e.log, job.Plan.TotalDuration())

	// Both pipes are drained until EOF so ffmpeg never blocks on a full pipe;
	// Wait must only run after all reads are done.
	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stderr, func(line string) {
			e.log.Debug("ffmpeg", zap.String("stderr", line))
			tail.add(line)
		})
	})
	g.Go(func() error {
		return scanLines(stdout, progress.line)
	})
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		_ = os.Remove(partial)
		terr := &TranscodeError{ExitCode: -1, Stderr: tail.String(), Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			terr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			terr.Err = fmt.Errorf("%w: %w", waitErr, ctxErr)
		}
		e.log.Error("ffmpeg failed",
			zap.Int("exit_code", terr.ExitCode),
			zap.String("stderr", terr.Stderr))
		return "", terr
	}
	if drainErr != nil {
		e.log.Warn("reading ffmpeg output", zap.Error(drainErr))
	}

	if err := os.Rename(partial, job.OutputPath); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("move rendered video into place: %w", err)
	}
	return job.OutputPath, nil
}

// PartialPath is where a render in progress is written: a hidden file next to
// output that keeps its extension so ffmpeg picks the same muxer.
func PartialPath(output string) string {
	dir, base := filepath.Split(output)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+name+".partial"+ext)
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}
