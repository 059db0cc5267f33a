package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivlev/scene2video/internal/config"
	"github.com/ivlev/scene2video/internal/manifest"
	"github.com/ivlev/scene2video/internal/metrics"
	"github.com/ivlev/scene2video/internal/renderer"
	"github.com/ivlev/scene2video/internal/source"
	"github.com/ivlev/scene2video/internal/system"
	"github.com/ivlev/scene2video/internal/video"
)

// ErrNoScenesFound is returned when the scenes directory holds no complete
// scene. Nothing is probed or transcoded in that case.
var ErrNoScenesFound = errors.New("no scenes found")

// DurationProber reports audio lengths. Duration never fails; it substitutes
// a fallback and Fallbacks counts how often it did.
type DurationProber interface {
	Duration(ctx context.Context, path string) float64
	Fallbacks() int
}

type Options struct {
	ScenesDir string
	OutputDir string
	// ManifestPath, when set, receives a YAML description of the render
	// before ffmpeg starts.
	ManifestPath string
	ShowStats    bool
	// BenchmarkLog gets one line per successful run when ShowStats is set.
	BenchmarkLog string
	BuildVersion string
}

// Assembler turns a directory of scene assets into one video.
type Assembler struct {
	opts       Options
	cfg        config.RenderConfig
	prober     DurationProber
	transcoder video.Transcoder
	metrics    *metrics.Metrics
	log        *zap.Logger

	newID func() string
}

func NewAssembler(opts Options, cfg config.RenderConfig, prober DurationProber, tr video.Transcoder, m *metrics.Metrics, log *zap.Logger) *Assembler {
	if m == nil {
		m = metrics.New()
	}
	return &Assembler{
		opts:       opts,
		cfg:        cfg,
		prober:     prober,
		transcoder: tr,
		metrics:    m,
		log:        log,
		newID:      uuid.NewString,
	}
}

func (a *Assembler) Metrics() *metrics.Metrics { return a.metrics }

type timings struct {
	start     time.Time
	scan      time.Duration
	probe     time.Duration
	transcode time.Duration
}

// Run renders the scenes and returns the path of the finished video.
//
// Scenes are probed one at a time in index order. The output file is only
// created once ffmpeg succeeds; on any failure no video exists at the output
// path (an older one is left untouched).
func (a *Assembler) Run(ctx context.Context) (string, error) {
	t := timings{start: time.Now()}
	renderID := a.newID()
	log := a.log.With(zap.String("render_id", renderID))

	inv, err := source.Scan(a.opts.ScenesDir, log)
	if err != nil {
		if errors.Is(err, source.ErrDirectoryNotFound) {
			a.metrics.Render(metrics.ResultNoDirectory)
		} else {
			a.metrics.Render(metrics.ResultOtherFailure)
		}
		return "", fmt.Errorf("scan %s: %w", a.opts.ScenesDir, err)
	}
	t.scan = time.Since(t.start)
	a.metrics.ScenesSkipped.Add(float64(len(inv.Skipped)))

	if len(inv.Scenes) == 0 {
		a.metrics.Render(metrics.ResultNoScenes)
		return "", fmt.Errorf("%w in %s", ErrNoScenesFound, a.opts.ScenesDir)
	}
	log.Info("scenes found",
		zap.String("dir", inv.Dir),
		zap.Int("scenes", len(inv.Scenes)),
		zap.Ints("skipped", inv.Skipped))

	probeStart := time.Now()
	fallbacks := a.prober.Fallbacks()
	for i := range inv.Scenes {
		sc := &inv.Scenes[i]
		sc.Duration = a.prober.Duration(ctx, sc.AudioPath)
		log.Debug("scene probed", zap.Int("scene", sc.Index), zap.Float64("duration", sc.Duration))
	}
	a.metrics.ProbeFallbacks.Add(float64(a.prober.Fallbacks() - fallbacks))
	t.probe = time.Since(probeStart)
	if err := ctx.Err(); err != nil {
		a.metrics.Render(metrics.ResultOtherFailure)
		return "", err
	}

	plan, err := renderer.Compile(inv.Scenes, a.cfg)
	if err != nil {
		a.metrics.Render(metrics.ResultOtherFailure)
		return "", fmt.Errorf("compile filter graph: %w", err)
	}
	log.Debug("filter graph compiled",
		zap.Int("inputs", len(plan.Inputs)),
		zap.String("filter_complex", plan.FilterComplex()))

	if err := os.MkdirAll(a.opts.OutputDir, 0755); err != nil {
		a.metrics.Render(metrics.ResultOtherFailure)
		return "", fmt.Errorf("create output dir: %w", err)
	}
	output := filepath.Join(a.opts.OutputDir, a.cfg.VideoSettings.OutputFileName)

	if a.opts.ManifestPath != "" {
		if err := a.writeManifest(renderID, output, inv, plan, log); err != nil {
			a.metrics.Render(metrics.ResultOtherFailure)
			return "", err
		}
	}

	log.Info("transcoding",
		zap.Int("scenes", plan.Scenes),
		zap.Float64("expected_seconds", plan.TotalDuration()),
		zap.String("output", output))

	transcodeStart := time.Now()
	path, err := a.transcoder.Transcode(ctx, video.Job{Plan: plan, OutputPath: output})
	t.transcode = time.Since(transcodeStart)
	a.metrics.TranscodeDuration.Observe(t.transcode.Seconds())
	if err != nil {
		if errors.Is(err, video.ErrTranscodeFailed) {
			a.metrics.Render(metrics.ResultTranscodeFailed)
		} else {
			a.metrics.Render(metrics.ResultOtherFailure)
		}
		return "", fmt.Errorf("render %s: %w", output, err)
	}

	a.metrics.Render(metrics.ResultSuccess)
	a.metrics.ScenesRendered.Set(float64(plan.Scenes))
	log.Info("video ready", zap.String("path", path), zap.Duration("elapsed", time.Since(t.start)))

	if a.opts.ShowStats {
		a.report(t, plan, log)
	}
	return path, nil
}

func (a *Assembler) writeManifest(renderID, output string, inv *source.Inventory, plan *renderer.Plan, log *zap.Logger) error {
	m := manifest.New(renderID, output, a.cfg, inv, plan)
	for i := range m.Scenes {
		w, h, format, err := source.ImageDimensions(m.Scenes[i].Image)
		if err != nil {
			// ffmpeg may still decode formats the header reader does not know.
			log.Debug("image size unknown", zap.String("image", m.Scenes[i].Image), zap.Error(err))
			continue
		}
		m.Scenes[i].Size = manifest.Size{Width: w, Height: h, Format: format}
	}
	if err := manifest.Write(m, a.opts.ManifestPath); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	log.Debug("manifest written", zap.String("path", a.opts.ManifestPath))
	return nil
}

func (a *Assembler) report(t timings, plan *renderer.Plan, log *zap.Logger) {
	total := time.Since(t.start)
	seconds := plan.TotalDuration()
	speed := 0.0
	if t.transcode > 0 {
		speed = seconds / t.transcode.Seconds()
	}

	fields := []zap.Field{
		zap.String("build", a.opts.BuildVersion),
		zap.Int("scenes", plan.Scenes),
		zap.Float64("video_seconds", seconds),
		zap.Duration("total", total),
		zap.Duration("scan", t.scan),
		zap.Duration("probe", t.probe),
		zap.Duration("transcode", t.transcode),
		zap.Float64("speed", speed),
	}
	host, err := system.HostSnapshot()
	if err != nil {
		log.Debug("host snapshot incomplete", zap.Error(err))
	}
	fields = append(fields, host.Fields()...)
	log.Info("performance report", fields...)

	if a.opts.BenchmarkLog == "" {
		return
	}
	line := fmt.Sprintf("[%s] Build: %s | Scenes: %s | Count: %d | Video: %.2fs | Total: %.2fs | Probe: %.2fs | Transcode: %.2fs | Speed: %.2fx\n",
		time.Now().Format("2006-01-02 15:04:05"),
		a.opts.BuildVersion,
		filepath.Base(a.opts.ScenesDir),
		plan.Scenes,
		seconds,
		total.Seconds(),
		t.probe.Seconds(),
		t.transcode.Seconds(),
		speed,
	)
	f, err := os.OpenFile(a.opts.BenchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("cannot write benchmark log", zap.String("path", a.opts.BenchmarkLog), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		log.Warn("cannot write benchmark log", zap.String("path", a.opts.BenchmarkLog), zap.Error(err))
	}
}
