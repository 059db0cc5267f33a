package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivlev/scene2video/internal/config"
	"github.com/ivlev/scene2video/internal/engine"
	"github.com/ivlev/scene2video/internal/logging"
	"github.com/ivlev/scene2video/internal/metrics"
	"github.com/ivlev/scene2video/internal/probe"
	"github.com/ivlev/scene2video/internal/system"
	"github.com/ivlev/scene2video/internal/video"
)

// BuildVersion is set with -ldflags "-X main.BuildVersion=...".
var BuildVersion = "dev"

type options struct {
	scenesDir    string
	outputDir    string
	configPath   string
	manifestPath string
	metricsFile  string
	benchmarkLog string
	ffmpegBin    string
	ffprobeBin   string
	timeout      time.Duration
	stats        bool
	verbose      bool
	logFile      string
}

func main() {
	// A missing .env is normal; anything else is worth failing on.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		var le loggedError
		if !errors.As(err, &le) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loggedError marks an error that already went through the logger.
type loggedError struct{ err error }

func (e loggedError) Error() string { return e.err.Error() }
func (e loggedError) Unwrap() error { return e.err }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "scene2video",
		Short: "Assemble numbered scene assets into one video",
		Long: `scene2video reads scene_<N>.mp3 / scene_<N>.png pairs (and optional
scene_<N>_logo.png overlays) from a directory, sizes every still to its
narration and concatenates the scenes in index order with ffmpeg.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.scenesDir, "scenes", envOr("SCENE2VIDEO_SCENES_DIR", "temp_assets"), "directory with scene assets")
	f.StringVar(&opts.outputDir, "output-dir", envOr("SCENE2VIDEO_OUTPUT_DIR", "output"), "directory for the finished video")
	f.StringVar(&opts.configPath, "config", envOr("SCENE2VIDEO_CONFIG", "config.json"), "render config (JSON or YAML); missing file means defaults")
	f.StringVar(&opts.manifestPath, "manifest", "", "write a YAML render manifest to this path")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	f.StringVar(&opts.benchmarkLog, "benchmark-log", "benchmark.log", "append a timing line here when --stats is set (empty disables)")
	f.StringVar(&opts.ffmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary")
	f.StringVar(&opts.ffprobeBin, "ffprobe", "ffprobe", "ffprobe binary")
	f.DurationVar(&opts.timeout, "timeout", 0, "abort the render after this long (0 = no limit)")
	f.BoolVar(&opts.stats, "stats", false, "log a performance report")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging, including ffmpeg output")
	f.StringVar(&opts.logFile, "log-file", "", "also append JSON logs to this file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(BuildVersion)
		},
	})
	return cmd
}

func run(ctx context.Context, opts *options) error {
	log, closeLog, err := logging.New(opts.verbose, opts.logFile)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	system.InitResourceLimits(system.DefaultOpenFiles, log)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Error("invalid config", zap.String("path", opts.configPath), zap.Error(err))
		return loggedError{err}
	}
	log.Debug("config loaded",
		zap.String("path", opts.configPath),
		zap.Int("width", cfg.VideoSettings.Width),
		zap.Int("height", cfg.VideoSettings.Height),
		zap.Bool("logo", cfg.LogoOverlay.Enabled))

	m := metrics.New()
	a := engine.NewAssembler(engine.Options{
		ScenesDir:    opts.scenesDir,
		OutputDir:    opts.outputDir,
		ManifestPath: opts.manifestPath,
		ShowStats:    opts.stats,
		BenchmarkLog: opts.benchmarkLog,
		BuildVersion: BuildVersion,
	}, cfg,
		probe.New(opts.ffprobeBin, log),
		video.NewFFmpegTranscoder(opts.ffmpegBin, log),
		m, log)

	path, runErr := a.Run(ctx)

	if opts.metricsFile != "" {
		if err := m.WriteTextfile(opts.metricsFile); err != nil {
			log.Warn("cannot write metrics", zap.String("path", opts.metricsFile), zap.Error(err))
		}
	}

	if runErr != nil {
		log.Error("render failed", zap.Error(runErr))
		return loggedError{runErr}
	}
	fmt.Println(path)
	return nil
}
