package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/live-detect/camera"
	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/controller"
	"github.com/nvr-ai/live-detect/inference/providers"
	"github.com/nvr-ai/live-detect/logging"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/storage"
)

// drainPoll is how often a finished replay checks whether the pipeline is idle.
const drainPoll = 10 * time.Millisecond

// loadConfig reads the optional config file and applies the flags the user set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Parse(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet(flagModel) {
		cfg.Model.Provider.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagLabels) {
		cfg.Model.LabelsPath = c.String(flagLabels)
	}
	if c.IsSet(flagBackend) {
		cfg.Model.Provider.Backend = providers.ProviderBackend(c.String(flagBackend))
	}
	if c.IsSet(flagDevice) {
		cfg.Camera.Device.DeviceID = c.Int(flagDevice)
	}
	if c.IsSet(flagVideo) {
		cfg.Camera.Device.Path = c.String(flagVideo)
	}
	if c.IsSet(flagFramesDir) {
		cfg.Camera.FramesDir = c.String(flagFramesDir)
	}
	if c.IsSet(flagLoop) {
		cfg.Camera.Loop = c.Bool(flagLoop)
	}
	if c.IsSet(flagConfidence) {
		cfg.Detection.Confidence = float32(c.Float64(flagConfidence))
	}
	if c.IsSet(flagIoU) {
		cfg.Detection.IoU = float32(c.Float64(flagIoU))
	}
	if c.IsSet(flagOutputDir) {
		cfg.Output.Dir = c.String(flagOutputDir)
	}
	if c.IsSet(flagShowWindow) {
		cfg.Display.ShowWindow = c.Bool(flagShowWindow)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openSource opens the frame directory when one is configured, else the capture device.
func openSource(cfg *config.Config, logger *zap.Logger) (camera.Source, error) {
	if cfg.Camera.FramesDir != "" {
		return camera.NewDirectory(cfg.Camera.FramesDir, cfg.Camera.FPS, cfg.Camera.Loop, logger)
	}
	return camera.OpenDevice(cfg.Camera.Device, logger)
}

func run(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	labels, err := cfg.Labels()
	if err != nil {
		return err
	}
	pipelineConfig, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}
	outputDir, err := cfg.OutputDir()
	if err != nil {
		return err
	}

	var prof *profiler.RuntimeProfiler
	if cfg.Profiler.Enabled {
		prof = profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
			ReportInterval: cfg.Profiler.ReportInterval,
			Logger:         logger.Named("profiler"),
		})
	}

	session, err := providers.NewSession(cfg.Model.Provider, cfg.Model.Geometry, logger.Named("inference"))
	if err != nil {
		return errors.Wrap(err, "failed to create inference session")
	}
	defer func() {
		err = multierr.Combine(err, session.Close(), providers.Shutdown())
	}()

	pipelineLogger := logger.Named("pipeline")
	pipeline, err := controller.New(pipelineConfig, controller.Dependencies{
		Engine:   session,
		Labels:   labels,
		Sink:     logSink(pipelineLogger, labels.Name),
		Logger:   pipelineLogger,
		Profiler: prof,
	})
	if err != nil {
		return err
	}

	source, err := openSource(cfg, logger.Named("camera"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, source.Close()) }()

	overlay, err := render.NewOverlay(labels)
	if err != nil {
		return err
	}
	gallery := storage.NewGallery(outputDir, cfg.Output.App, logger.Named("storage"))
	capturer := controller.NewCapturer(pipeline, source, overlay, gallery, logger.Named("capture"))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if prof != nil {
		prof.Start()
		defer prof.Stop()
	}

	logger.Info("live-detect starting",
		zap.String("model", cfg.Model.Provider.ModelPath),
		zap.String("backend", string(session.Backend())),
		zap.Int("classes", labels.Len()),
		zap.Stringer("viewport", pipeline.Viewport()),
		zap.String("captures", gallery.Dir()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := pipeline.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := source.Stream(gctx, pipeline); err != nil {
			return errors.Wrap(err, "camera stopped")
		}
		// A finished replay stops the program once its last frame is through.
		if !drain(gctx, pipeline) {
			return nil
		}
		logger.Info("frame source exhausted")
		cancel()
		return nil
	})

	if cfg.Display.ShowWindow {
		previewLoop(ctx, cancel, preview{
			pipeline: pipeline,
			source:   source,
			overlay:  overlay,
			capturer: capturer,
			logger:   logger.Named("preview"),
		})
		cancel()
	}

	err = g.Wait()
	stats := pipeline.Stats()
	logger.Info("live-detect stopped",
		zap.Uint64("submitted", stats.Submitted),
		zap.Uint64("processed", stats.Processed),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("failed", stats.Failed),
	)
	return err
}

// drain waits until every submitted frame has been processed, failed or dropped. It
// reports false if ctx ends first.
func drain(ctx context.Context, p *controller.Pipeline) bool {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		s := p.Stats()
		if s.Processed+s.Failed+s.Dropped >= s.Submitted {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// logSink logs a one-line summary of each snapshot at debug level.
func logSink(logger *zap.Logger, name func(int) string) controller.Sink {
	return controller.SinkFunc(func(s *controller.Snapshot) {
		if ce := logger.Check(zap.DebugLevel, "frame detected"); ce != nil {
			classes := make([]string, len(s.Detections))
			for i, d := range s.Detections {
				classes[i] = name(d.Class)
			}
			ce.Write(
				zap.Uint64("frame", s.Seq),
				zap.String("source", s.Source),
				zap.Strings("classes", classes),
			)
		}
	})
}
