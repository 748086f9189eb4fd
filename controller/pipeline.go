package controller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/inference/preprocess"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/models/postprocess"
	"github.com/nvr-ai/live-detect/models/yolo"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/viewport"
)

// Config holds the model and post-processing parameters of a pipeline.
type Config struct {
	Geometry            inference.Geometry
	ColorMode           preprocess.ColorMode
	ConfidenceThreshold float32
	NMS                 postprocess.NMSConfig
	// CaptureAspect is the camera's aspect ratio as seen in the preview.
	CaptureAspect images.AspectRatio
	// Viewport is the initial preview size; SetViewport changes it.
	Viewport viewport.Size
}

// Dependencies are the collaborators a pipeline drives.
type Dependencies struct {
	// Engine is required.
	Engine inference.Engine
	// Labels is required and must have Geometry.ClassCount entries.
	Labels *models.ClassLabelTable
	// Sink is optional.
	Sink Sink
	// Logger is optional.
	Logger *zap.Logger
	// Profiler is optional.
	Profiler *profiler.RuntimeProfiler
}

// Stats counts frames by outcome. Submitted == Processed + Failed + Dropped once the
// pipeline has stopped.
type Stats struct {
	Submitted uint64
	Dropped   uint64
	Processed uint64
	Failed    uint64
}

// inputBufferer is implemented by engines that let the codec write into their native
// input tensor.
type inputBufferer interface {
	InputBuffer() []float32
}

// Pipeline turns camera frames into published detection snapshots.
//
// Submit may be called from any goroutine and never blocks. Run is the single worker;
// frames it has not picked up yet are replaced by newer ones. Latest, Stats and
// SetViewport are safe from any goroutine.
type Pipeline struct {
	engine  inference.Engine
	labels  *models.ClassLabelTable
	encoder *preprocess.Encoder
	decoder yolo.Decoder
	nms     postprocess.NMSConfig
	mapper  viewport.Mapper
	sink    Sink
	logger  *zap.Logger
	prof    *profiler.RuntimeProfiler

	// input is only touched by the goroutine running Process.
	input []float32

	mailbox *mailbox
	running atomic.Bool
	seq     atomic.Uint64
	view    atomic.Pointer[viewport.Size]
	latest  atomic.Pointer[Snapshot]

	submitted atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// New validates the configuration and builds a pipeline.
//
// Every problem found here is a startup error: a missing engine, unusable geometry or
// thresholds, or a label table whose size differs from the model's class count.
//
// Arguments:
//   - cfg: The model and post-processing parameters.
//   - deps: The engine, labels and optional sink, logger and profiler.
//
// Returns:
//   - *Pipeline: The pipeline, ready for Submit and Run.
//   - error: A wrapped configuration error; label mismatches wrap *models.ConfigError.
func New(cfg Config, deps Dependencies) (*Pipeline, error) {
	if deps.Engine == nil {
		return nil, errors.New("inference engine is required")
	}
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model geometry")
	}
	if deps.Labels == nil {
		return nil, &models.ConfigError{Field: "labels", Reason: "label table is required"}
	}
	if err := deps.Labels.Validate(cfg.Geometry.ClassCount); err != nil {
		return nil, errors.Wrap(err, "label table does not match the model")
	}

	decoder := yolo.Decoder{
		ClassCount:          cfg.Geometry.ClassCount,
		AnchorCount:         cfg.Geometry.AnchorCount,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	}
	if err := decoder.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid decoder config")
	}
	if err := cfg.NMS.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid nms config")
	}

	mapper, err := viewport.NewMapper(cfg.Geometry.InputSize, cfg.CaptureAspect)
	if err != nil {
		return nil, errors.Wrap(err, "invalid viewport mapping")
	}

	encoder, err := preprocess.NewEncoder(preprocess.ModelConfig{
		Name:          "yolo",
		InputSize:     cfg.Geometry.InputSize,
		InputChannels: cfg.Geometry.ChannelCount,
		ColorMode:     cfg.ColorMode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid codec config")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		engine:  deps.Engine,
		labels:  deps.Labels,
		encoder: encoder,
		decoder: decoder,
		nms:     cfg.NMS,
		mapper:  mapper,
		sink:    deps.Sink,
		logger:  logger,
		prof:    deps.Profiler,
		mailbox: newMailbox(),
	}

	if b, ok := deps.Engine.(inputBufferer); ok && len(b.InputBuffer()) == cfg.Geometry.InputLen() {
		p.input = b.InputBuffer()
	} else {
		p.input = make([]float32, cfg.Geometry.InputLen())
	}

	view := cfg.Viewport
	p.view.Store(&view)

	if p.prof != nil {
		p.prof.AddMetricsCollector(p)
	}
	return p, nil
}

// Labels returns the class label table the pipeline was built with.
func (p *Pipeline) Labels() *models.ClassLabelTable {
	return p.labels
}

// Submit hands a frame to the worker without blocking.
//
// The frame is assigned the next sequence number. If the worker has not yet picked up
// the previously submitted frame, that frame is dropped and released. Frames submitted
// after Run has stopped are released immediately and counted as dropped.
func (p *Pipeline) Submit(f *Frame) {
	f.Seq = p.seq.Add(1)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	p.submitted.Add(1)

	dropped := p.mailbox.put(f)
	if dropped == nil {
		return
	}

	p.dropped.Add(1)
	p.logger.Debug("dropped frame",
		zap.Uint64("frame", dropped.Seq),
		zap.Uint64("superseded_by", f.Seq),
		zap.String("source", dropped.Source),
	)
	dropped.release()
}

// Run processes submitted frames one at a time until ctx is done.
//
// A frame that fails is logged and counted, never retried. The pipeline cannot be run
// again after Run returns; any frame still waiting is released.
//
// Returns:
//   - error: ctx.Err() once cancelled, or an error if Run is already active.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline is already running")
	}
	defer p.running.Store(false)

	stop := context.AfterFunc(ctx, func() {
		if f := p.mailbox.close(); f != nil {
			p.dropped.Add(1)
			f.release()
		}
	})
	defer stop()

	p.logger.Info("pipeline started", zap.Stringer("viewport", p.Viewport()))

	for {
		f := p.mailbox.take()
		if f == nil {
			break
		}
		_, _ = p.Process(ctx, f)
	}

	s := p.Stats()
	p.logger.Info("pipeline stopped",
		zap.Uint64("submitted", s.Submitted),
		zap.Uint64("processed", s.Processed),
		zap.Uint64("dropped", s.Dropped),
		zap.Uint64("failed", s.Failed),
	)
	return ctx.Err()
}

// Process runs one frame through every stage and publishes the snapshot.
//
// The frame's Release callback runs as soon as the frame is encoded, or when processing
// fails before that. Process must not be called concurrently with itself or with Run.
//
// Arguments:
//   - ctx: Passed to the inference engine.
//   - f: The frame to process.
//
// Returns:
//   - *Snapshot: The published snapshot.
//   - error: A *StageError naming the stage the frame failed to reach.
func (p *Pipeline) Process(ctx context.Context, f *Frame) (*Snapshot, error) {
	snap, err := p.process(ctx, f)
	if err != nil {
		p.failed.Add(1)
		var stage Stage
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		p.logger.Warn("frame failed",
			zap.Uint64("frame", f.Seq),
			zap.Stringer("stage", stage),
			zap.Error(err),
		)
		return nil, err
	}

	p.processed.Add(1)
	return snap, nil
}

func (p *Pipeline) process(ctx context.Context, f *Frame) (*Snapshot, error) {
	defer f.release()

	fail := func(stage Stage, err error) error {
		return &StageError{Stage: stage, Seq: f.Seq, Err: err}
	}

	done := p.time("encode")
	err := p.encoder.EncodeInto(f.Image, p.input)
	done()
	f.release()
	if err != nil {
		return nil, fail(StageEncoded, err)
	}

	done = p.time("infer")
	raw, err := p.engine.Run(ctx, p.input)
	done()
	if err != nil {
		return nil, fail(StageInferred, err)
	}

	done = p.time("decode")
	candidates, err := p.decoder.Decode(raw)
	done()
	if err != nil {
		return nil, fail(StageDecoded, err)
	}

	done = p.time("suppress")
	model := postprocess.Suppress(candidates, &p.nms)
	done()

	done = p.time("map")
	view := p.Viewport()
	mapped := p.mapper.MapSize(model, view)
	done()

	snap := &Snapshot{
		Seq:             f.Seq,
		Timestamp:       f.Timestamp,
		Source:          f.Source,
		Detections:      mapped,
		ModelDetections: model,
		Viewport:        view,
	}
	p.latest.Store(snap)

	if p.sink != nil {
		done = p.time("deliver")
		p.sink.Deliver(snap)
		done()
	}
	if p.prof != nil {
		p.prof.RecordMetric("detections", float64(len(model)))
	}
	return snap, nil
}

func (p *Pipeline) time(name string) func() {
	if p.prof == nil {
		return func() {}
	}
	return p.prof.StartOperation(name)
}

// Latest returns the most recently published snapshot, or nil before the first one.
func (p *Pipeline) Latest() *Snapshot {
	return p.latest.Load()
}

// SetViewport sets the preview size used for frames processed from now on.
func (p *Pipeline) SetViewport(width, height int) {
	p.view.Store(&viewport.Size{Width: width, Height: height})
}

// Viewport returns the current preview size.
func (p *Pipeline) Viewport() viewport.Size {
	return *p.view.Load()
}

// Stats returns the frame counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// CollectMetrics exposes the frame counters to the runtime profiler.
func (p *Pipeline) CollectMetrics() map[string]float64 {
	s := p.Stats()
	return map[string]float64{
		"frames_submitted": float64(s.Submitted),
		"frames_dropped":   float64(s.Dropped),
		"frames_processed": float64(s.Processed),
		"frames_failed":    float64(s.Failed),
	}
}
