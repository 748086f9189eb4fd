package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/inference/preprocess"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/models/postprocess"
	"github.com/nvr-ai/live-detect/models/yolo"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/viewport"
)

var testGeometry = inference.Geometry{
	InputSize:    8,
	ChannelCount: 3,
	BatchSize:    1,
	ClassCount:   2,
	AnchorCount:  4,
}

func testConfig() Config {
	return Config{
		Geometry:            testGeometry,
		ColorMode:           preprocess.ColorModeRGB,
		ConfidenceThreshold: 0.5,
		NMS:                 postprocess.NMSConfig{IoUThreshold: 0.5},
		CaptureAspect:       images.AspectRatio169,
		Viewport:            viewport.Size{Width: 16, Height: 9},
	}
}

func testLabels() *models.ClassLabelTable {
	return models.NewClassLabelTable([]string{"person", "bicycle"})
}

// detectionsOutput has two overlapping class-1 boxes and one class-0 box.
func detectionsOutput() *tensor.Dense {
	const anchors = 4
	data := make([]float32, (4+2)*anchors)
	put := func(row, anchor int, v float32) { data[row*anchors+anchor] = v }
	box := func(anchor int, cx, cy, w, h float32) {
		put(0, anchor, cx)
		put(1, anchor, cy)
		put(2, anchor, w)
		put(3, anchor, h)
	}

	box(0, 4, 4, 2, 2)
	put(5, 0, 0.9)
	box(1, 4, 4, 2, 2)
	put(5, 1, 0.8)
	box(2, 2, 2, 2, 2)
	put(4, 2, 0.7)

	return tensor.New(tensor.WithShape(1, 6, anchors), tensor.WithBacking(data))
}

type fakeEngine struct {
	output  func() (*tensor.Dense, error)
	started chan struct{}
	gate    chan struct{}
	calls   atomic.Int32
}

func (e *fakeEngine) Run(ctx context.Context, input []float32) (*tensor.Dense, error) {
	e.calls.Add(1)
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) != testGeometry.InputLen() {
		return nil, errors.Errorf("bad input length %d", len(input))
	}
	if e.output == nil {
		return detectionsOutput(), nil
	}
	return e.output()
}

func (e *fakeEngine) Close() error { return nil }

type bufferedEngine struct {
	fakeEngine
	buf     []float32
	inPlace atomic.Bool
}

func (e *bufferedEngine) InputBuffer() []float32 { return e.buf }

func (e *bufferedEngine) Run(ctx context.Context, input []float32) (*tensor.Dense, error) {
	e.inPlace.Store(&input[0] == &e.buf[0])
	return e.fakeEngine.Run(ctx, input)
}

// releaseCounter hands out frames and counts how often each one is released.
type releaseCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newReleaseCounter() *releaseCounter {
	return &releaseCounter{counts: make(map[string]int)}
}

func (r *releaseCounter) frame(source string) *Frame {
	return &Frame{
		Image: images.Image{
			Format: images.FormatRGB24,
			Data:   make([]byte, 8*8*3),
			Width:  8,
			Height: 8,
		},
		Source: source,
		Release: func() {
			r.mu.Lock()
			r.counts[source]++
			r.mu.Unlock()
		},
	}
}

func (r *releaseCounter) count(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[source]
}

func (r *releaseCounter) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []*Snapshot
	ch    chan *Snapshot
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan *Snapshot, 1024)}
}

func (s *recordingSink) Deliver(snap *Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	s.ch <- snap
}

func (s *recordingSink) seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.snaps))
	for i, snap := range s.snaps {
		out[i] = snap.Seq
	}
	return out
}

func newPipeline(t *testing.T, engine inference.Engine, deps Dependencies) *Pipeline {
	t.Helper()
	deps.Engine = engine
	if deps.Labels == nil {
		deps.Labels = testLabels()
	}
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	p, err := New(testConfig(), deps)
	require.NoError(t, err)
	return p
}

func runPipeline(t *testing.T, p *Pipeline) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestNew_ConfigErrors(t *testing.T) {
	testCases := []struct {
		name       string
		mutate     func(*Config, *Dependencies)
		wantConfig bool
	}{
		{"missing engine", func(_ *Config, d *Dependencies) { d.Engine = nil }, false},
		{"missing labels", func(_ *Config, d *Dependencies) { d.Labels = nil }, true},
		{"label count mismatch", func(_ *Config, d *Dependencies) {
			d.Labels = models.NewClassLabelTable([]string{"person"})
		}, true},
		{"invalid geometry", func(c *Config, _ *Dependencies) { c.Geometry.BatchSize = 2 }, false},
		{"confidence out of range", func(c *Config, _ *Dependencies) { c.ConfidenceThreshold = 2 }, false},
		{"iou threshold zero", func(c *Config, _ *Dependencies) { c.NMS.IoUThreshold = 0 }, false},
		{"bad aspect", func(c *Config, _ *Dependencies) { c.CaptureAspect = "wide" }, false},
		{"bad color mode", func(c *Config, _ *Dependencies) { c.ColorMode = preprocess.ColorMode(9) }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			deps := Dependencies{Engine: &fakeEngine{}, Labels: testLabels()}
			tc.mutate(&cfg, &deps)

			p, err := New(cfg, deps)
			require.Error(t, err)
			assert.Nil(t, p)

			var cfgErr *models.ConfigError
			assert.Equal(t, tc.wantConfig, errors.As(err, &cfgErr))
		})
	}
}

func TestProcess_Success(t *testing.T) {
	sink := newRecordingSink()
	p := newPipeline(t, &fakeEngine{}, Dependencies{Sink: sink})
	frames := newReleaseCounter()

	f := frames.frame("cam")
	f.Seq = 7
	f.Timestamp = time.Unix(100, 0)

	snap, err := p.Process(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 1, frames.count("cam"))

	require.Len(t, snap.ModelDetections, 2)
	// Ascending class: class 0 first, then the surviving class 1 box.
	assert.Equal(t, 0, snap.ModelDetections[0].Class)
	assert.Equal(t, 2, snap.ModelDetections[0].Anchor)
	assert.Equal(t, 1, snap.ModelDetections[1].Class)
	assert.Equal(t, 0, snap.ModelDetections[1].Anchor)
	assert.Equal(t, images.Rect{X1: 1, Y1: 1, X2: 3, Y2: 3}, snap.ModelDetections[0].Box)

	// 16x9 viewport: scaleX 2, scaleY 1.125, no vertical shift.
	require.Len(t, snap.Detections, 2)
	got := snap.Detections[0].Box
	assert.InDelta(t, 2, got.X1, 1e-4)
	assert.InDelta(t, 1.125, got.Y1, 1e-4)
	assert.InDelta(t, 6, got.X2, 1e-4)
	assert.InDelta(t, 3.375, got.Y2, 1e-4)

	assert.Equal(t, uint64(7), snap.Seq)
	assert.Equal(t, "cam", snap.Source)
	assert.Equal(t, time.Unix(100, 0), snap.Timestamp)
	assert.Equal(t, viewport.Size{Width: 16, Height: 9}, snap.Viewport)

	assert.Same(t, snap, p.Latest())
	assert.Equal(t, []uint64{7}, sink.seqs())
	assert.Equal(t, Stats{Processed: 1}, p.Stats())
}

func TestProcess_ZeroCandidates(t *testing.T) {
	engine := &fakeEngine{output: func() (*tensor.Dense, error) {
		return tensor.New(tensor.WithShape(1, 6, 4), tensor.WithBacking(make([]float32, 24))), nil
	}}
	p := newPipeline(t, engine, Dependencies{})

	snap, err := p.Process(context.Background(), newReleaseCounter().frame("cam"))
	require.NoError(t, err)
	assert.NotNil(t, snap.Detections)
	assert.Empty(t, snap.Detections)
	assert.Empty(t, snap.ModelDetections)
}

var errDeviceLost = errors.New("device lost")

func TestProcess_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		engine   *fakeEngine
		image    func(*Frame)
		stage    Stage
		matchErr func(error) bool
	}{
		{
			name:   "invalid image",
			engine: &fakeEngine{},
			image:  func(f *Frame) { f.Image.Data = nil },
			stage:  StageEncoded,
			matchErr: func(err error) bool {
				var invalid *preprocess.InvalidImageError
				return errors.As(err, &invalid)
			},
		},
		{
			name: "engine failure",
			engine: &fakeEngine{output: func() (*tensor.Dense, error) {
				return nil, errDeviceLost
			}},
			stage:    StageInferred,
			matchErr: func(err error) bool { return errors.Is(err, errDeviceLost) },
		},
		{
			name: "shape mismatch",
			engine: &fakeEngine{output: func() (*tensor.Dense, error) {
				return tensor.New(tensor.WithShape(1, 6, 5), tensor.WithBacking(make([]float32, 30))), nil
			}},
			stage: StageDecoded,
			matchErr: func(err error) bool {
				var mismatch *yolo.ShapeMismatchError
				return errors.As(err, &mismatch)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			sink := newRecordingSink()
			p := newPipeline(t, tc.engine, Dependencies{Sink: sink, Logger: zap.New(core)})
			frames := newReleaseCounter()

			f := frames.frame("cam")
			f.Seq = 3
			if tc.image != nil {
				tc.image(f)
			}

			snap, err := p.Process(context.Background(), f)
			require.Error(t, err)
			assert.Nil(t, snap)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tc.stage, stageErr.Stage)
			assert.Equal(t, uint64(3), stageErr.Seq)
			assert.True(t, tc.matchErr(err), "unexpected cause: %v", err)

			assert.Equal(t, 1, frames.count("cam"))
			assert.Nil(t, p.Latest())
			assert.Empty(t, sink.seqs())
			assert.Equal(t, Stats{Failed: 1}, p.Stats())

			entries := logs.FilterMessage("frame failed").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tc.stage.String(), entries[0].ContextMap()["stage"])
			assert.Equal(t, uint64(3), entries[0].ContextMap()["frame"])
		})
	}
}

func TestProcess_EncodesIntoEngineBuffer(t *testing.T) {
	engine := &bufferedEngine{buf: make([]float32, testGeometry.InputLen())}
	p := newPipeline(t, engine, Dependencies{})

	_, err := p.Process(context.Background(), newReleaseCounter().frame("cam"))
	require.NoError(t, err)
	assert.True(t, engine.inPlace.Load())
}

func TestSubmit_KeepsOnlyLatest(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := newRecordingSink()
	p := newPipeline(t, &fakeEngine{}, Dependencies{Sink: sink, Logger: zap.New(core)})
	frames := newReleaseCounter()

	p.Submit(frames.frame("a"))
	p.Submit(frames.frame("b"))
	p.Submit(frames.frame("c"))

	assert.Equal(t, 1, frames.count("a"))
	assert.Equal(t, 1, frames.count("b"))
	assert.Equal(t, 0, frames.count("c"))

	dropped := logs.FilterMessage("dropped frame").All()
	require.Len(t, dropped, 2)
	assert.Equal(t, uint64(1), dropped[0].ContextMap()["frame"])
	assert.Equal(t, uint64(2), dropped[0].ContextMap()["superseded_by"])
	assert.Equal(t, "a", dropped[0].ContextMap()["source"])

	cancel, done := runPipeline(t, p)

	snap := <-sink.ch
	assert.Equal(t, uint64(3), snap.Seq)
	assert.Equal(t, "c", snap.Source)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, Stats{Submitted: 3, Dropped: 2, Processed: 1}, p.Stats())
	assert.Equal(t, 1, frames.count("c"))
}

func TestRun_DropsFramesWhileBusy(t *testing.T) {
	engine := &fakeEngine{started: make(chan struct{}), gate: make(chan struct{})}
	sink := newRecordingSink()
	p := newPipeline(t, engine, Dependencies{Sink: sink})
	frames := newReleaseCounter()

	cancel, done := runPipeline(t, p)

	p.Submit(frames.frame("1"))
	<-engine.started

	// The worker is inside inference; these queue behind it and only the newest survives.
	p.Submit(frames.frame("2"))
	p.Submit(frames.frame("3"))
	assert.Equal(t, 1, frames.count("2"))

	engine.gate <- struct{}{}
	<-engine.started
	engine.gate <- struct{}{}

	<-sink.ch
	<-sink.ch
	assert.Equal(t, []uint64{1, 3}, sink.seqs())

	cancel()
	<-done
	assert.Equal(t, Stats{Submitted: 3, Dropped: 1, Processed: 2}, p.Stats())
}

func TestRun_ReleasesPendingFrameOnStop(t *testing.T) {
	p := newPipeline(t, &fakeEngine{}, Dependencies{})
	frames := newReleaseCounter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Submit(frames.frame("pending"))
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
	assert.Equal(t, 1, frames.count("pending"))

	// Frames submitted after the pipeline stopped are released straight away.
	p.Submit(frames.frame("late"))
	assert.Equal(t, 1, frames.count("late"))

	s := p.Stats()
	assert.Equal(t, uint64(2), s.Submitted)
	assert.Equal(t, s.Submitted, s.Processed+s.Failed+s.Dropped)
}

func TestRun_AlreadyRunning(t *testing.T) {
	engine := &fakeEngine{started: make(chan struct{}), gate: make(chan struct{})}
	p := newPipeline(t, engine, Dependencies{})

	cancel, done := runPipeline(t, p)
	p.Submit(newReleaseCounter().frame("x"))
	<-engine.started

	assert.Error(t, p.Run(context.Background()))

	cancel()
	<-done
}

func TestRun_ConcurrentSubmit(t *testing.T) {
	const total = 300

	sink := newRecordingSink()
	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})
	p := newPipeline(t, &fakeEngine{}, Dependencies{Sink: sink, Profiler: prof})
	frames := newReleaseCounter()

	cancel, done := runPipeline(t, p)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < total/3; i++ {
				p.Submit(frames.frame(fmt.Sprintf("%d-%d", w, i)))
				p.SetViewport(1080+i, 1920)
				_ = p.Latest()
			}
		}(w)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Processed+s.Failed+s.Dropped == total
	}, 5*time.Second, time.Millisecond)

	cancel()
	<-done

	s := p.Stats()
	assert.Equal(t, uint64(total), s.Submitted)
	assert.Equal(t, s.Submitted, s.Processed+s.Failed+s.Dropped)
	assert.Equal(t, total, frames.total(), "every frame is released exactly once")

	seqs := sink.seqs()
	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i])
	}

	report := prof.Report()
	assert.Contains(t, report.Operations, "infer")
	assert.Contains(t, report.Operations, "suppress")
	assert.Equal(t, int64(s.Processed), report.Metrics["detections"].Count)
}

func TestSetViewport(t *testing.T) {
	p := newPipeline(t, &fakeEngine{}, Dependencies{})
	frames := newReleaseCounter()

	first, err := p.Process(context.Background(), frames.frame("1"))
	require.NoError(t, err)

	p.SetViewport(1080, 1920)
	assert.Equal(t, viewport.Size{Width: 1080, Height: 1920}, p.Viewport())

	second, err := p.Process(context.Background(), frames.frame("2"))
	require.NoError(t, err)

	assert.Equal(t, viewport.Size{Width: 16, Height: 9}, first.Viewport)
	assert.Equal(t, viewport.Size{Width: 1080, Height: 1920}, second.Viewport)
	assert.Equal(t, first.ModelDetections, second.ModelDetections)
	assert.NotEqual(t, first.Detections, second.Detections)

	// An unusable viewport keeps model coordinates.
	p.SetViewport(0, 0)
	third, err := p.Process(context.Background(), frames.frame("3"))
	require.NoError(t, err)
	assert.Equal(t, third.ModelDetections, third.Detections)
}

func TestCollectMetrics(t *testing.T) {
	p := newPipeline(t, &fakeEngine{}, Dependencies{})
	p.Submit(newReleaseCounter().frame("a"))
	p.Submit(newReleaseCounter().frame("b"))

	m := p.CollectMetrics()
	assert.Equal(t, 2.0, m["frames_submitted"])
	assert.Equal(t, 1.0, m["frames_dropped"])
}

func TestStage_String(t *testing.T) {
	testCases := []struct {
		stage Stage
		want  string
	}{
		{StageCaptured, "captured"},
		{StageEncoded, "encoded"},
		{StageInferred, "inferred"},
		{StageDecoded, "decoded"},
		{StageSuppressed, "suppressed"},
		{StageMapped, "mapped"},
		{StageDelivered, "delivered"},
		{Stage(42), "stage(42)"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, tc.stage.String())
	}

	err := &StageError{Stage: StageInferred, Seq: 9, Err: errors.New("boom")}
	assert.Equal(t, "frame 9 not inferred: boom", err.Error())
}
