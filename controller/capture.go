package controller

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/storage"
)

// StillSource produces a full-resolution still image on demand.
type StillSource interface {
	Still(ctx context.Context) (image.Image, error)
}

// SnapshotSource provides the latest published snapshot.
type SnapshotSource interface {
	Latest() *Snapshot
}

// Capturer saves the current camera image with the current detections drawn on top.
type Capturer struct {
	snapshots SnapshotSource
	stills    StillSource
	overlay   *render.Overlay
	sink      storage.Sink
	logger    *zap.Logger
	now       func() time.Time
}

// NewCapturer creates a capturer.
//
// Arguments:
//   - snapshots: Usually the Pipeline.
//   - stills: The camera still source.
//   - overlay: Draws the detections; nil saves the still without an overlay.
//   - sink: Where the composite is written.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Capturer: The capturer.
func NewCapturer(snapshots SnapshotSource, stills StillSource, overlay *render.Overlay, sink storage.Sink, logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		snapshots: snapshots,
		stills:    stills,
		overlay:   overlay,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// Capture takes a still, draws the latest detections over it and saves it as
// screenshot_<unix-millis>.jpg.
//
// The snapshot is read once, before the still is taken, so the boxes all come from the
// same frame. Detections are in viewport coordinates and are scaled by the still's size
// over the viewport size. A capture before the first snapshot saves the bare still.
//
// Arguments:
//   - ctx: Cancels taking the still and saving it.
//
// Returns:
//   - storage.Result: The outcome; failures only affect this capture.
func (c *Capturer) Capture(ctx context.Context) storage.Result {
	id := uuid.New()
	logger := c.logger.With(zap.Stringer("capture", id))

	snap := c.snapshots.Latest()

	still, err := c.stills.Still(ctx)
	if err != nil {
		logger.Warn("failed to take still", zap.Error(err))
		return storage.Result{Reason: "Failed to take picture: " + err.Error()}
	}

	out, err := c.composite(still, snap)
	if err != nil {
		logger.Warn("failed to draw capture overlay", zap.Error(err))
		return storage.Result{Reason: "Failed to draw detections: " + err.Error()}
	}

	name := storage.ScreenshotName(c.now())
	res := c.sink.Save(ctx, out, name, storage.MimeJPEG)

	fields := []zap.Field{zap.String("name", name), zap.Bool("ok", res.OK), zap.String("reason", res.Reason)}
	if snap != nil {
		fields = append(fields, zap.Uint64("frame", snap.Seq), zap.Int("detections", len(snap.Detections)))
	}
	logger.Info("capture finished", fields...)
	return res
}

func (c *Capturer) composite(still image.Image, snap *Snapshot) (image.Image, error) {
	if still == nil || still.Bounds().Empty() {
		return nil, errors.New("still image is empty")
	}
	if c.overlay == nil || snap == nil || !snap.Viewport.Valid() {
		return still, nil
	}
	return c.overlay.Composite(still, snap.Detections, snap.Viewport)
}

// CaptureAsync runs Capture on its own goroutine. The returned channel receives exactly
// one result and is then closed.
func (c *Capturer) CaptureAsync(ctx context.Context) <-chan storage.Result {
	ch := make(chan storage.Result, 1)
	go func() {
		defer close(ch)
		ch <- c.Capture(ctx)
	}()
	return ch
}
