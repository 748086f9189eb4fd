package camera

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/controller"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/util"
)

// Directory replays a frame-N.jpg/.png/.webp sequence as if it came from a camera.
type Directory struct {
	fps    float64
	loop   bool
	frames []images.Image
	paths  []string
	logger *zap.Logger

	mu   sync.Mutex
	last int
}

var _ Source = (*Directory)(nil)

// NewDirectory loads every frame in dir and reads their dimensions.
//
// Arguments:
//   - dir: The directory holding the frames.
//   - fps: The replay rate; 0 replays as fast as frames are accepted.
//   - loop: Whether to start over after the last frame.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Directory: The source.
//   - error: An error if the directory cannot be read, holds no frames, or a frame header
//     is unreadable.
func NewDirectory(dir string, fps float64, loop bool, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frames in %s", dir)
	}

	d := &Directory{fps: fps, loop: loop, logger: logger, last: -1}
	for _, f := range files {
		format, ok := images.FormatFromExt(f.Ext())
		if !ok {
			return nil, errors.Errorf("unsupported frame file %s", f.Path)
		}
		img, err := images.FromEncoded(format, f.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %s", f.Path)
		}
		d.frames = append(d.frames, img)
		d.paths = append(d.paths, f.Path)
	}

	logger.Info("frame directory loaded", zap.String("dir", dir), zap.Int("frames", len(d.frames)))
	return d, nil
}

// Len returns the number of frames in one pass.
func (d *Directory) Len() int {
	return len(d.frames)
}

// Stream publishes the frames in order, once or forever when looping.
//
// Returns:
//   - error: nil when the sequence is exhausted or ctx is cancelled.
func (d *Directory) Stream(ctx context.Context, pub Publisher) error {
	pace := newPacer(d.fps)
	defer pace.stop()

	for i := 0; pace.wait(ctx); i++ {
		if i == len(d.frames) {
			if !d.loop {
				return nil
			}
			i = 0
		}

		d.mu.Lock()
		d.last = i
		d.mu.Unlock()

		pub.Submit(&controller.Frame{
			Image:     d.frames[i],
			Timestamp: time.Now(),
			Source:    d.paths[i],
		})
	}
	return nil
}

// Still decodes the most recently published frame, or the first one before streaming.
func (d *Directory) Still(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	i := max(d.last, 0)
	d.mu.Unlock()

	img, err := images.Decode(d.frames[i])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", d.paths[i])
	}
	return img, nil
}

// Close is a no-op; frames are held in memory.
func (d *Directory) Close() error {
	return nil
}
