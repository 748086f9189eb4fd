package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/live-detect/controller"
	"github.com/nvr-ai/live-detect/images"
)

// DeviceConfig selects and configures a capture device.
type DeviceConfig struct {
	// DeviceID is the camera index, used when Path is empty.
	DeviceID int `json:"deviceId" yaml:"deviceId"`
	// Path is a video file or stream URL to read instead of a camera.
	Path string `json:"path" yaml:"path"`
	// Resolution requests a capture size; empty keeps the device default.
	Resolution images.ResolutionType `json:"resolution" yaml:"resolution"`
	// FPS limits how often frames are published; 0 publishes as fast as they are read.
	FPS float64 `json:"fps" yaml:"fps"`
}

func (c DeviceConfig) name() string {
	if c.Path != "" {
		return c.Path
	}
	return fmt.Sprintf("device-%d", c.DeviceID)
}

type stillResult struct {
	img image.Image
	err error
}

// Device reads BGR frames from an OpenCV video capture.
//
// Published frames carry bgr24 buffers from an internal pool; the pipeline hands each
// buffer back through Frame.Release.
type Device struct {
	cfg     DeviceConfig
	capture *gocv.VideoCapture
	mat     gocv.Mat
	pool    sync.Pool
	stills  chan chan stillResult
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Source = (*Device)(nil)

// OpenDevice opens a camera or video and applies the requested resolution.
//
// Arguments:
//   - cfg: The device configuration.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Device: The open device. Close releases it.
//   - error: An error if the device cannot be opened or the resolution is unknown.
func OpenDevice(cfg DeviceConfig, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var res images.Resolution
	if cfg.Resolution != "" {
		var ok bool
		if res, ok = images.GetResolutionByType(cfg.Resolution); !ok {
			return nil, errors.Errorf("unknown resolution %q", cfg.Resolution)
		}
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if cfg.Path != "" {
		capture, err = gocv.OpenVideoCapture(cfg.Path)
	} else {
		capture, err = gocv.OpenVideoCapture(cfg.DeviceID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", cfg.name())
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, errors.Errorf("%s is not available", cfg.name())
	}

	if cfg.Resolution != "" {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(res.Pixels.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(res.Pixels.Height))
	}

	logger.Info("capture device opened",
		zap.String("source", cfg.name()),
		zap.Float64("width", capture.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", capture.Get(gocv.VideoCaptureFrameHeight)),
		zap.Float64("device_fps", capture.Get(gocv.VideoCaptureFPS)),
	)

	return &Device{
		cfg:     cfg,
		capture: capture,
		mat:     gocv.NewMat(),
		stills:  make(chan chan stillResult),
		logger:  logger,
	}, nil
}

// Stream reads frames until ctx is done or the capture ends.
//
// Returns:
//   - error: nil when ctx is cancelled, an error when the device stops delivering frames.
func (d *Device) Stream(ctx context.Context, pub Publisher) error {
	pace := newPacer(d.cfg.FPS)
	defer pace.stop()

	for pace.wait(ctx) {
		if ok := d.capture.Read(&d.mat); !ok {
			return errors.Errorf("cannot read %s", d.cfg.name())
		}
		if d.mat.Empty() {
			continue
		}

		select {
		case req := <-d.stills:
			img, err := d.mat.ToImage()
			req <- stillResult{img: img, err: errors.Wrap(err, "failed to convert still")}
		default:
		}

		frame, err := d.frame()
		if err != nil {
			d.logger.Warn("skipping unreadable frame", zap.Error(err))
			continue
		}
		pub.Submit(frame)
	}
	return nil
}

// frame copies the current Mat into a pooled bgr24 buffer.
func (d *Device) frame() (*controller.Frame, error) {
	if d.mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.Errorf("unexpected mat type %v", d.mat.Type())
	}
	data, err := d.mat.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access frame data")
	}

	w, h := d.mat.Cols(), d.mat.Rows()
	size := w * h * 3
	if len(data) < size {
		return nil, errors.Errorf("frame holds %d bytes, want %d", len(data), size)
	}

	buf := d.buffer(size)
	copy(*buf, data[:size])

	return &controller.Frame{
		Image: images.Image{
			Format: images.FormatBGR24,
			Data:   *buf,
			Width:  w,
			Height: h,
		},
		Timestamp: time.Now(),
		Source:    d.cfg.name(),
		Release:   func() { d.pool.Put(buf) },
	}, nil
}

func (d *Device) buffer(size int) *[]byte {
	if v, ok := d.pool.Get().(*[]byte); ok && cap(*v) >= size {
		*v = (*v)[:size]
		return v
	}
	b := make([]byte, size)
	return &b
}

// Still waits for the streaming loop to read its next frame and returns a copy of it.
func (d *Device) Still(ctx context.Context) (image.Image, error) {
	req := make(chan stillResult, 1)
	select {
	case d.stills <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the capture device. Stream must have returned first.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = multierr.Combine(d.mat.Close(), d.capture.Close())
	})
	return d.closeErr
}
