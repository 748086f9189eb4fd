package main

import (
	"context"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/live-detect/camera"
	"github.com/nvr-ai/live-detect/controller"
	"github.com/nvr-ai/live-detect/models/postprocess"
	"github.com/nvr-ai/live-detect/render"
)

const (
	keyCapture = 'c'
	keyQuit    = 'q'
	keyEscape  = 27

	// previewDelayMS is how long WaitKey polls the keyboard per preview frame.
	previewDelayMS = 15
)

type preview struct {
	pipeline *controller.Pipeline
	source   camera.Source
	overlay  *render.Overlay
	capturer *controller.Capturer
	logger   *zap.Logger
}

// previewLoop shows the camera with the latest detections drawn on top until ctx ends,
// the window is closed or the user quits. It must run on the main goroutine.
func previewLoop(ctx context.Context, cancel context.CancelFunc, p preview) {
	window := gocv.NewWindow("live-detect")
	defer window.Close()

	view := p.pipeline.Viewport()
	window.ResizeWindow(view.Width, view.Height)

	for ctx.Err() == nil && window.IsOpen() {
		still, err := p.source.Still(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("no preview frame", zap.Error(err))
			}
			return
		}

		var detections []postprocess.Result
		view := p.pipeline.Viewport()
		if snap := p.pipeline.Latest(); snap != nil {
			detections, view = snap.Detections, snap.Viewport
		}

		frame, err := p.overlay.Composite(still, detections, view)
		if err != nil {
			p.logger.Warn("cannot draw preview", zap.Error(err))
			continue
		}
		mat, err := gocv.ImageToMatRGB(frame)
		if err != nil {
			p.logger.Warn("cannot convert preview", zap.Error(err))
			continue
		}
		window.IMShow(mat)
		_ = mat.Close()

		switch window.WaitKey(previewDelayMS) {
		case keyCapture:
			go func() {
				res := <-p.capturer.CaptureAsync(ctx)
				p.logger.Info(res.Reason, zap.Bool("ok", res.OK), zap.String("path", res.Path))
			}()
		case keyQuit, keyEscape:
			cancel()
		}
	}
}
