// Package controller - routes camera frames through encode, inference, decode, suppression
// and viewport mapping on a single worker, keeping only the newest unprocessed frame.
package controller

import (
	"time"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models/postprocess"
	"github.com/nvr-ai/live-detect/viewport"
)

// Frame is a single frame of video.
type Frame struct {
	// Seq is assigned by Pipeline.Submit and increases by one per submitted frame.
	Seq uint64
	// Image holds the pixels; it is only read until the frame is encoded.
	Image images.Image
	// Timestamp is the capture time.
	Timestamp time.Time
	// Source names the camera or file the frame came from.
	Source string
	// Release, if set, is called exactly once when the pipeline no longer needs Image.
	Release func()
}

// release hands the image buffer back to its producer. It is safe to call more than once.
func (f *Frame) release() {
	if f == nil || f.Release == nil {
		return
	}
	r := f.Release
	f.Release = nil
	r()
}

// Snapshot is the published result of one processed frame. It is never modified after
// it is published, so readers may share it freely.
type Snapshot struct {
	Seq       uint64
	Timestamp time.Time
	Source    string
	// Detections are in viewport coordinates.
	Detections []postprocess.Result
	// ModelDetections are the same detections in model-input pixels.
	ModelDetections []postprocess.Result
	// Viewport is the size Detections were mapped into.
	Viewport viewport.Size
}

// Sink receives every published snapshot on the pipeline's worker goroutine.
type Sink interface {
	Deliver(snapshot *Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(snapshot *Snapshot)

// Deliver calls f(snapshot).
func (f SinkFunc) Deliver(snapshot *Snapshot) { f(snapshot) }
