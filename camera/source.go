// Package camera - frame sources that feed the detection pipeline.
package camera

import (
	"context"
	"image"
	"time"

	"github.com/nvr-ai/live-detect/controller"
)

// Publisher accepts frames without blocking. *controller.Pipeline implements it.
type Publisher interface {
	Submit(f *controller.Frame)
}

// Source streams frames into a publisher and serves full-resolution stills.
type Source interface {
	// Stream publishes frames until ctx is done or the source is exhausted.
	Stream(ctx context.Context, pub Publisher) error
	// Still returns a copy of the next (or last) frame as an image.
	Still(ctx context.Context) (image.Image, error)
	Close() error
}

// pacer limits a loop to a fixed rate. A zero rate never waits.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(fps float64) *pacer {
	if fps <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: time.NewTicker(time.Duration(float64(time.Second) / fps))}
}

// wait blocks until the next tick and reports false once ctx is done.
func (p *pacer) wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.ticker == nil {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.ticker.C:
		return true
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
