// Package viewport - maps detections from model-input pixels to an on-screen viewport.
//
// The preview shows a capture whose aspect ratio (typically 16:9) differs from the square
// model input, center-filled into a viewport of arbitrary size. Horizontal coordinates
// only need scaling; vertical coordinates are scaled by the capture aspect and then
// shifted up by half of the rows the center-fill cropped away.
package viewport

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models/postprocess"
)

// Size is a viewport extent in screen pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Valid reports whether both sides are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Mapper converts model-space boxes into viewport space.
type Mapper struct {
	// ModelWidth and ModelHeight are the model input dimensions in pixels.
	ModelWidth  float32
	ModelHeight float32
	// CaptureAspect is the capture width divided by its height, e.g. 16/9.
	CaptureAspect float32
}

// NewMapper builds a Mapper for a square model input and a named capture aspect ratio.
//
// Arguments:
//   - modelSize: The model input side in pixels.
//   - aspect: The capture aspect ratio, e.g. images.AspectRatio169.
//
// Returns:
//   - Mapper: The configured mapper.
//   - error: An error if the size is not positive or the ratio cannot be parsed.
func NewMapper(modelSize int, aspect images.AspectRatio) (Mapper, error) {
	if modelSize <= 0 {
		return Mapper{}, errors.Errorf("model size must be positive, got %d", modelSize)
	}

	ratio, err := aspect.Ratio()
	if err != nil {
		return Mapper{}, errors.Wrap(err, "capture aspect")
	}

	return Mapper{
		ModelWidth:    float32(modelSize),
		ModelHeight:   float32(modelSize),
		CaptureAspect: ratio,
	}, nil
}

// usable reports whether the mapper parameters and viewport can produce finite output.
func (m Mapper) usable(w, h float32) bool {
	for _, v := range [5]float32{m.ModelWidth, m.ModelHeight, m.CaptureAspect, w, h} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// Scales returns the horizontal and vertical scale factors and the vertical shift for a
// viewport. ok is false when the mapping is undefined.
func (m Mapper) Scales(w, h float32) (scaleX, scaleY, shiftY float32, ok bool) {
	if !m.usable(w, h) {
		return 0, 0, 0, false
	}
	scaleX = w / m.ModelWidth
	scaleY = scaleX * (m.ModelWidth / m.ModelHeight) / m.CaptureAspect
	shiftY = (w/m.CaptureAspect - h) / 2
	return scaleX, scaleY, shiftY, true
}

// MapRect maps a single model-space box. An unusable viewport returns r unchanged.
func (m Mapper) MapRect(r images.Rect, w, h float32) images.Rect {
	scaleX, scaleY, shiftY, ok := m.Scales(w, h)
	if !ok {
		return r
	}
	return images.Rect{
		X1: r.X1 * scaleX,
		Y1: r.Y1*scaleY - shiftY,
		X2: r.X2 * scaleX,
		Y2: r.Y2*scaleY - shiftY,
	}
}

// Map converts detections into viewport coordinates.
//
// The input slice and its elements are left untouched; the result is a new slice of
// new values with identical class, score and anchor. When the viewport has a zero or
// negative side, or the mapper itself is malformed, unscaled copies are returned.
//
// Arguments:
//   - detections: Detections in model-input pixels.
//   - w: The viewport width.
//   - h: The viewport height.
//
// Returns:
//   - []postprocess.Result: The mapped detections, never nil.
//
// Example Usage:
// ```go
//
//	m, _ := viewport.NewMapper(640, images.AspectRatio169)
//	onScreen := m.Map(results, 1080, 1920)
//
// ```
func (m Mapper) Map(detections []postprocess.Result, w, h float32) []postprocess.Result {
	out := make([]postprocess.Result, len(detections))
	for i, d := range detections {
		d.Box = m.MapRect(d.Box, w, h)
		out[i] = d
	}
	return out
}

// MapSize is Map with an integer viewport.
func (m Mapper) MapSize(detections []postprocess.Result, size Size) []postprocess.Result {
	return m.Map(detections, float32(size.Width), float32(size.Height))
}
