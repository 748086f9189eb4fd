// Package render - draws detection overlays with fogleman/gg.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/models/postprocess"
	"github.com/nvr-ai/live-detect/viewport"
)

const (
	// DefaultStrokeWidth is the box outline width in viewport pixels.
	DefaultStrokeWidth = 10.0
	// DefaultFontSize is the label text size in points.
	DefaultFontSize = 36.0
	// LabelOffset is how far the label sits right of and above the box's top-left corner.
	LabelOffset = 10.0
)

var (
	// PrimaryColor paints class 0.
	PrimaryColor color.Color = color.White
	// SecondaryColor paints every other class.
	SecondaryColor color.Color = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff}
	// TextColor paints labels.
	TextColor color.Color = color.White
)

var parseFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

// Overlay draws boxes and "<name>, <pct>%" labels for viewport-space detections.
type Overlay struct {
	labels      *models.ClassLabelTable
	font        *truetype.Font
	StrokeWidth float64
	FontSize    float64
}

// NewOverlay creates an overlay that names classes from labels.
//
// Arguments:
//   - labels: The class label table; nil falls back to "class N" names.
//
// Returns:
//   - *Overlay: The overlay with default stroke and font size.
//   - error: An error if the embedded font cannot be parsed.
func NewOverlay(labels *models.ClassLabelTable) (*Overlay, error) {
	font, err := parseFont()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse overlay font")
	}
	if labels == nil {
		labels = models.NewClassLabelTable(nil)
	}
	return &Overlay{
		labels:      labels,
		font:        font,
		StrokeWidth: DefaultStrokeWidth,
		FontSize:    DefaultFontSize,
	}, nil
}

// LabelText formats a detection label with the score rounded to a whole percentage.
func LabelText(name string, score float32) string {
	return fmt.Sprintf("%s, %d%%", name, int(math.Round(float64(score)*100)))
}

// ClassColor returns the stroke color for a class.
func ClassColor(class int) color.Color {
	if class == 0 {
		return PrimaryColor
	}
	return SecondaryColor
}

// normalize orders the corners so inverted boxes draw like their upright equivalent.
func normalize(r images.Rect) images.Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Draw strokes every drawable detection onto dc.
//
// Boxes with left > right or top > bottom are drawn with their corners swapped. Boxes with
// non-finite coordinates or no extent are skipped.
//
// Arguments:
//   - dc: The target drawing context.
//   - detections: Detections in the context's coordinate space.
//
// Returns:
//   - int: The number of boxes drawn.
func (o *Overlay) Draw(dc *gg.Context, detections []postprocess.Result) int {
	dc.SetLineWidth(o.StrokeWidth)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.SetFontFace(truetype.NewFace(o.font, &truetype.Options{Size: o.FontSize}))

	drawn := 0
	for _, d := range detections {
		r := normalize(d.Box)
		if r.Degenerate() {
			continue
		}

		dc.SetColor(ClassColor(d.Class))
		dc.DrawRectangle(float64(r.X1), float64(r.Y1), float64(r.Width()), float64(r.Height()))
		dc.Stroke()

		dc.SetColor(TextColor)
		dc.DrawString(LabelText(o.labels.Name(d.Class), d.Score), float64(r.X1)+LabelOffset, float64(r.Y1)-LabelOffset)
		drawn++
	}
	return drawn
}

// Render draws detections onto a transparent layer the size of the viewport.
func (o *Overlay) Render(size viewport.Size, detections []postprocess.Result) (image.Image, error) {
	if !size.Valid() {
		return nil, errors.Errorf("invalid overlay size %s", size)
	}
	dc := gg.NewContext(size.Width, size.Height)
	o.Draw(dc, detections)
	return dc.Image(), nil
}

// Composite renders the viewport-space overlay, scales it by imageW/viewW and imageH/viewH
// to the frame's size, and blends it on top of the frame.
//
// Arguments:
//   - frame: The captured frame.
//   - detections: Detections in viewport coordinates.
//   - view: The viewport the detections were mapped into.
//
// Returns:
//   - *image.NRGBA: A new image; frame is not modified.
//   - error: An error if the viewport or frame is empty.
func (o *Overlay) Composite(frame image.Image, detections []postprocess.Result, view viewport.Size) (*image.NRGBA, error) {
	bounds := frame.Bounds()
	if bounds.Empty() {
		return nil, errors.New("frame is empty")
	}

	layer, err := o.Render(view, detections)
	if err != nil {
		return nil, err
	}
	if view.Width != bounds.Dx() || view.Height != bounds.Dy() {
		layer = imaging.Resize(layer, bounds.Dx(), bounds.Dy(), imaging.Linear)
	}

	return imaging.Overlay(frame, layer, image.Pt(0, 0), 1.0), nil
}
