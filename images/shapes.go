// Package images - Image processing utilities
package images

import "github.com/chewxy/math32"

// Rect is a lightweight bounding box in floating point pixel units.
//
// X1,Y1 is the top-left (left, top) corner and X2,Y2 the bottom-right (right, bottom)
// corner. Nothing forces X1 <= X2 or Y1 <= Y2; consumers that draw or measure a Rect
// must tolerate inverted boxes.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// RectFromCenter converts a center-width-height box into corner form.
//
// Arguments:
//   - cx, cy: The box center.
//   - w, h: The box width and height.
//
// Returns:
//   - Rect: The equivalent corner box.
func RectFromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns X2 - X1, which is negative for an inverted box.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns Y2 - Y1, which is negative for an inverted box.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Center returns the midpoint of the box.
func (r Rect) Center() (float32, float32) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// Area returns the area of the box, or 0 for boxes with zero, negative or NaN extent.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if !(w > 0) || !(h > 0) {
		return 0
	}
	return w * h
}

// Finite reports whether every coordinate is a real number.
func (r Rect) Finite() bool {
	for _, v := range [4]float32{r.X1, r.Y1, r.X2, r.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Degenerate reports whether the box cannot be drawn: non-finite coordinates or an
// empty/inverted extent on either axis.
func (r Rect) Degenerate() bool {
	return !r.Finite() || r.Width() <= 0 || r.Height() <= 0
}

// CalculateIoU measures the overlap of two boxes as the area of their intersection
// divided by the area of their union.
//
//	IoU = Area of Intersection / Area of Union
//
//   - 1.0 means the rectangles are identical.
//   - 0.0 means they do not overlap at all (touching edges included).
//
// The intersection corners are the max of the top-left corners and the min of the
// bottom-right corners. If the intersection has zero or negative width or height the
// boxes do not overlap and 0 is returned before any division. A box with zero or
// negative extent has area 0, so it can never overlap anything. NaN coordinates count as
// zero extent.
//
// Union uses inclusion-exclusion:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle.
//
// Returns:
//   - float32: A value in [0, 1].
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	areaR := r.Area()
	areaO := o.Area()
	if areaR == 0 || areaO == 0 {
		return 0
	}

	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if !(interW > 0) || !(interH > 0) {
		return 0
	}
	interArea := interW * interH

	unionArea := areaR + areaO - interArea
	if !(unionArea > 0) {
		return 0
	}
	// Infinite extents can still produce Inf/Inf.
	if iou := interArea / unionArea; iou >= 0 && iou <= 1 {
		return iou
	}
	return 0
}
