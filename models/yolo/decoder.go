// Package yolo - decode anchor-free YOLO (v8-style) detection outputs.
//
// The model emits one float32 tensor shaped [1, 4+C, A]: rows 0..3 hold the box center and
// size (cx, cy, w, h) in model-input pixels, rows 4..4+C hold per-class scores, and each of
// the A columns is one anchor. Element (k, a) lives at k*A + a.
package yolo

import (
	"fmt"
	"iter"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/live-detect/images"
)

// Candidate is one confident, not yet suppressed, prediction.
type Candidate struct {
	// Box center and size in model-input pixels. Values are not clamped.
	CX, CY, W, H float32
	// Class is the index of the highest-scoring class.
	Class int
	// Score is that class's score.
	Score float32
	// Anchor is the column the prediction came from.
	Anchor int
}

// Rect converts the center-size box to corner form.
func (c Candidate) Rect() images.Rect {
	return images.RectFromCenter(c.CX, c.CY, c.W, c.H)
}

// ShapeMismatchError reports an output tensor that does not match the configured geometry.
type ShapeMismatchError struct {
	Want   []int
	Got    []int
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("output tensor shape mismatch: %s (want %v, got %v)", e.Reason, e.Want, e.Got)
}

// Decoder turns raw output tensors into candidates.
type Decoder struct {
	// ClassCount is C, the number of class score rows.
	ClassCount int `json:"classCount" yaml:"classCount"`
	// AnchorCount is A, the number of prediction columns.
	AnchorCount int `json:"anchorCount" yaml:"anchorCount"`
	// ConfidenceThreshold is the minimum best-class score a candidate needs.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidenceThreshold"`
}

// Validate checks the decoder parameters.
func (d Decoder) Validate() error {
	if d.ClassCount <= 0 {
		return errors.Errorf("class count must be positive, got %d", d.ClassCount)
	}
	if d.AnchorCount <= 0 {
		return errors.Errorf("anchor count must be positive, got %d", d.AnchorCount)
	}
	if math32.IsNaN(d.ConfidenceThreshold) || d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold must be in [0, 1], got %v", d.ConfidenceThreshold)
	}
	return nil
}

// Decode validates raw and returns a lazy sequence of candidates in ascending anchor order.
//
// For every anchor the class scores are scanned and the maximum is kept; on ties the lowest
// class index wins. Only anchors whose best score is >= ConfidenceThreshold are yielded, so
// each anchor contributes at most one label. The sequence reads raw on demand and may be
// ranged more than once; raw must not be mutated while it is consumed.
//
// Arguments:
//   - raw: The model output.
//
// Returns:
//   - iter.Seq[Candidate]: The confident candidates.
//   - error: A *ShapeMismatchError before any candidate is produced if raw does not match.
//
// Example Usage:
// ```go
//
//	dec := Decoder{ClassCount: 80, AnchorCount: 8400, ConfidenceThreshold: 0.5}
//	seq, err := dec.Decode(output)
//	if err != nil {
//	    return err
//	}
//	for c := range seq {
//	    fmt.Println(c.Class, c.Score)
//	}
//
// ```
func (d Decoder) Decode(raw *tensor.Dense) (iter.Seq[Candidate], error) {
	data, err := d.check(raw)
	if err != nil {
		return nil, err
	}

	classes, anchors := d.ClassCount, d.AnchorCount
	threshold := d.ConfidenceThreshold

	return func(yield func(Candidate) bool) {
		for a := 0; a < anchors; a++ {
			best, class := math32.Inf(-1), -1
			for c := 0; c < classes; c++ {
				// NaN scores never win, so a NaN in one row cannot hide the others.
				if s := data[(4+c)*anchors+a]; s > best {
					best = s
					class = c
				}
			}
			if class < 0 || best < threshold {
				continue
			}

			cand := Candidate{
				CX:     data[a],
				CY:     data[anchors+a],
				W:      data[2*anchors+a],
				H:      data[3*anchors+a],
				Class:  class,
				Score:  best,
				Anchor: a,
			}
			if !yield(cand) {
				return
			}
		}
	}, nil
}

// check validates the tensor and returns its contiguous backing data.
func (d Decoder) check(raw *tensor.Dense) ([]float32, error) {
	want := []int{1, 4 + d.ClassCount, d.AnchorCount}
	if raw == nil {
		return nil, &ShapeMismatchError{Want: want, Reason: "tensor is nil"}
	}

	got := []int(raw.Shape().Clone())
	if raw.Dtype() != tensor.Float32 {
		return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "dtype is " + raw.Dtype().String()}
	}
	if len(got) != 3 {
		return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "rank is not 3"}
	}
	if got[0] != 1 {
		return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "batch is not 1"}
	}
	if got[1] != want[1] {
		return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "row count is not 4+classes"}
	}
	if got[2] != want[2] {
		return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "anchor count differs"}
	}

	if raw.IsMaterializable() {
		m, ok := raw.Materialize().(*tensor.Dense)
		if !ok {
			return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "tensor view cannot be materialized"}
		}
		raw = m
	}

	data, ok := raw.Data().([]float32)
	if !ok || len(data) != want[1]*want[2] {
		return nil, &ShapeMismatchError{Want: want, Got: got, Reason: "backing data does not match shape"}
	}
	return data, nil
}

// Collect materializes a candidate sequence. It never returns nil.
func Collect(seq iter.Seq[Candidate]) []Candidate {
	out := []Candidate{}
	for c := range seq {
		out = append(out, c)
	}
	return out
}
