// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"iter"

	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models/yolo"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result as (left, top, right, bottom).
	Box images.Rect `json:"box"`
	// The confidence score of the result.
	Score float32 `json:"score"`
	// The predicted class index of the result.
	Class int `json:"class"`
	// The anchor the prediction came from; breaks score ties deterministically.
	Anchor int `json:"anchor"`
}

// FromCandidate converts a decoded candidate to corner form.
func FromCandidate(c yolo.Candidate) Result {
	return Result{
		Box:    c.Rect(),
		Score:  c.Score,
		Class:  c.Class,
		Anchor: c.Anchor,
	}
}

// FromCandidates drains a candidate sequence into results.
func FromCandidates(seq iter.Seq[yolo.Candidate]) []Result {
	out := []Result{}
	for c := range seq {
		out = append(out, FromCandidate(c))
	}
	return out
}
