// Package inference - Inference engine boundary and model geometry.
package inference

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Engine runs a detection model on a preprocessed input tensor.
//
// Implementations must return a float32 tensor shaped [BatchSize, 4+ClassCount, AnchorCount]
// whose backing slice is owned by the caller (it is not reused by the next Run).
type Engine interface {
	Run(ctx context.Context, input []float32) (*tensor.Dense, error)
	Close() error
}

// Geometry holds the fixed shape constants of a YOLO-style detection model.
type Geometry struct {
	// InputSize is the side length of the square model input.
	InputSize int `json:"inputSize" yaml:"inputSize"`
	// ChannelCount is the number of input planes (3 for RGB/BGR, 1 for grayscale).
	ChannelCount int `json:"channelCount" yaml:"channelCount"`
	// BatchSize is the number of images per run. Only 1 is supported.
	BatchSize int `json:"batchSize" yaml:"batchSize"`
	// ClassCount is the number of class score rows in the output.
	ClassCount int `json:"classCount" yaml:"classCount"`
	// AnchorCount is the number of prediction columns in the output.
	AnchorCount int `json:"anchorCount" yaml:"anchorCount"`
}

// DefaultGeometry returns the geometry of a 640px YOLOv8 COCO export.
func DefaultGeometry() Geometry {
	return Geometry{
		InputSize:    640,
		ChannelCount: 3,
		BatchSize:    1,
		ClassCount:   80,
		AnchorCount:  8400,
	}
}

// Validate checks that every dimension is usable.
func (g Geometry) Validate() error {
	switch {
	case g.InputSize <= 0:
		return errors.Errorf("input size must be positive, got %d", g.InputSize)
	case g.ChannelCount != 1 && g.ChannelCount != 3:
		return errors.Errorf("channel count must be 1 or 3, got %d", g.ChannelCount)
	case g.BatchSize != 1:
		return errors.Errorf("batch size must be 1, got %d", g.BatchSize)
	case g.ClassCount <= 0:
		return errors.Errorf("class count must be positive, got %d", g.ClassCount)
	case g.AnchorCount <= 0:
		return errors.Errorf("anchor count must be positive, got %d", g.AnchorCount)
	}
	return nil
}

// InputShape returns [BatchSize, ChannelCount, InputSize, InputSize].
func (g Geometry) InputShape() []int {
	return []int{g.BatchSize, g.ChannelCount, g.InputSize, g.InputSize}
}

// InputLen is the number of float32 values in one input tensor.
func (g Geometry) InputLen() int {
	return g.BatchSize * g.ChannelCount * g.InputSize * g.InputSize
}

// OutputShape returns [BatchSize, 4+ClassCount, AnchorCount].
func (g Geometry) OutputShape() []int {
	return []int{g.BatchSize, 4 + g.ClassCount, g.AnchorCount}
}

// OutputLen is the number of float32 values in one output tensor.
func (g Geometry) OutputLen() int {
	return g.BatchSize * (4 + g.ClassCount) * g.AnchorCount
}

// NewOutput wraps data as an output tensor of this geometry.
//
// Arguments:
//   - data: Row-major values; element (k, a) of the single batch lives at k*AnchorCount + a.
//
// Returns:
//   - *tensor.Dense: The wrapped tensor, sharing data.
//   - error: An error if len(data) does not match OutputLen.
func (g Geometry) NewOutput(data []float32) (*tensor.Dense, error) {
	if len(data) != g.OutputLen() {
		return nil, errors.Errorf("output data holds %d floats, geometry needs %d", len(data), g.OutputLen())
	}
	return tensor.New(tensor.WithShape(g.OutputShape()...), tensor.WithBacking(data)), nil
}
