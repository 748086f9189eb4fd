// Package preprocess converts camera frames into model-ready input tensors.
package preprocess

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/images"
)

// ColorMode defines the plane order of the encoded tensor.
type ColorMode int

const (
	// ColorModeRGB writes planes as R, G, B.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR writes planes as B, G, R (common for OpenCV-trained models).
	ColorModeBGR
)

// String returns the name of the color mode.
func (m ColorMode) String() string {
	switch m {
	case ColorModeRGB:
		return "rgb"
	case ColorModeBGR:
		return "bgr"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
}

// ParseColorMode maps "rgb" or "bgr" to a ColorMode.
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "rgb", "RGB":
		return ColorModeRGB, nil
	case "bgr", "BGR":
		return ColorModeBGR, nil
	default:
		return 0, errors.Errorf("unknown color mode %q", s)
	}
}

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string `json:"name" yaml:"name"`
	// InputSize is the side length of the square model input.
	InputSize int `json:"inputSize" yaml:"inputSize"`
	// InputChannels is the number of channels (1 for grayscale, 3 for RGB/BGR).
	InputChannels int `json:"inputChannels" yaml:"inputChannels"`
	// ColorMode defines the plane order for 3-channel inputs.
	ColorMode ColorMode `json:"colorMode" yaml:"colorMode"`
}

// InvalidImageError reports a frame that cannot be encoded.
type InvalidImageError struct {
	Format images.ImageFormat
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s image: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s image: %s", e.Format, e.Reason)
}

// Unwrap returns the underlying decode error, if any.
func (e *InvalidImageError) Unwrap() error { return e.Err }

// Encoder turns images into planar CHW float32 tensors in [0, 1].
type Encoder struct {
	config ModelConfig
	plane  int
}

// NewEncoder creates a new encoder with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Encoder: A configured encoder.
//   - error: An error if the configuration cannot produce a tensor.
//
// @example
//
//	enc, err := NewEncoder(ModelConfig{
//	    Name:          "yolov8n",
//	    InputSize:     640,
//	    InputChannels: 3,
//	    ColorMode:     ColorModeRGB,
//	})
func NewEncoder(config ModelConfig) (*Encoder, error) {
	if config.InputSize <= 0 {
		return nil, errors.Errorf("input size must be positive, got %d", config.InputSize)
	}
	if config.InputChannels != 1 && config.InputChannels != 3 {
		return nil, errors.Errorf("input channels must be 1 or 3, got %d", config.InputChannels)
	}
	if config.ColorMode != ColorModeRGB && config.ColorMode != ColorModeBGR {
		return nil, errors.Errorf("unsupported color mode %s", config.ColorMode)
	}
	return &Encoder{config: config, plane: config.InputSize * config.InputSize}, nil
}

// Len is the number of float32 values one encoded frame occupies.
func (e *Encoder) Len() int {
	return e.config.InputChannels * e.plane
}

// Config returns the encoder configuration.
func (e *Encoder) Config() ModelConfig {
	return e.config
}

// Encode decodes, resizes and normalizes img into a new tensor buffer.
//
// Arguments:
//   - img: The frame to encode.
//
// Returns:
//   - []float32: Len() values laid out as [c*S*S + y*S + x].
//   - error: An *InvalidImageError if the frame is unusable.
func (e *Encoder) Encode(img images.Image) ([]float32, error) {
	dst := make([]float32, e.Len())
	if err := e.EncodeInto(img, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// EncodeInto behaves like Encode but writes into dst, which is typically the data slice
// of a preallocated runtime input tensor.
//
// Arguments:
//   - img: The frame to encode.
//   - dst: The destination buffer; must hold at least Len() values.
//
// Returns:
//   - error: An error if dst is too small, or an *InvalidImageError for a bad frame.
func (e *Encoder) EncodeInto(img images.Image, dst []float32) error {
	if len(dst) < e.Len() {
		return errors.Errorf("destination tensor only holds %d floats, needs %d", len(dst), e.Len())
	}
	if err := img.Validate(); err != nil {
		return &InvalidImageError{Format: img.Format, Reason: err.Error()}
	}

	decoded, err := images.Decode(img)
	if err != nil {
		return &InvalidImageError{Format: img.Format, Reason: "decode failed", Err: err}
	}

	size := e.config.InputSize
	if b := decoded.Bounds(); b.Dx() != size || b.Dy() != size {
		decoded = resize.Resize(uint(size), uint(size), decoded, resize.Bilinear)
	}

	e.fill(decoded, dst[:e.Len()])
	return nil
}

// fill writes the planes of a size x size image into dst.
func (e *Encoder) fill(img image.Image, dst []float32) {
	size := e.config.InputSize
	origin := img.Bounds().Min

	var ch0, ch1, ch2 []float32
	if e.config.InputChannels == 3 {
		ch0 = dst[0:e.plane]
		ch1 = dst[e.plane : 2*e.plane]
		ch2 = dst[2*e.plane : 3*e.plane]
		if e.config.ColorMode == ColorModeBGR {
			ch0, ch2 = ch2, ch0
		}
	}

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b := rgb8(img, origin.X+x, origin.Y+y)
			if e.config.InputChannels == 1 {
				dst[i] = (0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)) / 255.0
			} else {
				ch0[i] = float32(r) / 255.0
				ch1[i] = float32(g) / 255.0
				ch2[i] = float32(b) / 255.0
			}
			i++
		}
	}
}

// rgb8 reads one pixel as 8-bit components, taking the fast path for the types that
// images.Decode and nfnt/resize produce.
func rgb8(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch m := img.(type) {
	case *image.RGBA:
		o := m.PixOffset(x, y)
		return m.Pix[o], m.Pix[o+1], m.Pix[o+2]
	case *image.Gray:
		v := m.Pix[m.PixOffset(x, y)]
		return v, v, v
	default:
		r, g, b, _ := img.At(x, y).RGBA()
		return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
	}
}
