// Package images - Image definition for processing utilities.
package images

import "fmt"

// Image represents an image with a format, data, width, and height.
//
// Raw formats (rgb24, bgr24, rgba32, gray8) are tightly packed rows with no stride padding,
// so len(Data) must equal Width*Height*BytesPerPixel. Encoded formats carry the file bytes
// as-is and Width/Height describe the decoded size.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatRGB24 is packed 8-bit R, G, B.
	FormatRGB24 ImageFormat = "rgb24"
	// FormatBGR24 is packed 8-bit B, G, R as produced by OpenCV captures.
	FormatBGR24 ImageFormat = "bgr24"
	// FormatRGBA32 is packed 8-bit R, G, B, A.
	FormatRGBA32 ImageFormat = "rgba32"
	// FormatGray8 is a single 8-bit luma channel.
	FormatGray8 ImageFormat = "gray8"
)

// Raw reports whether the format is an uncompressed pixel buffer.
func (f ImageFormat) Raw() bool {
	return f.BytesPerPixel() > 0
}

// BytesPerPixel returns the pixel size of raw formats and 0 for encoded ones.
func (f ImageFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB24, FormatBGR24:
		return 3
	case FormatRGBA32:
		return 4
	case FormatGray8:
		return 1
	default:
		return 0
	}
}

// Validate checks the structural consistency of the image without decoding it.
//
// Returns:
//   - error: Describes the first problem found, or nil.
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("image is nil")
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image dimensions: %dx%d", img.Width, img.Height)
	}
	if len(img.Data) == 0 {
		return fmt.Errorf("image data is empty")
	}

	switch img.Format {
	case FormatJPEG, FormatPNG, FormatWebP:
		return nil
	}

	bpp := img.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unsupported image format: %q", img.Format)
	}
	if want := img.Width * img.Height * bpp; len(img.Data) != want {
		return fmt.Errorf("%s data length %d does not match %dx%d (want %d bytes)",
			img.Format, len(img.Data), img.Width, img.Height, want)
	}
	return nil
}
