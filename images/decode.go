package images

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// Decode converts an Image into a Go-native image.Image.
//
// Raw buffers are wrapped without re-encoding: rgb24/bgr24 are expanded into an opaque
// *image.RGBA, rgba32 is copied as-is, and gray8 becomes an *image.Gray. Encoded formats
// are decoded with their dedicated decoder and the declared dimensions are checked against
// the decoded bounds.
//
// Arguments:
//   - img: The image to decode.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the image is invalid or fails to decode.
func Decode(img Image) (image.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	switch img.Format {
	case FormatRGB24, FormatBGR24:
		return decodePacked24(img), nil
	case FormatRGBA32:
		out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
		copy(out.Pix, img.Data)
		return out, nil
	case FormatGray8:
		out := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
		copy(out.Pix, img.Data)
		return out, nil
	}

	var (
		decoded image.Image
		err     error
	)
	reader := bytes.NewReader(img.Data)
	switch img.Format {
	case FormatJPEG:
		decoded, err = jpeg.Decode(reader)
	case FormatPNG:
		decoded, err = png.Decode(reader)
	case FormatWebP:
		decoded, err = webp.Decode(reader)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", img.Format)
	}

	b := decoded.Bounds()
	if b.Dx() != img.Width || b.Dy() != img.Height {
		return nil, errors.Errorf("decoded %s is %dx%d, declared %dx%d",
			img.Format, b.Dx(), b.Dy(), img.Width, img.Height)
	}
	return decoded, nil
}

// decodePacked24 expands a packed 3-byte buffer into RGBA, swapping channels for BGR.
func decodePacked24(img Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	r, b := 0, 2
	if img.Format == FormatBGR24 {
		r, b = 2, 0
	}

	n := img.Width * img.Height
	for i := 0; i < n; i++ {
		src := img.Data[i*3 : i*3+3]
		dst := out.Pix[i*4 : i*4+4]
		dst[0] = src[r]
		dst[1] = src[1]
		dst[2] = src[b]
		dst[3] = 0xff
	}
	return out
}

// FromImage packs any image.Image into a raw rgb24 Image.
//
// Arguments:
//   - src: The source image.
//
// Returns:
//   - Image: A tightly packed rgb24 buffer with the source dimensions.
func FromImage(src image.Image) Image {
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}

	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	data := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		copy(data[i*3:i*3+3], rgba.Pix[i*4:i*4+3])
	}
	return Image{Format: FormatRGB24, Data: data, Width: w, Height: h}
}

// FormatFromExt maps a file extension (with or without the dot, any case) to an encoded format.
func FormatFromExt(ext string) (ImageFormat, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	default:
		return "", false
	}
}

// FromEncoded wraps encoded file bytes, reading the dimensions from the header only.
//
// Arguments:
//   - format: One of FormatJPEG, FormatPNG or FormatWebP.
//   - data: The file bytes; they are referenced, not copied.
//
// Returns:
//   - Image: The image with Width and Height filled in.
//   - error: An error if the format is not an encoded one or the header is unreadable.
func FromEncoded(format ImageFormat, data []byte) (Image, error) {
	var (
		cfg image.Config
		err error
	)
	reader := bytes.NewReader(data)
	switch format {
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(reader)
	case FormatPNG:
		cfg, err = png.DecodeConfig(reader)
	case FormatWebP:
		cfg, err = webp.DecodeConfig(reader)
	default:
		return Image{}, errors.Errorf("%q is not an encoded format", format)
	}
	if err != nil {
		return Image{}, errors.Wrapf(err, "failed to read %s header", format)
	}
	return Image{Format: format, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}
