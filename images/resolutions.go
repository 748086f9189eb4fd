package images

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AspectRatio represents a capture aspect ratio by name (e.g., "16:9").
type AspectRatio string

// Defines standard and common aspect ratios for cameras.
const (
	AspectRatio169 AspectRatio = "16:9"
	AspectRatio43  AspectRatio = "4:3"
	AspectRatio54  AspectRatio = "5:4"
	AspectRatio32  AspectRatio = "3:2"
	AspectRatio11  AspectRatio = "1:1"
)

// Ratio parses the "W:H" form into W/H.
//
// Returns:
//   - float32: The width-to-height ratio.
//   - error: An error if the string is malformed or either side is not positive.
func (a AspectRatio) Ratio() (float32, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(string(a)), ":")
	if !ok {
		return 0, errors.Errorf("aspect ratio %q is not in W:H form", string(a))
	}

	fw, err := strconv.ParseFloat(strings.TrimSpace(w), 32)
	if err != nil {
		return 0, errors.Wrapf(err, "aspect ratio %q has an invalid width", string(a))
	}
	fh, err := strconv.ParseFloat(strings.TrimSpace(h), 32)
	if err != nil {
		return 0, errors.Wrapf(err, "aspect ratio %q has an invalid height", string(a))
	}
	if fw <= 0 || fh <= 0 || math.IsInf(fw, 0) || math.IsInf(fh, 0) {
		return 0, errors.Errorf("aspect ratio %q must have positive sides", string(a))
	}
	return float32(fw / fh), nil
}

// ResolutionType represents a common name or standard for a capture resolution.
type ResolutionType string

// Supported capture resolutions.
const (
	ResolutionTypeVGA      ResolutionType = "VGA"
	ResolutionTypeNHD      ResolutionType = "nHD"
	ResolutionTypeQHD540   ResolutionType = "qHD 540p"
	ResolutionTypeHD720p   ResolutionType = "HD 720p"
	ResolutionType1MP54    ResolutionType = "1MP (5:4)"
	ResolutionTypeFHD1080p ResolutionType = "Full HD 1080p"
	ResolutionType2MP43    ResolutionType = "2MP (4:3)"
	ResolutionTypeQHD1440p ResolutionType = "QHD 1440p"
	ResolutionType6MP32    ResolutionType = "6MP (3:2)"
	ResolutionType4KUHD    ResolutionType = "4K UHD"
)

// ResolutionPixels describes the exact dimensions of a resolution.
type ResolutionPixels struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Resolution describes a capture resolution standard.
type Resolution struct {
	Name        ResolutionType   `json:"name" yaml:"name"`
	AspectRatio AspectRatio      `json:"aspectRatio" yaml:"aspectRatio"`
	Pixels      ResolutionPixels `json:"pixels" yaml:"pixels"`
}

// GetMegaPixels returns the megapixel count rounded to two decimal places (2.07 for 1080p).
func (r Resolution) GetMegaPixels() float64 {
	if r.Pixels.Width <= 0 || r.Pixels.Height <= 0 {
		return 0.0
	}
	mp := float64(r.Pixels.Width*r.Pixels.Height) / 1_000_000.0
	return math.Round(mp*100) / 100
}

// String returns a human-readable summary of the resolution.
func (r Resolution) String() string {
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Pixels.Width, r.Pixels.Height, r.GetMegaPixels())
}

var resolutions = map[ResolutionType]Resolution{
	ResolutionTypeVGA:      {ResolutionTypeVGA, AspectRatio43, ResolutionPixels{640, 480}},
	ResolutionTypeNHD:      {ResolutionTypeNHD, AspectRatio169, ResolutionPixels{640, 360}},
	ResolutionTypeQHD540:   {ResolutionTypeQHD540, AspectRatio169, ResolutionPixels{960, 540}},
	ResolutionTypeHD720p:   {ResolutionTypeHD720p, AspectRatio169, ResolutionPixels{1280, 720}},
	ResolutionType1MP54:    {ResolutionType1MP54, AspectRatio54, ResolutionPixels{1280, 1024}},
	ResolutionTypeFHD1080p: {ResolutionTypeFHD1080p, AspectRatio169, ResolutionPixels{1920, 1080}},
	ResolutionType2MP43:    {ResolutionType2MP43, AspectRatio43, ResolutionPixels{1600, 1200}},
	ResolutionTypeQHD1440p: {ResolutionTypeQHD1440p, AspectRatio169, ResolutionPixels{2560, 1440}},
	ResolutionType6MP32:    {ResolutionType6MP32, AspectRatio32, ResolutionPixels{3072, 2048}},
	ResolutionType4KUHD:    {ResolutionType4KUHD, AspectRatio169, ResolutionPixels{3840, 2160}},
}

// GetResolutionByType retrieves a specific resolution by its type.
func GetResolutionByType(t ResolutionType) (Resolution, bool) {
	res, ok := resolutions[t]
	return res, ok
}

// GetHighestResolutionUnderDimensions retrieves the highest resolution that fits within the
// given width and height.
//
// Arguments:
//   - width: The maximum possible width of the image.
//   - height: The maximum possible height of the image.
//
// Returns:
//   - Resolution: The highest resolution that is under the given width and height.
//   - bool: True if a resolution was found, otherwise false.
func GetHighestResolutionUnderDimensions(width, height int) (Resolution, bool) {
	var highest Resolution
	var found bool

	for _, res := range resolutions {
		if res.Pixels.Width > width || res.Pixels.Height > height {
			continue
		}
		area := res.Pixels.Width * res.Pixels.Height
		best := highest.Pixels.Width * highest.Pixels.Height
		// Ties on area break by name so the result does not depend on map order.
		if !found || area > best || (area == best && res.Name < highest.Name) {
			highest = res
			found = true
		}
	}
	return highest, found
}
