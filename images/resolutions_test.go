package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolution_GetMegaPixels performs table-driven tests on the GetMegaPixels method.
func TestResolution_GetMegaPixels(t *testing.T) {
	testCases := []struct {
		name     string
		res      Resolution
		expected float64
	}{
		{
			name: "Full HD 1080p",
			res:  resolutions[ResolutionTypeFHD1080p],
			// 1920 * 1080 = 2,073,600 -> 2.07 MP
			expected: 2.07,
		},
		{
			name: "4K UHD",
			res:  resolutions[ResolutionType4KUHD],
			// 3840 * 2160 = 8,294,400 -> 8.29 MP
			expected: 8.29,
		},
		{
			name:     "1MP (5:4)",
			res:      resolutions[ResolutionType1MP54],
			expected: 1.31,
		},
		{
			name:     "Zero Width",
			res:      Resolution{Pixels: ResolutionPixels{Width: 0, Height: 1080}},
			expected: 0.0,
		},
		{
			name:     "Negative Height",
			res:      Resolution{Pixels: ResolutionPixels{Width: 1920, Height: -1}},
			expected: 0.0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.res.GetMegaPixels())
		})
	}
}

// TestResolution_String verifies the human-readable string output for a resolution.
func TestResolution_String(t *testing.T) {
	res, ok := GetResolutionByType(ResolutionTypeFHD1080p)
	require.True(t, ok)
	assert.Equal(t, "Full HD 1080p (1920x1080, 2.07MP)", res.String())
}

func TestGetResolutionByType(t *testing.T) {
	res, ok := GetResolutionByType(ResolutionTypeHD720p)
	require.True(t, ok)
	assert.Equal(t, 1280, res.Pixels.Width)
	assert.Equal(t, AspectRatio169, res.AspectRatio)

	_, ok = GetResolutionByType("InvalidType")
	assert.False(t, ok)
}

func TestGetHighestResolutionUnderDimensions(t *testing.T) {
	testCases := []struct {
		name          string
		width, height int
		expected      ResolutionType
		found         bool
	}{
		{"Exact 1080p", 1920, 1080, ResolutionTypeFHD1080p, true},
		{"Between 720p and 1080p", 1900, 1000, ResolutionTypeHD720p, true},
		{"Portrait bounds", 480, 640, "", false},
		{"Huge bounds", 100000, 100000, ResolutionType4KUHD, true},
		{"Too small", 100, 100, "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, found := GetHighestResolutionUnderDimensions(tc.width, tc.height)
			assert.Equal(t, tc.found, found)
			if tc.found {
				assert.Equal(t, tc.expected, res.Name)
			}
		})
	}
}

func TestAspectRatio_Ratio(t *testing.T) {
	testCases := []struct {
		name     string
		ratio    AspectRatio
		expected float32
		wantErr  bool
	}{
		{"16:9", AspectRatio169, 16.0 / 9.0, false},
		{"4:3", AspectRatio43, 4.0 / 3.0, false},
		{"square", AspectRatio11, 1, false},
		{"spaces", " 21 : 9 ", 21.0 / 9.0, false},
		{"missing colon", "169", 0, true},
		{"zero height", "16:0", 0, true},
		{"negative", "-4:3", 0, true},
		{"garbage", "a:b", 0, true},
		{"empty", "", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ratio.Ratio()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-6)
		})
	}
}
