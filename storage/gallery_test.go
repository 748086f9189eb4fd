package storage

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testImage() image.Image {
	return imaging.New(32, 16, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
}

func TestScreenshotName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, "screenshot_1700000000123.jpg", ScreenshotName(ts))
}

func TestGallery_Save(t *testing.T) {
	root := t.TempDir()
	g := NewGallery(root, "LiveDetect", zaptest.NewLogger(t))

	res := g.Save(context.Background(), testImage(), "screenshot_1.jpg", MimeJPEG)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, filepath.Join(root, "LiveDetect", "screenshot_1.jpg"), res.Path)

	img, err := imaging.Open(res.Path)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	entries, err := os.ReadDir(g.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestGallery_SaveFailures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	testCases := []struct {
		name string
		ctx  context.Context
		img  image.Image
		file string
		mime string
	}{
		{"unsupported mime", context.Background(), testImage(), "a.png", "image/png"},
		{"path in name", context.Background(), testImage(), "../a.jpg", MimeJPEG},
		{"empty name", context.Background(), testImage(), "", MimeJPEG},
		{"nil image", context.Background(), nil, "a.jpg", MimeJPEG},
		{"empty image", context.Background(), image.NewRGBA(image.Rectangle{}), "a.jpg", MimeJPEG},
		{"cancelled", cancelled, testImage(), "a.jpg", MimeJPEG},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGallery(t.TempDir(), "app", zaptest.NewLogger(t))
			res := g.Save(tc.ctx, tc.img, tc.file, tc.mime)
			assert.False(t, res.OK)
			assert.Empty(t, res.Path)
			assert.Contains(t, res.Reason, "Failed to save")

			_, err := os.Stat(filepath.Join(g.Dir(), tc.file))
			assert.True(t, tc.file == "" || os.IsNotExist(err))
		})
	}
}

func TestGallery_UnwritableRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o600))

	res := NewGallery(root, "app", nil).Save(context.Background(), testImage(), "a.jpg", MimeJPEG)
	assert.False(t, res.OK)
}
