// Package storage - persists captured images.
package storage

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MimeJPEG is the only MIME type the gallery writes.
const MimeJPEG = "image/jpeg"

// DefaultQuality is the JPEG quality used for captures.
const DefaultQuality = 100

// Result reports the outcome of a save.
type Result struct {
	// OK is true when the image was fully written.
	OK bool
	// Path is the written file on success.
	Path string
	// Reason is a human-readable message for the user.
	Reason string
}

// Sink persists an image under a display name.
type Sink interface {
	Save(ctx context.Context, img image.Image, name, mime string) Result
}

// ScreenshotName returns "screenshot_<unix-millis>.jpg" for t.
func ScreenshotName(t time.Time) string {
	return fmt.Sprintf("screenshot_%d.jpg", t.UnixMilli())
}

// Gallery writes JPEG files under Root/App, the way a device photo gallery would lay them out.
type Gallery struct {
	Root    string
	App     string
	Quality int
	logger  *zap.Logger
}

// NewGallery creates a gallery rooted at root. The directory is created on first save.
//
// Arguments:
//   - root: The pictures directory, e.g. $HOME/Pictures.
//   - app: The per-application subdirectory; may be empty.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Gallery: The gallery.
func NewGallery(root, app string, logger *zap.Logger) *Gallery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gallery{
		Root:    root,
		App:     app,
		Quality: DefaultQuality,
		logger:  logger,
	}
}

// Dir returns the directory files are written to.
func (g *Gallery) Dir() string {
	return filepath.Join(g.Root, g.App)
}

// Save encodes img as JPEG and writes it as name.
//
// The file is written to a temporary name and renamed into place, so a failed or cancelled
// save never leaves a truncated image behind. Failures are reported in the Result, not
// returned as errors.
//
// Arguments:
//   - ctx: Cancels the save before the file is committed.
//   - img: The image to save.
//   - name: The file name; path separators are rejected.
//   - mime: Must be image/jpeg.
//
// Returns:
//   - Result: The outcome, with a user-facing Reason.
func (g *Gallery) Save(ctx context.Context, img image.Image, name, mime string) Result {
	path, err := g.save(ctx, img, name, mime)
	if err != nil {
		g.logger.Warn("failed to save capture", zap.String("name", name), zap.Error(err))
		return Result{Reason: fmt.Sprintf("Failed to save %s: %v", name, err)}
	}

	g.logger.Info("saved capture", zap.String("path", path))
	return Result{OK: true, Path: path, Reason: "Saved " + name}
}

func (g *Gallery) save(ctx context.Context, img image.Image, name, mime string) (string, error) {
	if mime != MimeJPEG {
		return "", errors.Errorf("unsupported mime type %q", mime)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Errorf("invalid file name %q", name)
	}
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("image is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := g.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create gallery directory")
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create file")
	}
	defer os.Remove(tmp.Name())

	quality := g.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "failed to encode jpeg")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to write file")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "failed to commit file")
	}
	return path, nil
}
