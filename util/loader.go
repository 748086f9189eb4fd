// Package util - loaders for recorded frame sequences.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FramePrefix is the file name prefix of an extracted frame, as in frame-12.jpg.
const FramePrefix = "frame-"

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number of the image file.
	Frame int
}

// Ext returns the lower-cased file extension without the dot.
func (f ImageFile) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Path), "."))
}

// FrameNumber parses N out of "frame-N.<ext>".
func FrameNumber(name string) (int, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	n, err := strconv.Atoi(strings.TrimPrefix(base, FramePrefix))
	if err != nil {
		return 0, errors.Wrapf(err, "%s is not named %sN", name, FramePrefix)
	}
	return n, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
//   - dir: Directory path containing frame-N.jpg/.jpeg/.png/.webp files.
//
// Returns:
//   - []ImageFile: The files ordered by frame number.
//   - error: Error if the directory or a file cannot be read, or a file is misnamed.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read frame directory %s", dir)
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(file.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			imgPath := filepath.Join(dir, file.Name())
			frame, err := FrameNumber(file.Name())
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(imgPath)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read %s", imgPath)
			}
			images = append(images, ImageFile{
				Path:  imgPath,
				Data:  data,
				Frame: frame,
			})
		}
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Frame < images[j].Frame
	})

	return images, nil
}
