package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// LoadImage opens and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	f, err := os.Open(path) //nolint:gosec // G304: frame paths come from the directory being played
	if err != nil {
		return nil, &ImageProcessingError{Operation: "load", Err: err}
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &ImageProcessingError{Operation: "decode", Err: err}
	}
	return img, nil
}

// SaveImage writes img to path; the format follows the file extension.
// Parent directories are created as needed.
func SaveImage(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(90)); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	return nil
}

// WritePNG encodes img as PNG into w.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return &ImageProcessingError{Operation: "encode", Err: err}
	}
	return nil
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
