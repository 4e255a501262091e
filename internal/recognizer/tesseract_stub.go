//go:build !tesseract

package recognizer

import (
	"context"
	"image"
)

// TesseractAvailable reports whether the tesseract backend is compiled in.
func TesseractAvailable() bool { return false }

// TesseractRecognizer is unavailable without the tesseract build tag.
type TesseractRecognizer struct{}

// NewTesseractRecognizer always fails in this build.
func NewTesseractRecognizer(Config) (*TesseractRecognizer, error) {
	return nil, &RecognitionError{Backend: BackendTesseract, Err: ErrBackendUnavailable}
}

// Recognize implements Recognizer.
func (*TesseractRecognizer) Recognize(context.Context, image.Image) (string, error) {
	return "", &RecognitionError{Backend: BackendTesseract, Err: ErrBackendUnavailable}
}

// Close implements io.Closer.
func (*TesseractRecognizer) Close() error { return nil }
