package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"time"
)

// Backend names accepted by New.
const (
	BackendHTTP      = "http"
	BackendTesseract = "tesseract"
)

// ErrBackendUnavailable is returned for backends not compiled into the binary.
var ErrBackendUnavailable = errors.New("recognizer backend unavailable")

// Recognizer turns a cropped image into raw text. Implementations must be
// safe for concurrent use.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Func adapts a function to Recognizer.
type Func func(ctx context.Context, img image.Image) (string, error)

// Recognize implements Recognizer.
func (f Func) Recognize(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// RecognitionError wraps a backend failure.
type RecognitionError struct {
	Backend string
	Err     error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s recognition failed: %v", e.Backend, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Config holds configuration for the text recognizer.
type Config struct {
	Backend    string // http or tesseract
	URL        string // OCR endpoint for the http backend
	TimeoutSec int    // Per-request timeout for the http backend
	Language   string
	Whitelist  string // Characters tesseract may emit
}

// DefaultConfig returns a default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendHTTP,
		URL:        "http://localhost:8080/ocr/image",
		TimeoutSec: 30,
		Language:   "eng",
		Whitelist:  "0123456789.$ ",
	}
}

// Timeout returns the request timeout as a duration.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// New builds the recognizer selected by cfg.Backend.
func New(cfg Config) (Recognizer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendHTTP:
		h, err := NewHTTPRecognizer(cfg)
		if err != nil {
			return nil, err
		}
		return h, nil
	case BackendTesseract:
		t, err := NewTesseractRecognizer(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", cfg.Backend)
	}
}

// Close releases r if it holds resources.
func Close(r Recognizer) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
