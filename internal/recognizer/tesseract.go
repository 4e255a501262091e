//go:build tesseract

package recognizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/tiff"
)

// TesseractAvailable reports whether the tesseract backend is compiled in.
func TesseractAvailable() bool { return true }

// TesseractRecognizer runs crops through a local libtesseract client. The
// client is not reentrant, so calls are serialized.
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractRecognizer creates a client configured for numeric readouts.
func NewTesseractRecognizer(cfg Config) (*TesseractRecognizer, error) {
	client := gosseract.NewClient()
	if cfg.Language != "" {
		if err := client.SetLanguage(cfg.Language); err != nil {
			_ = client.Close()
			return nil, &RecognitionError{Backend: BackendTesseract, Err: err}
		}
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			_ = client.Close()
			return nil, &RecognitionError{Backend: BackendTesseract, Err: err}
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		_ = client.Close()
		return nil, &RecognitionError{Backend: BackendTesseract, Err: err}
	}
	return &TesseractRecognizer{client: client}, nil
}

// Recognize implements Recognizer.
func (t *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if img == nil || img.Bounds().Empty() {
		return "", &RecognitionError{Backend: BackendTesseract, Err: errors.New("empty image")}
	}

	gray := imaging.Grayscale(img)
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, gray, &tiff.Options{}); err != nil {
		return "", &RecognitionError{Backend: BackendTesseract, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return "", &RecognitionError{Backend: BackendTesseract, Err: errors.New("client closed")}
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", &RecognitionError{Backend: BackendTesseract, Err: err}
	}
	text, err := t.client.Text()
	if err != nil {
		return "", &RecognitionError{Backend: BackendTesseract, Err: err}
	}
	return strings.TrimSpace(text), nil
}

// Close releases the tesseract client.
func (t *TesseractRecognizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
