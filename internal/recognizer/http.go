package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/MeKo-Tech/vidtally/internal/utils"
)

const maxResponseBytes = 1 << 20

// errorResponse is the body an OCR server sends with a failed request.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HTTPRecognizer posts crops to an OCR server's image endpoint as multipart
// form data and asks for plain text back.
type HTTPRecognizer struct {
	url      string
	language string
	client   *http.Client
}

// NewHTTPRecognizer validates cfg.URL and returns a client for it.
func NewHTTPRecognizer(cfg Config) (*HTTPRecognizer, error) {
	if cfg.URL == "" {
		return nil, errors.New("recognizer url cannot be empty")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid recognizer url %q", cfg.URL)
	}
	return &HTTPRecognizer{
		url:      cfg.URL,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout()},
	}, nil
}

// URL returns the endpoint.
func (h *HTTPRecognizer) URL() string { return h.url }

// Recognize implements Recognizer.
func (h *HTTPRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	body, contentType, err := h.encodeRequest(img)
	if err != nil {
		return "", &RecognitionError{Backend: BackendHTTP, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, body)
	if err != nil {
		return "", &RecognitionError{Backend: BackendHTTP, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", &RecognitionError{Backend: BackendHTTP, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &RecognitionError{Backend: BackendHTTP, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return "", &RecognitionError{
			Backend: BackendHTTP,
			Err:     fmt.Errorf("server returned %d: %s", resp.StatusCode, msg),
		}
	}

	return strings.TrimSpace(string(data)), nil
}

func (h *HTTPRecognizer) encodeRequest(img image.Image) (io.Reader, string, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, "", errors.New("empty image")
	}
	pngData, err := utils.EncodePNG(img)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "crop.png")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(pngData); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("format", "text"); err != nil {
		return nil, "", err
	}
	if h.language != "" {
		if err := mw.WriteField("language", h.language); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
