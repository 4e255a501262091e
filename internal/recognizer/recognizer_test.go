package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsBackend(t *testing.T) {
	r, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &HTTPRecognizer{}, r)

	_, err = New(Config{Backend: "carrier-pigeon"})
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.URL = "ftp://example.com/ocr"
	_, err = New(cfg)
	require.Error(t, err)

	cfg.URL = ""
	_, err = New(cfg)
	require.Error(t, err)
}

func TestTesseractBackendAvailability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendTesseract
	r, err := New(cfg)
	if !TesseractAvailable() {
		require.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Nil(t, r)
		return
	}
	require.NoError(t, err)
	require.NoError(t, Close(r))
}

func TestFunc(t *testing.T) {
	var r Recognizer = Func(func(context.Context, image.Image) (string, error) { return "42", nil })
	text, err := r.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "42", text)
	assert.NoError(t, Close(r))
}

func TestHTTPRecognizerSendsMultipartImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "text", r.FormValue("format"))
		assert.Equal(t, "eng", r.FormValue("language"))

		file, _, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = file.Close() }()
		img, err := png.Decode(file)
		if assert.NoError(t, err) {
			assert.Equal(t, image.Rect(0, 0, 40, 12), img.Bounds())
		}

		_, _ = w.Write([]byte(" $1,250.00\n"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL + "/ocr/image"
	r, err := NewHTTPRecognizer(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.URL, r.URL())

	text, err := r.Recognize(context.Background(), testutil.CreateTestImage(40, 12, color.White))
	require.NoError(t, err)
	assert.Equal(t, "$1,250.00", text)
}

func TestHTTPRecognizerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse{Success: false, Error: "Invalid image format"})
	}))
	defer srv.Close()

	r, err := NewHTTPRecognizer(Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = r.Recognize(context.Background(), testutil.CreateTestImage(8, 8, color.White))
	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, BackendHTTP, re.Backend)
	assert.Contains(t, err.Error(), "Invalid image format")
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPRecognizerRejectsEmptyImage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	r, err := NewHTTPRecognizer(Config{URL: srv.URL})
	require.NoError(t, err)
	_, err = r.Recognize(context.Background(), image.NewRGBA(image.Rectangle{}))
	require.Error(t, err)
	assert.Zero(t, hits.Load())
}

func TestHTTPRecognizerHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer srv.Close()
	defer close(release)

	r, err := NewHTTPRecognizer(Config{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Recognize(ctx, testutil.CreateTestImage(8, 8, color.White))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestConfigTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, DefaultConfig().Timeout())
	assert.Zero(t, Config{}.Timeout())
}
