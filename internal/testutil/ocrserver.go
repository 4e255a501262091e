package testutil

import (
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewOCRServer serves NewOCRHandler on a test listener closed on cleanup.
func NewOCRServer(t *testing.T, recognize func(context.Context, image.Image) (string, error)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewOCRHandler(recognize))
	t.Cleanup(srv.Close)
	return srv
}

// NewOCRHandler serves the multipart image endpoint the http recognizer
// posts to and answers with recognize's text.
func NewOCRHandler(recognize func(context.Context, image.Image) (string, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()

		img, err := png.Decode(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		text, err := recognize(r.Context(), img)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
	})
}
