package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/session"
	"github.com/MeKo-Tech/vidtally/internal/version"
)

const maxBodyBytes = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// statusHandler returns the session state.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.ctrl.Status()
	if err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) loadHandler(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeErrorResponse(w, "No video path provided", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Load(req.Path); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Could not open video %s: %v", req.Path, err), statusForError(err, http.StatusBadRequest))
		return
	}
	s.writeSuccess(w, "Loaded "+req.Path)
}

func (s *Server) playHandler(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "Playing", s.ctrl.Play)
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "Paused", s.ctrl.Pause)
}

func (s *Server) extractHandler(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "Extraction queued", s.ctrl.ExtractNow)
}

func (s *Server) seekHandler(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.Fraction < 0 || req.Fraction > 1 {
		s.writeErrorResponse(w, "fraction must be between 0 and 1", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Seek(req.Fraction); err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
		return
	}
	s.writeSuccess(w, fmt.Sprintf("Seeked to %.1f%%", req.Fraction*100))
}

func (s *Server) autoHandler(w http.ResponseWriter, r *http.Request) {
	var req AutoRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if err := s.ctrl.SetAutoProcess(req.Enabled); err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
		return
	}
	if req.Enabled {
		s.writeSuccess(w, "Auto processing enabled")
		return
	}
	s.writeSuccess(w, "Auto processing disabled")
}

// regionsHandler exports (GET), replaces (PUT) or clears (DELETE) every region.
func (s *Server) regionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.ctrl.ExportRegions()
		if err != nil {
			s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
			return
		}
		s.writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var p region.Preset
		if !s.decodeBody(w, r, &p) {
			return
		}
		if err := s.ctrl.ApplyRegions(p); err != nil {
			s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusBadRequest))
			return
		}
		s.writeSuccess(w, fmt.Sprintf("Applied %d region(s)", len(p.Regions)))
	case http.MethodDelete:
		if err := s.ctrl.ClearAll(); err != nil {
			s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
			return
		}
		s.writeSuccess(w, "All selections cleared")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// regionHandler drives one region (POST) or clears it (DELETE).
func (s *Server) regionHandler(w http.ResponseWriter, r *http.Request) {
	field, err := region.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := s.ctrl.ClearRegion(field); err != nil {
			s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
			return
		}
		s.writeSuccess(w, field.Label()+" selection cleared")
	case http.MethodPost:
		var req RegionRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		s.applyRegionRequest(w, field, req)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) applyRegionRequest(w http.ResponseWriter, field region.Field, req RegionRequest) {
	p := image.Pt(req.X, req.Y)
	var err error
	switch req.Action {
	case "begin":
		err = s.ctrl.Begin(field, p)
	case "update":
		err = s.ctrl.Update(field, p)
	case "commit":
		var active bool
		if active, err = s.ctrl.Commit(field); err == nil {
			msg := field.Label() + " selection committed"
			if !active {
				msg = field.Label() + " selection too small, discarded"
			}
			s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: msg, Active: &active})
			return
		}
	case "set", "":
		err = s.ctrl.SetRegion(field, p, image.Pt(req.X2, req.Y2))
	default:
		s.writeErrorResponse(w, fmt.Sprintf("unknown region action %q", req.Action), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusBadRequest))
		return
	}
	s.writeSuccess(w, field.Label()+" selection updated")
}

func (s *Server) nudgeHandler(w http.ResponseWriter, r *http.Request) {
	field, err := region.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	var req NudgeRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	msg, err := s.ctrl.Nudge(field, req.Direction)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusBadRequest))
		return
	}
	s.writeSuccess(w, msg)
}

// frameHandler returns the frame on screen with region outlines.
func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writePNG(w, s.ctrl.WriteFramePNG)
}

// chartHandler plots the current ledger. width and height query
// parameters override the default size.
func (s *Server) chartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts := ledger.DefaultChartOptions()
	if v, err := strconv.Atoi(r.URL.Query().Get("width")); err == nil && v > 0 {
		opts.Width = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("height")); err == nil && v > 0 {
		opts.Height = v
	}
	s.writePNG(w, func(out io.Writer) error { return s.ctrl.WriteChartPNG(out, opts) })
}

// writePNG renders into a buffer first so failures still get a JSON error.
func (s *Server) writePNG(w http.ResponseWriter, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log().Debug("Failed to write image response", "error", err)
	}
}

// command runs a body-less POST command.
func (s *Server) command(w http.ResponseWriter, r *http.Request, okMsg string, fn func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := fn(); err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err, http.StatusInternalServerError))
		return
	}
	s.writeSuccess(w, okMsg)
}

// decodePost checks the method and decodes a JSON body into v.
func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return s.decodeBody(w, r, v)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// statusForError maps session errors to HTTP status codes.
func statusForError(err error, fallback int) int {
	switch {
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, frames.ErrNoSource),
		errors.Is(err, pipeline.ErrNoFrame),
		errors.Is(err, pipeline.ErrNoRegions):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotEnoughRows):
		return http.StatusNotFound
	case errors.Is(err, region.ErrUnknownField):
		return http.StatusBadRequest
	default:
		return fallback
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Error("Error encoding response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, APIResponse{Success: false, Error: message})
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}
