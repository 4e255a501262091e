package server

import (
	"image"
	"io"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the part of a session the server drives.
type Controller interface {
	Load(path string) error
	Play() error
	Pause() error
	Seek(fraction float64) error
	ExtractNow() error
	SetAutoProcess(on bool) error

	Begin(field region.Field, p image.Point) error
	Update(field region.Field, p image.Point) error
	Commit(field region.Field) (bool, error)
	SetRegion(field region.Field, a, b image.Point) error
	Nudge(field region.Field, dir region.Direction) (string, error)
	ClearRegion(field region.Field) error
	ClearAll() error
	ExportRegions() (region.Preset, error)
	ApplyRegions(p region.Preset) error

	Status() (session.Status, error)
	WriteFramePNG(w io.Writer) error
	WriteChartPNG(w io.Writer, opts ledger.ChartOptions) error
}

var _ Controller = (*session.Session)(nil)

// Server holds the HTTP server state and dependencies.
type Server struct {
	ctrl       Controller
	hub        *Hub
	corsOrigin string
	logger     *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host       string
	Port       int
	CORSOrigin string
	Logger     *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// APIResponse is the body of every command endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Active  *bool  `json:"active,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LoadRequest names the video to open.
type LoadRequest struct {
	Path string `json:"path"`
}

// SeekRequest positions playback at a fraction of the video.
type SeekRequest struct {
	Fraction float64 `json:"fraction"`
}

// AutoRequest toggles auto processing.
type AutoRequest struct {
	Enabled bool `json:"enabled"`
}

// RegionRequest drives a selection. Action is begin, update, commit or set;
// set spans (x, y) to (x2, y2) in one step.
type RegionRequest struct {
	Action string `json:"action"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	X2     int    `json:"x2"`
	Y2     int    `json:"y2"`
}

// NudgeRequest shifts a selection.
type NudgeRequest struct {
	Direction region.Direction `json:"direction"`
}

// NewServer creates a server driving ctrl. The returned hub should be
// added to the session's presenters so clients on /ws see its events.
func NewServer(config Config, ctrl Controller) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:       ctrl,
		hub:        NewHub(logger),
		corsOrigin: config.CORSOrigin,
		logger:     logger,
	}
}

// Hub returns the websocket event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close disconnects every websocket client.
func (s *Server) Close() error {
	s.hub.Close()
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/status", s.corsMiddleware(s.statusHandler))
	mux.HandleFunc("/load", s.corsMiddleware(s.loadHandler))
	mux.HandleFunc("/play", s.corsMiddleware(s.playHandler))
	mux.HandleFunc("/pause", s.corsMiddleware(s.pauseHandler))
	mux.HandleFunc("/seek", s.corsMiddleware(s.seekHandler))
	mux.HandleFunc("/extract", s.corsMiddleware(s.extractHandler))
	mux.HandleFunc("/auto", s.corsMiddleware(s.autoHandler))
	mux.HandleFunc("/regions", s.corsMiddleware(s.regionsHandler))
	mux.HandleFunc("/regions/{field}", s.corsMiddleware(s.regionHandler))
	mux.HandleFunc("/regions/{field}/nudge", s.corsMiddleware(s.nudgeHandler))
	mux.HandleFunc("/frame.png", s.corsMiddleware(s.frameHandler))
	mux.HandleFunc("/chart.png", s.corsMiddleware(s.chartHandler))
	// Upgrades need the raw ResponseWriter, so /ws skips the middleware.
	mux.HandleFunc("/ws", s.eventsWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
