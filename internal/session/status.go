package session

import (
	"errors"
	"image"
	"io"
	"os"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/reading"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// NotAvailable is shown for fields without a reading.
const NotAvailable = "N/A"

// RegionStatus describes one selection.
type RegionStatus struct {
	Field  region.Field `json:"field"`
	Label  string       `json:"label"`
	State  string       `json:"state"`
	Canvas *RectJSON    `json:"canvas,omitempty"`
	Source *RectJSON    `json:"source,omitempty"`
}

// RectJSON is a rectangle with explicit corners.
type RectJSON struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func rectJSON(r image.Rectangle) *RectJSON {
	return &RectJSON{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Status is a point-in-time view of the session.
type Status struct {
	Video       string            `json:"video,omitempty"`
	Playing     bool              `json:"playing"`
	AutoProcess bool              `json:"auto_process"`
	Position    int               `json:"position"`
	TotalFrames int               `json:"total_frames"`
	FPS         float64           `json:"fps"`
	TimeLabel   string            `json:"time_label"`
	Regions     []RegionStatus    `json:"regions"`
	Current     map[string]string `json:"current"`
	Ledger      string            `json:"ledger,omitempty"`
	Rows        int               `json:"rows"`
	Pending     int               `json:"pending"`
	Baseline    *reading.Triple   `json:"baseline,omitempty"`
	LastStatus  string            `json:"last_status,omitempty"`
}

// Status collects the session state on the loop goroutine.
func (s *Session) Status() (Status, error) {
	var st Status
	err := s.exec(func() error {
		st = s.statusLocked()
		return nil
	})
	return st, err
}

func (s *Session) statusLocked() Status {
	st := Status{
		Playing:     s.player != nil,
		AutoProcess: s.autoProcess,
		Current:     s.currentLocked(),
		Pending:     s.worker.Pending(),
		LastStatus:  s.lastStatus,
		TimeLabel:   frames.TimeLabel(0, 0, 0),
	}
	if s.src != nil {
		st.Video = s.src.Path()
		st.TotalFrames = s.src.TotalFrames()
		st.FPS = s.src.FPS()
		st.Position = s.src.Position()
		if snap := s.latest.Load(); snap != nil {
			st.Position = snap.FrameIndex
		}
		st.TimeLabel = frames.TimeLabel(st.Position, st.TotalFrames, st.FPS)
	}
	if s.writer != nil {
		st.Ledger = s.writer.Path()
		st.Rows = s.writer.Rows()
	}
	if b, ok := s.worker.Baseline(); ok {
		st.Baseline = &b
	}

	geom := s.registry.Geometry()
	var frameBounds image.Rectangle
	if snap := s.latest.Load(); snap != nil {
		frameBounds = snap.Bounds()
	}
	for _, sel := range s.registry.Selections() {
		rs := RegionStatus{Field: sel.Field, Label: sel.Field.Label(), State: sel.State.String()}
		if sel.State != region.Inactive {
			rs.Canvas = rectJSON(sel.Rect())
		}
		if !frameBounds.Empty() {
			if r, ok := geom.SourceRect(sel.Field, frameBounds); ok {
				rs.Source = rectJSON(r)
			}
		}
		st.Regions = append(st.Regions, rs)
	}
	return st
}

// CurrentValues returns the latest reading per field, NotAvailable when none.
func (s *Session) CurrentValues() (map[string]string, error) {
	var out map[string]string
	err := s.exec(func() error {
		out = s.currentLocked()
		return nil
	})
	return out, err
}

func (s *Session) currentLocked() map[string]string {
	out := make(map[string]string, len(region.Fields))
	for _, f := range region.Fields {
		v := s.current[f]
		if v == "" {
			v = NotAvailable
		}
		out[f.Label()] = v
	}
	return out
}

// LedgerPath returns the current session's ledger file, if a video is loaded.
func (s *Session) LedgerPath() (string, error) {
	var path string
	err := s.exec(func() error {
		if s.writer == nil {
			return frames.ErrNoSource
		}
		path = s.writer.Path()
		return nil
	})
	return path, err
}

// WriteFramePNG renders the frame on screen at canvas size with every
// committed region outlined.
func (s *Session) WriteFramePNG(w io.Writer) error {
	snap := s.latest.Load()
	if snap == nil {
		return pipeline.ErrNoFrame
	}
	geom := s.registry.Geometry()
	t := geom.Transform
	if t.IsZero() {
		t = utils.IdentityTransform(snap.Bounds().Dx(), snap.Bounds().Dy())
	}
	display, err := utils.ResizeForDisplay(snap.Image, t)
	if err != nil {
		return err
	}
	rects := make(map[region.Field]image.Rectangle)
	for _, f := range geom.ActiveFields() {
		if r, ok := geom.CanvasRect(f); ok {
			rects[f] = r
		}
	}
	return utils.WritePNG(w, pipeline.Annotate(display, rects))
}

// WriteChartPNG renders the current ledger as a chart.
func (s *Session) WriteChartPNG(w io.Writer, opts ledger.ChartOptions) error {
	path, err := s.LedgerPath()
	if err != nil {
		return err
	}
	rows, err := ledger.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.ErrNotEnoughRows
	}
	if err != nil {
		return err
	}
	return ledger.RenderChart(rows, opts, w)
}
