package pipeline

import (
	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/reading"
	"github.com/MeKo-Tech/vidtally/internal/region"
)

// FieldReading is what one region produced for one frame.
type FieldReading struct {
	Field region.Field `json:"field"`
	// Raw is the recognizer output before normalization.
	Raw string `json:"raw"`
	// Value is the normalized number, empty when the reading was invalid.
	Value      string `json:"value"`
	SignMasked bool   `json:"sign_masked,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExtractionResult reports one processed frame.
type ExtractionResult struct {
	FrameIndex int              `json:"frame_index"`
	Timestamp  float64          `json:"timestamp"`
	Manual     bool             `json:"manual,omitempty"`
	Readings   []FieldReading   `json:"readings"`
	Triple     *reading.Triple  `json:"triple,omitempty"`
	Verdict    *reading.Verdict `json:"verdict,omitempty"`
	// Saved is true once the row reached the ledger.
	Saved    bool     `json:"saved"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Value returns the normalized value read for field, or "".
func (r *ExtractionResult) Value(field region.Field) string {
	for _, fr := range r.Readings {
		if fr.Field == field {
			return fr.Value
		}
	}
	return ""
}

// Complete reports whether every field produced a valid value.
func (r *ExtractionResult) Complete() bool {
	for _, f := range region.Fields {
		if r.Value(f) == "" {
			return false
		}
	}
	return true
}

// Rejected reports whether validation turned the reading down.
func (r *ExtractionResult) Rejected() bool {
	return r.Verdict != nil && !r.Verdict.Accepted
}

// FrameInfo describes a displayed frame.
type FrameInfo struct {
	Index       int     `json:"index"`
	Timestamp   float64 `json:"timestamp"`
	TotalFrames int     `json:"total_frames"`
	TimeLabel   string  `json:"time_label"`
}

// NewFrameInfo builds the display info for snap.
func NewFrameInfo(snap *frames.Snapshot, total int, fps float64) FrameInfo {
	return FrameInfo{
		Index:       snap.FrameIndex,
		Timestamp:   snap.Timestamp,
		TotalFrames: total,
		TimeLabel:   frames.TimeLabel(snap.FrameIndex, total, fps),
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventFrame EventKind = iota
	EventResult
	EventStatus
)

// Event is a presenter notification queued for the session loop.
type Event struct {
	Kind    EventKind
	Frame   FrameInfo
	Result  *ExtractionResult
	Message string
}

// StatusEvent is a convenience constructor.
func StatusEvent(msg string) Event { return Event{Kind: EventStatus, Message: msg} }

// Dispatch invokes the presenter callback matching ev.
func Dispatch(p Presenter, ev Event) {
	switch ev.Kind {
	case EventFrame:
		p.OnFrameDisplayed(ev.Frame)
	case EventResult:
		if ev.Result != nil {
			p.OnExtractionResult(ev.Result)
		}
	case EventStatus:
		p.OnStatus(ev.Message)
	}
}
