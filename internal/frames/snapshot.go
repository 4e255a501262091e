package frames

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// Snapshot is an immutable copy of one frame.
type Snapshot struct {
	Image      *image.NRGBA
	FrameIndex int
	// Timestamp is the frame position in seconds.
	Timestamp float64
}

// NewSnapshot copies fr so later decoding cannot alter it.
func NewSnapshot(fr Frame, fps float64) (*Snapshot, error) {
	img, err := utils.CloneImage(fr.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to copy frame %d: %w", fr.Index, err)
	}
	ts := 0.0
	if fps > 0 {
		ts = float64(fr.Index) / fps
	}
	return &Snapshot{Image: img, FrameIndex: fr.Index, Timestamp: ts}, nil
}

// Bounds returns the frame rectangle.
func (s *Snapshot) Bounds() image.Rectangle { return s.Image.Bounds() }

// Latest holds the most recently published snapshot. Publishing never blocks
// and replaces whatever was there.
type Latest struct {
	p atomic.Pointer[Snapshot]
}

// Publish makes snap the latest snapshot.
func (l *Latest) Publish(snap *Snapshot) { l.p.Store(snap) }

// Load returns the latest snapshot or nil.
func (l *Latest) Load() *Snapshot { return l.p.Load() }

// Reset drops the latest snapshot.
func (l *Latest) Reset() { l.p.Store(nil) }
