package frames

import (
	"fmt"
	"math"
)

// DefaultSampleInterval is the number of frames between automatic extractions.
const DefaultSampleInterval = 15

// Sampler decides which displayed frames are handed to extraction. The first
// frame after a reset is always due, then every frame at least Interval past
// the previous due frame.
type Sampler struct {
	interval int
	last     int
	primed   bool
}

// NewSampler returns a sampler. Non-positive intervals select DefaultSampleInterval.
func NewSampler(interval int) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{interval: interval}
}

// Interval returns the configured spacing.
func (s *Sampler) Interval() int { return s.interval }

// Due reports whether frame pos should be sampled and records it if so.
func (s *Sampler) Due(pos int) bool {
	if s.primed && pos < s.last+s.interval {
		return false
	}
	s.last = pos
	s.primed = true
	return true
}

// Reset forgets the previous sample, e.g. after a seek.
func (s *Sampler) Reset() {
	s.last = 0
	s.primed = false
}

// FormatClock renders seconds as H:MM:SS.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// TimeLabel renders "position / duration" for a frame index.
func TimeLabel(pos, total int, fps float64) string {
	if fps <= 0 {
		return FormatClock(0) + " / " + FormatClock(0)
	}
	return FormatClock(float64(pos)/fps) + " / " + FormatClock(float64(total)/fps)
}
