package frames

import (
	"errors"
	"image"
	"math"
	"sync"
)

// Frame is a decoded frame and its index in the stream.
type Frame struct {
	Image image.Image
	Index int
}

// Source serializes access to one decoder. Read, Seek and the accessors may
// be called from any goroutine.
type Source struct {
	path string

	mu    sync.Mutex
	dec   Decoder
	fps   float64
	total int
}

// Open opens path with OpenDecoder.
func Open(path string, opts Options) (*Source, error) {
	dec, err := OpenDecoder(path, opts)
	if err != nil {
		return nil, err
	}
	src := NewSource(dec, opts.FPSOverride)
	src.path = path
	return src, nil
}

// NewSource wraps dec. A positive fpsOverride replaces the decoder's rate.
func NewSource(dec Decoder, fpsOverride float64) *Source {
	fps := dec.FPS()
	if fpsOverride > 0 {
		fps = fpsOverride
	}
	if fps <= 0 || math.IsNaN(fps) {
		fps = DefaultOptions().SequenceFPS
	}
	return &Source{dec: dec, fps: fps, total: dec.FrameCount()}
}

// Path returns the opened path, if any.
func (s *Source) Path() string { return s.path }

// Read returns the frame at the cursor and advances it. At the end of the
// stream it returns ErrEndOfStream and leaves the cursor unchanged.
func (s *Source) Read() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Source) readLocked() (Frame, error) {
	if s.dec == nil {
		return Frame{}, ErrNoSource
	}
	idx := s.dec.Position()
	img, err := s.dec.Next()
	if err != nil {
		if errors.Is(err, ErrEndOfStream) {
			return Frame{}, ErrEndOfStream
		}
		var se *StreamError
		if !errors.As(err, &se) {
			err = &StreamError{Op: "read", Path: s.path, Err: err}
		}
		return Frame{}, err
	}
	return Frame{Image: img, Index: idx}, nil
}

// SeekFraction moves the cursor to round(f * TotalFrames). f is clamped to [0, 1].
func (s *Source) SeekFraction(f float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekLocked(s.fractionIndex(f))
}

// SeekFrame moves the cursor to index, clamped to [0, TotalFrames].
func (s *Source) SeekFrame(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekLocked(index)
}

// Scrub seeks to fraction f and returns the frame there, leaving the cursor
// on the same frame so the next Read returns it again.
func (s *Source) Scrub(f float64) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.fractionIndex(f)
	if idx >= s.total && s.total > 0 {
		idx = s.total - 1
	}
	if err := s.seekLocked(idx); err != nil {
		return Frame{}, err
	}
	fr, err := s.readLocked()
	if err != nil {
		return Frame{}, err
	}
	if err := s.seekLocked(fr.Index); err != nil {
		return Frame{}, err
	}
	return fr, nil
}

func (s *Source) fractionIndex(f float64) int {
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return int(math.Round(f * float64(s.total)))
}

func (s *Source) seekLocked(index int) error {
	if s.dec == nil {
		return ErrNoSource
	}
	if index < 0 {
		index = 0
	}
	if index > s.total {
		index = s.total
	}
	if err := s.dec.Seek(index); err != nil {
		return &StreamError{Op: "seek", Path: s.path, Err: err}
	}
	return nil
}

// Position returns the index the next Read will return.
func (s *Source) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return 0
	}
	return s.dec.Position()
}

// TotalFrames returns the stream length.
func (s *Source) TotalFrames() int { return s.total }

// FPS returns the playback rate.
func (s *Source) FPS() float64 { return s.fps }

// Close releases the decoder. Later calls return ErrNoSource.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return nil
	}
	err := s.dec.Close()
	s.dec = nil
	return err
}
