package testutil

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MeKo-Tech/vidtally/internal/utils"
	"github.com/stretchr/testify/require"
)

// Field codes used by the frame markers. They match the order of the
// application's credits, bet and win fields.
const (
	MarkerCredits = 0
	MarkerBet     = 1
	MarkerWin     = 2
)

const markerBase = 0x40

var frameBackground = color.RGBA{R: 32, G: 32, B: 32, A: 255}

// MarkerColor encodes a frame index and field code in a solid colour so a
// fake recognizer can tell which region of which frame it was shown.
func MarkerColor(frame, field int) color.RGBA {
	return color.RGBA{
		R: uint8(frame & 0xff),
		G: uint8((frame >> 8) & 0xff),
		B: uint8(markerBase + field),
		A: 255,
	}
}

// DecodeMarker reads the marker at the centre of img.
func DecodeMarker(img image.Image) (frame, field int, ok bool) {
	b := img.Bounds()
	if b.Empty() {
		return 0, 0, false
	}
	c := color.RGBAModel.Convert(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.RGBA)
	if c.B < markerBase || c.B > markerBase+MarkerWin {
		return 0, 0, false
	}
	return int(c.R) | int(c.G)<<8, int(c.B) - markerBase, true
}

// FrameLayout describes synthetic frames: their size and where each field's
// marker is painted, in frame pixels.
type FrameLayout struct {
	Size    ImageSize
	Regions map[int]image.Rectangle
}

// DefaultFrameLayout is a 320x180 frame with three markers along the bottom.
func DefaultFrameLayout() FrameLayout {
	return FrameLayout{
		Size: SmallSize,
		Regions: map[int]image.Rectangle{
			MarkerCredits: image.Rect(20, 140, 100, 170),
			MarkerBet:     image.Rect(120, 140, 200, 170),
			MarkerWin:     image.Rect(220, 140, 300, 170),
		},
	}
}

// PaintFrame renders frame index idx.
func (l FrameLayout) PaintFrame(idx int) *image.RGBA {
	img := CreateTestImage(l.Size.Width, l.Size.Height, frameBackground)
	for field, r := range l.Regions {
		draw.Draw(img, r, &image.Uniform{MarkerColor(idx, field)}, image.Point{}, draw.Src)
	}
	return img
}

// SaveSequence writes n PNG frames into dir.
func SaveSequence(dir string, layout FrameLayout, n int) error {
	for i := range n {
		if err := utils.SaveImage(layout.PaintFrame(i), filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i))); err != nil {
			return err
		}
	}
	return nil
}

// WriteSequence writes n PNG frames into dir and returns dir.
func WriteSequence(t *testing.T, dir string, layout FrameLayout, n int) string {
	t.Helper()
	require.NoError(t, SaveSequence(dir, layout, n))
	return dir
}

// ScriptedRecognizer returns scripted text for marker crops. Frames without a
// script entry read as the empty string.
type ScriptedRecognizer struct {
	mu     sync.Mutex
	script map[int]map[int]string
	fail   map[int]map[int]error
	calls  int
}

// NewScriptedRecognizer returns an empty script.
func NewScriptedRecognizer() *ScriptedRecognizer {
	return &ScriptedRecognizer{
		script: map[int]map[int]string{},
		fail:   map[int]map[int]error{},
	}
}

// Set scripts the three readings of one frame.
func (s *ScriptedRecognizer) Set(frame int, credits, bet, win string) *ScriptedRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[frame] = map[int]string{MarkerCredits: credits, MarkerBet: bet, MarkerWin: win}
	return s
}

// SetRange scripts frames [0, n) with the same readings.
func (s *ScriptedRecognizer) SetRange(n int, credits, bet, win string) *ScriptedRecognizer {
	for i := 0; i < n; i++ {
		s.Set(i, credits, bet, win)
	}
	return s
}

// Fail makes one field of one frame return err.
func (s *ScriptedRecognizer) Fail(frame, field int, err error) *ScriptedRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[frame] == nil {
		s.fail[frame] = map[int]error{}
	}
	s.fail[frame][field] = err
	return s
}

// Calls returns the number of Recognize calls.
func (s *ScriptedRecognizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Recognize decodes the crop's marker and returns the scripted text.
func (s *ScriptedRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	frame, field, ok := DecodeMarker(img)
	if !ok {
		return "", errors.New("no marker in crop")
	}
	if err := s.fail[frame][field]; err != nil {
		return "", err
	}
	return s.script[frame][field], nil
}

// Gate holds recognitions back until Open is called.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a closed gate.
func NewGate() *Gate { return &Gate{ch: make(chan struct{})} }

// Open releases all held and future recognitions. It is safe to call more
// than once.
func (g *Gate) Open() { g.once.Do(func() { close(g.ch) }) }

// Hold wraps next so that every call waits for Open.
func (g *Gate) Hold(
	next func(ctx context.Context, img image.Image) (string, error),
) func(ctx context.Context, img image.Image) (string, error) {
	return func(ctx context.Context, img image.Image) (string, error) {
		select {
		case <-g.ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return next(ctx, img)
	}
}
