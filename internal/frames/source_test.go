package frames

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MeKo-Tech/vidtally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDecoder serves in-memory frames.
type memDecoder struct {
	frames []image.Image
	fps    float64
	pos    int
	failAt int
	closed bool
}

func newMemDecoder(n int, fps float64) *memDecoder {
	layout := testutil.DefaultFrameLayout()
	d := &memDecoder{fps: fps, failAt: -1}
	for i := range n {
		d.frames = append(d.frames, layout.PaintFrame(i))
	}
	return d
}

func (d *memDecoder) Next() (image.Image, error) {
	if d.pos == d.failAt {
		return nil, errors.New("corrupt packet")
	}
	if d.pos >= len(d.frames) {
		return nil, ErrEndOfStream
	}
	img := d.frames[d.pos]
	d.pos++
	return img, nil
}

func (d *memDecoder) Seek(i int) error { d.pos = i; return nil }
func (d *memDecoder) Position() int    { return d.pos }
func (d *memDecoder) FrameCount() int  { return len(d.frames) }
func (d *memDecoder) FPS() float64     { return d.fps }
func (d *memDecoder) Close() error     { d.closed = true; return nil }

func markerFrame(t *testing.T, img image.Image) int {
	t.Helper()
	sub := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}).SubImage(testutil.DefaultFrameLayout().Regions[testutil.MarkerCredits])
	frame, _, ok := testutil.DecodeMarker(sub)
	require.True(t, ok)
	return frame
}

func TestSourceReadAdvances(t *testing.T) {
	src := NewSource(newMemDecoder(3, 30), 0)
	for i := range 3 {
		fr, err := src.Read()
		require.NoError(t, err)
		assert.Equal(t, i, fr.Index)
		assert.Equal(t, i, markerFrame(t, fr.Image))
	}
	_, err := src.Read()
	require.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, 3, src.Position(), "end of stream must not advance")
}

func TestSourceSeekFraction(t *testing.T) {
	tests := []struct {
		f    float64
		want int
	}{
		{0, 0},
		{0.5, 150},
		{0.1, 30},
		{0.0517, 16},
		{1, 300},
		{1.5, 300},
		{-0.2, 0},
	}
	for _, tt := range tests {
		src := NewSource(newMemDecoder(300, 30), 0)
		require.NoError(t, src.SeekFraction(tt.f))
		assert.Equal(t, tt.want, src.Position(), "fraction %v", tt.f)
	}
}

func TestSourceScrubKeepsCursorOnFrame(t *testing.T) {
	src := NewSource(newMemDecoder(100, 30), 0)
	fr, err := src.Scrub(0.25)
	require.NoError(t, err)
	assert.Equal(t, 25, fr.Index)
	assert.Equal(t, 25, src.Position())

	next, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 25, next.Index)

	fr, err = src.Scrub(1)
	require.NoError(t, err)
	assert.Equal(t, 99, fr.Index, "scrubbing to the end shows the last frame")
}

func TestSourceReadErrorIsStreamError(t *testing.T) {
	dec := newMemDecoder(5, 30)
	dec.failAt = 2
	src := NewSource(dec, 0)
	_, _ = src.Read()
	_, _ = src.Read()
	_, err := src.Read()
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "read", se.Op)
}

func TestSourceFPS(t *testing.T) {
	assert.Equal(t, 25.0, NewSource(newMemDecoder(1, 25), 0).FPS())
	assert.Equal(t, 60.0, NewSource(newMemDecoder(1, 25), 60).FPS())
	assert.Equal(t, 30.0, NewSource(newMemDecoder(1, 0), 0).FPS())
}

func TestSourceClose(t *testing.T) {
	dec := newMemDecoder(2, 30)
	src := NewSource(dec, 0)
	require.NoError(t, src.Close())
	assert.True(t, dec.closed)
	_, err := src.Read()
	require.ErrorIs(t, err, ErrNoSource)
	require.ErrorIs(t, src.SeekFrame(0), ErrNoSource)
	require.NoError(t, src.Close())
}

func TestSourceConcurrentAccess(t *testing.T) {
	src := NewSource(newMemDecoder(200, 30), 0)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			if _, err := src.Read(); errors.Is(err, ErrEndOfStream) {
				_ = src.SeekFrame(0)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 50 {
			_ = src.SeekFraction(float64(i%10) / 10)
			_ = src.Position()
		}
	}()
	wg.Wait()
	pos := src.Position()
	assert.GreaterOrEqual(t, pos, 0)
	assert.LessOrEqual(t, pos, 200)
}

func TestOpenSequence(t *testing.T) {
	dir := testutil.WriteSequence(t, t.TempDir(), testutil.DefaultFrameLayout(), 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	src, err := Open(dir, Options{SequenceFPS: 24})
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	assert.Equal(t, 4, src.TotalFrames())
	assert.Equal(t, 24.0, src.FPS())
	assert.Equal(t, dir, src.Path())

	require.NoError(t, src.SeekFrame(2))
	fr, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 2, markerFrame(t, fr.Image))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), DefaultOptions())
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "open", se.Op)

	_, err = Open(t.TempDir(), DefaultOptions())
	require.ErrorIs(t, err, ErrUnsupported)
}
