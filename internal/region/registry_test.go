package region

import (
	"image"
	"testing"

	"github.com/MeKo-Tech/vidtally/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drag(t *testing.T, r *Registry, f Field, a, b image.Point) bool {
	t.Helper()
	require.NoError(t, r.Begin(f, a))
	r.Update(f, b)
	return r.Commit(f)
}

func TestNewRegistryStartsInactive(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	for _, f := range Fields {
		assert.Equal(t, Inactive, r.Selection(f).State)
	}
	assert.Empty(t, r.ActiveFields())
	assert.False(t, r.Geometry().HasActive())
}

func TestCommitMinimumSize(t *testing.T) {
	tests := []struct {
		name   string
		end    image.Point
		active bool
	}{
		{"exactly minimum", image.Pt(110, 110), true},
		{"large", image.Pt(300, 200), true},
		{"too narrow", image.Pt(109, 200), false},
		{"too short", image.Pt(200, 109), false},
		{"dragged up-left", image.Pt(50, 50), true},
		{"click without drag", image.Pt(100, 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(DefaultOptions())
			got := drag(t, r, Credits, image.Pt(100, 100), tt.end)
			assert.Equal(t, tt.active, got)
			assert.Equal(t, tt.active, r.Selection(Credits).Active())
			if !tt.active {
				assert.Equal(t, Inactive, r.Selection(Credits).State)
			}
		})
	}
}

func TestUpdateClampsToCanvas(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	require.NoError(t, r.Begin(Win, image.Pt(-20, 10)))
	assert.True(t, r.Update(Win, image.Pt(5000, 9000)))

	sel := r.Selection(Win)
	assert.Equal(t, image.Pt(0, 10), sel.Start)
	assert.Equal(t, image.Pt(1280, 720), sel.Current)
}

func TestUpdateIgnoredUnlessDrawing(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	assert.False(t, r.Update(Bet, image.Pt(10, 10)))
	assert.False(t, r.Commit(Bet))

	require.True(t, drag(t, r, Bet, image.Pt(0, 0), image.Pt(50, 50)))
	assert.False(t, r.Update(Bet, image.Pt(500, 500)))
	assert.Equal(t, image.Pt(50, 50), r.Selection(Bet).Current)
}

func TestBeginDiscardsPriorSelection(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	require.True(t, drag(t, r, Credits, image.Pt(0, 0), image.Pt(50, 50)))
	require.NoError(t, r.Begin(Credits, image.Pt(200, 200)))

	assert.Equal(t, Drawing, r.Selection(Credits).State)
	assert.Empty(t, r.Geometry().ActiveFields(), "a selection being redrawn is not published")
}

func TestClearAndClearAll(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	for _, f := range Fields {
		require.True(t, drag(t, r, f, image.Pt(0, 0), image.Pt(40, 40)))
	}
	assert.Equal(t, []Field{Credits, Bet, Win}, r.ActiveFields())

	r.Clear(Bet)
	assert.Equal(t, []Field{Credits, Win}, r.ActiveFields())

	r.ClearAll()
	assert.Empty(t, r.ActiveFields())
	assert.Empty(t, r.Geometry().ActiveFields())
}

func TestSourceRect(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	tr, err := utils.FitTransform(1920, 1080, 1280, 720)
	require.NoError(t, err)

	_, ok := r.SourceRect(Credits, tr)
	assert.False(t, ok, "inactive field has no source rect")

	require.True(t, drag(t, r, Credits, image.Pt(200, 100), image.Pt(100, 50)))
	rect, ok := r.SourceRect(Credits, tr)
	require.True(t, ok)
	assert.Equal(t, image.Rect(150, 75, 300, 150), rect)

	require.True(t, drag(t, r, Win, image.Pt(1200, 700), image.Pt(1280, 720)))
	rect, ok = r.SourceRect(Win, tr)
	require.True(t, ok)
	assert.Equal(t, image.Rect(1800, 1050, 1920, 1080), rect)
}

func TestSourceRectClampsToSmallerFrame(t *testing.T) {
	// A 1280x720 canvas showing a portrait frame leaves empty canvas on the right.
	r := NewRegistry(DefaultOptions())
	tr, err := utils.FitTransform(360, 640, 1280, 720)
	require.NoError(t, err)
	require.True(t, drag(t, r, Bet, image.Pt(300, 10), image.Pt(900, 100)))

	rect, ok := r.SourceRect(Bet, tr)
	require.True(t, ok)
	assert.Equal(t, 360, rect.Max.X)
	assert.True(t, rect.In(image.Rect(0, 0, 360, 640)))
}

func TestNudge(t *testing.T) {
	r := NewRegistry(DefaultOptions())

	msg, err := r.Nudge(Credits, Left)
	require.NoError(t, err)
	assert.Equal(t, "No active Credits selection to nudge", msg)

	require.True(t, drag(t, r, Credits, image.Pt(100, 100), image.Pt(200, 150)))
	msg, err = r.Nudge(Credits, Left)
	require.NoError(t, err)
	assert.Equal(t, "Nudged Credits selection left by 5 pixels", msg)
	assert.Equal(t, image.Rect(95, 100, 195, 150), r.Selection(Credits).Rect())

	_, err = r.Nudge(Credits, Down)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(95, 105, 195, 155), r.Selection(Credits).Rect())

	_, err = r.Nudge(Credits, Direction("sideways"))
	require.Error(t, err)
}

func TestNudgeStopsAtCanvasEdge(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	require.True(t, drag(t, r, Win, image.Pt(2, 0), image.Pt(50, 40)))
	_, err := r.Nudge(Win, Left)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 48, 40), r.Selection(Win).Rect())
	_, err = r.Nudge(Win, Up)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 48, 40), r.Selection(Win).Rect())
}

func TestGeometryPublishedOnChange(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	g0 := r.Geometry()
	require.True(t, drag(t, r, Credits, image.Pt(0, 0), image.Pt(20, 20)))
	g1 := r.Geometry()

	assert.Greater(t, g1.Version, g0.Version)
	assert.Empty(t, g0.ActiveFields(), "earlier snapshots stay unchanged")
	assert.Equal(t, []Field{Credits}, g1.ActiveFields())

	rect, ok := g1.CanvasRect(Credits)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 20, 20), rect)

	tr, err := utils.FitTransform(2560, 1440, 1280, 720)
	require.NoError(t, err)
	r.SetTransform(tr)
	g2 := r.Geometry()
	assert.Equal(t, tr, g2.Transform)
	src, ok := g2.SourceRect(Credits, image.Rect(0, 0, 2560, 1440))
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 40, 40), src)
}

func TestGeometrySourceRectWithoutTransform(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	require.True(t, drag(t, r, Bet, image.Pt(10, 10), image.Pt(30, 40)))
	rect, ok := r.Geometry().SourceRect(Bet, image.Rect(0, 0, 25, 25))
	require.True(t, ok)
	assert.Equal(t, image.Rect(10, 10, 25, 25), rect)

	var nilGeom *Geometry
	_, ok = nilGeom.SourceRect(Bet, image.Rect(0, 0, 10, 10))
	assert.False(t, ok)
}

func TestInvalidField(t *testing.T) {
	r := NewRegistry(DefaultOptions())
	require.ErrorIs(t, r.Begin(Field(7), image.Pt(0, 0)), ErrUnknownField)
	_, err := r.Nudge(Field(-1), Left)
	require.ErrorIs(t, err, ErrUnknownField)
}
