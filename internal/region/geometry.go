package region

import (
	"image"

	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// Geometry is an immutable view of the committed selections and the canvas
// transform they were drawn against.
type Geometry struct {
	Version   uint64
	Transform utils.ScaleTransform

	active [fieldCount]bool
	rects  [fieldCount]Selection
}

// ActiveFields returns the committed fields in canonical order.
func (g *Geometry) ActiveFields() []Field {
	if g == nil {
		return nil
	}
	var out []Field
	for _, f := range Fields {
		if g.active[f] {
			out = append(out, f)
		}
	}
	return out
}

// HasActive reports whether at least one field is committed.
func (g *Geometry) HasActive() bool {
	return len(g.ActiveFields()) > 0
}

// CanvasRect returns a committed field's rectangle in canvas space.
func (g *Geometry) CanvasRect(field Field) (image.Rectangle, bool) {
	if g == nil || !field.Valid() || !g.active[field] {
		return image.Rectangle{}, false
	}
	return g.rects[field].Rect(), true
}

// SourceRect maps a committed field into a frame with the given bounds.
// When no transform has been recorded the canvas is assumed to show the
// frame unscaled.
func (g *Geometry) SourceRect(field Field, frame image.Rectangle) (image.Rectangle, bool) {
	if g == nil || !field.Valid() || !g.active[field] {
		return image.Rectangle{}, false
	}
	t := g.Transform
	if t.IsZero() {
		t = utils.IdentityTransform(frame.Dx(), frame.Dy())
	}
	rect, ok := sourceRect(g.rects[field], t)
	if !ok {
		return image.Rectangle{}, false
	}
	rect = rect.Add(frame.Min).Intersect(frame)
	if rect.Empty() {
		return image.Rectangle{}, false
	}
	return rect, true
}
