package region

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// State is the lifecycle stage of a single selection.
type State int

const (
	Inactive State = iota
	Drawing
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Drawing:
		return "drawing"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Direction is a nudge direction.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
	Up    Direction = "up"
	Down  Direction = "down"
)

// ErrUnknownField is returned for fields outside the closed set.
var ErrUnknownField = errors.New("unknown field")

// Selection is one field's region in canvas coordinates.
type Selection struct {
	Field   Field       `json:"field"`
	State   State       `json:"-"`
	Start   image.Point `json:"start"`
	Current image.Point `json:"current"`
}

// Active reports whether the selection has been committed.
func (s Selection) Active() bool { return s.State == Active }

// Rect returns the canonical canvas rectangle spanned by the two corners.
func (s Selection) Rect() image.Rectangle {
	return image.Rectangle{Min: s.Start, Max: s.Current}.Canon()
}

// Options configures a Registry.
type Options struct {
	Canvas    image.Rectangle
	MinSize   int
	NudgeStep int
}

// DefaultOptions returns the stock 1280x720 canvas with 10px minimum regions
// and 5px nudges.
func DefaultOptions() Options {
	return Options{
		Canvas:    image.Rect(0, 0, 1280, 720),
		MinSize:   10,
		NudgeStep: 5,
	}
}

// Registry owns the CREDITS, BET and WIN selections.
//
// Mutating methods must be called from a single goroutine. Other goroutines
// read the committed layout through Geometry, which is replaced atomically
// after every change.
type Registry struct {
	opts      Options
	regions   [fieldCount]Selection
	transform utils.ScaleTransform
	version   uint64
	published atomic.Pointer[Geometry]
}

// NewRegistry creates a registry with every field inactive.
func NewRegistry(opts Options) *Registry {
	if opts.Canvas.Empty() {
		opts.Canvas = DefaultOptions().Canvas
	}
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultOptions().MinSize
	}
	if opts.NudgeStep <= 0 {
		opts.NudgeStep = DefaultOptions().NudgeStep
	}
	r := &Registry{opts: opts}
	for _, f := range Fields {
		r.regions[f] = Selection{Field: f}
	}
	r.publish()
	return r
}

// Options returns the registry configuration.
func (r *Registry) Options() Options { return r.opts }

// Begin starts a fresh selection for field at p, discarding any prior one.
func (r *Registry) Begin(field Field, p image.Point) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownField, int(field))
	}
	p = utils.ClampPoint(p, r.opts.Canvas)
	r.regions[field] = Selection{Field: field, State: Drawing, Start: p, Current: p}
	r.publish()
	return nil
}

// Update moves the free corner of a selection that is being drawn.
// It reports false when the field is not being drawn.
func (r *Registry) Update(field Field, p image.Point) bool {
	if !field.Valid() || r.regions[field].State != Drawing {
		return false
	}
	r.regions[field].Current = utils.ClampPoint(p, r.opts.Canvas)
	return true
}

// Commit finishes drawing. Selections smaller than MinSize in either axis
// revert to inactive. It reports whether the field is now active.
func (r *Registry) Commit(field Field) bool {
	if !field.Valid() || r.regions[field].State != Drawing {
		return false
	}
	sel := r.regions[field]
	dx := abs(sel.Current.X - sel.Start.X)
	dy := abs(sel.Current.Y - sel.Start.Y)
	if dx < r.opts.MinSize || dy < r.opts.MinSize {
		r.regions[field] = Selection{Field: field}
		r.publish()
		return false
	}
	r.regions[field].State = Active
	r.publish()
	return true
}

// Set places a committed selection spanning a and b in one step.
func (r *Registry) Set(field Field, a, b image.Point) error {
	if err := r.Begin(field, a); err != nil {
		return err
	}
	r.Update(field, b)
	if !r.Commit(field) {
		return fmt.Errorf("%s selection smaller than %dx%d", field.Label(), r.opts.MinSize, r.opts.MinSize)
	}
	return nil
}

// Clear resets one field to inactive.
func (r *Registry) Clear(field Field) {
	if !field.Valid() {
		return
	}
	r.regions[field] = Selection{Field: field}
	r.publish()
}

// ClearAll resets every field.
func (r *Registry) ClearAll() {
	for _, f := range Fields {
		r.regions[f] = Selection{Field: f}
	}
	r.publish()
}

// Selection returns a copy of one field's selection.
func (r *Registry) Selection(field Field) Selection {
	if !field.Valid() {
		return Selection{Field: field}
	}
	return r.regions[field]
}

// Selections returns a copy of every selection in canonical order.
func (r *Registry) Selections() []Selection {
	out := make([]Selection, 0, fieldCount)
	for _, f := range Fields {
		out = append(out, r.regions[f])
	}
	return out
}

// ActiveFields returns the committed fields in canonical order.
func (r *Registry) ActiveFields() []Field {
	var out []Field
	for _, f := range Fields {
		if r.regions[f].Active() {
			out = append(out, f)
		}
	}
	return out
}

// SourceRect maps an active field to source frame pixels.
func (r *Registry) SourceRect(field Field, t utils.ScaleTransform) (image.Rectangle, bool) {
	if !field.Valid() || !r.regions[field].Active() {
		return image.Rectangle{}, false
	}
	return sourceRect(r.regions[field], t)
}

// Nudge shifts an active selection by NudgeStep pixels, keeping it on the
// canvas, and returns a human readable status line.
func (r *Registry) Nudge(field Field, dir Direction) (string, error) {
	if !field.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownField, int(field))
	}
	var dx, dy int
	step := r.opts.NudgeStep
	switch dir {
	case Left:
		dx = -step
	case Right:
		dx = step
	case Up:
		dy = -step
	case Down:
		dy = step
	default:
		return "", fmt.Errorf("unknown nudge direction %q", dir)
	}

	sel := r.regions[field]
	if !sel.Active() {
		return fmt.Sprintf("No active %s selection to nudge", field.Label()), nil
	}

	// Shift both corners together so the selection keeps its size at the edges.
	rect := sel.Rect()
	c := r.opts.Canvas
	dx = utils.ClampInt(dx, c.Min.X-rect.Min.X, c.Max.X-rect.Max.X)
	dy = utils.ClampInt(dy, c.Min.Y-rect.Min.Y, c.Max.Y-rect.Max.Y)
	sel.Start = sel.Start.Add(image.Pt(dx, dy))
	sel.Current = sel.Current.Add(image.Pt(dx, dy))
	r.regions[field] = sel
	r.publish()

	return fmt.Sprintf("Nudged %s selection %s by %d pixels", field.Label(), dir, step), nil
}

// SetTransform records the transform of the frame currently on the canvas.
func (r *Registry) SetTransform(t utils.ScaleTransform) {
	if t == r.transform {
		return
	}
	r.transform = t
	r.publish()
}

// Transform returns the transform of the frame currently on the canvas.
func (r *Registry) Transform() utils.ScaleTransform { return r.transform }

// Geometry returns the most recently published layout. Safe for concurrent use.
func (r *Registry) Geometry() *Geometry { return r.published.Load() }

func (r *Registry) publish() {
	r.version++
	g := &Geometry{Version: r.version, Transform: r.transform}
	for _, f := range Fields {
		if r.regions[f].Active() {
			g.active[f] = true
			g.rects[f] = r.regions[f]
		}
	}
	r.published.Store(g)
}

func sourceRect(sel Selection, t utils.ScaleTransform) (image.Rectangle, bool) {
	if t.IsZero() {
		return image.Rectangle{}, false
	}
	rect := t.SourceRect(sel.Start, sel.Current)
	if rect.Empty() {
		return image.Rectangle{}, false
	}
	return rect, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
