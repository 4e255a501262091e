package region

import (
	"fmt"
	"image/color"
	"strings"
)

// Field identifies one of the tracked on-screen values.
type Field int

const (
	Credits Field = iota
	Bet
	Win

	fieldCount
)

// Fields lists every field in canonical order.
var Fields = [fieldCount]Field{Credits, Bet, Win}

var fieldNames = [fieldCount]string{"credits", "bet", "win"}

var fieldLabels = [fieldCount]string{"Credits", "Bet", "Win"}

var fieldColors = [fieldCount]color.RGBA{
	{R: 255, A: 255},
	{B: 255, A: 255},
	{G: 255, A: 255},
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool { return f >= 0 && f < fieldCount }

// String returns the lower-case key used in config files and URLs.
func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Label returns the display label.
func (f Field) Label() string {
	if !f.Valid() {
		return f.String()
	}
	return fieldLabels[f]
}

// Color returns the outline colour used when drawing the region.
func (f Field) Color() color.RGBA {
	if !f.Valid() {
		return color.RGBA{A: 255}
	}
	return fieldColors[f]
}

// MarshalText implements encoding.TextMarshaler.
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid field %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Field) UnmarshalText(b []byte) error {
	v, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseField accepts a field key or label, case-insensitively.
func ParseField(s string) (Field, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range fieldNames {
		if key == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q (must be one of: %s)", s, strings.Join(fieldNames[:], ", "))
}
