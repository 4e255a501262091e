package region

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PresetRegion is one saved selection in canvas coordinates.
type PresetRegion struct {
	Field Field `yaml:"field" json:"field"`
	X1    int   `yaml:"x1" json:"x1"`
	Y1    int   `yaml:"y1" json:"y1"`
	X2    int   `yaml:"x2" json:"x2"`
	Y2    int   `yaml:"y2" json:"y2"`
}

// Preset is a saved selection layout.
type Preset struct {
	CanvasWidth  int            `yaml:"canvas_width" json:"canvas_width"`
	CanvasHeight int            `yaml:"canvas_height" json:"canvas_height"`
	Regions      []PresetRegion `yaml:"regions" json:"regions"`
}

// Export captures the registry's committed selections.
func (r *Registry) Export() Preset {
	p := Preset{CanvasWidth: r.opts.Canvas.Dx(), CanvasHeight: r.opts.Canvas.Dy()}
	for _, f := range r.ActiveFields() {
		rect := r.regions[f].Rect()
		p.Regions = append(p.Regions, PresetRegion{
			Field: f,
			X1:    rect.Min.X, Y1: rect.Min.Y,
			X2: rect.Max.X, Y2: rect.Max.Y,
		})
	}
	return p
}

// Apply replaces the registry's selections with the preset. Regions saved
// against a different canvas size are rescaled.
func (r *Registry) Apply(p Preset) error {
	sx, sy := 1.0, 1.0
	if p.CanvasWidth > 0 && p.CanvasHeight > 0 {
		sx = float64(r.opts.Canvas.Dx()) / float64(p.CanvasWidth)
		sy = float64(r.opts.Canvas.Dy()) / float64(p.CanvasHeight)
	}

	r.ClearAll()
	var errs []error
	for _, pr := range p.Regions {
		a := image.Pt(int(float64(pr.X1)*sx), int(float64(pr.Y1)*sy))
		b := image.Pt(int(float64(pr.X2)*sx), int(float64(pr.Y2)*sy))
		if err := r.Set(pr.Field, a, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadPreset reads a YAML preset file.
func LoadPreset(path string) (Preset, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: preset path is operator supplied
	if err != nil {
		return Preset{}, fmt.Errorf("failed to read preset %s: %w", path, err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preset{}, fmt.Errorf("failed to parse preset %s: %w", path, err)
	}
	return p, nil
}

// SavePreset writes p as YAML, creating parent directories.
func SavePreset(path string, p Preset) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preset: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create preset directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write preset %s: %w", path, err)
	}
	return nil
}
