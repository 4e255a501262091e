package testutil

import (
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/stretchr/testify/require"
)

// LayoutPreset places every region over its marker of DefaultFrameLayout on
// the default 1280x720 canvas, where a 320x180 frame is shown at scale 4.
func LayoutPreset() region.Preset {
	p := region.Preset{CanvasWidth: 1280, CanvasHeight: 720}
	for _, f := range region.Fields {
		r := DefaultFrameLayout().Regions[int(f)]
		p.Regions = append(p.Regions, region.PresetRegion{
			Field: f,
			X1:    r.Min.X * 4, Y1: r.Min.Y * 4,
			X2: r.Max.X * 4, Y2: r.Max.Y * 4,
		})
	}
	return p
}

// WriteLayoutPreset saves LayoutPreset as regions.yaml in dir.
func WriteLayoutPreset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "regions.yaml")
	require.NoError(t, region.SavePreset(path, LayoutPreset()))
	return path
}
