package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

// SmallSize is the frame size of generated test videos.
var SmallSize = ImageSize{320, 180}

// TestImageConfig holds configuration for generating test images.
type TestImageConfig struct {
	Text       string
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	FontFace   font.Face
}

// GenerateTextImage renders the configured text centred on a solid background.
func GenerateTextImage(config TestImageConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, config.Size.Width, config.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)
	if config.Text == "" {
		return img
	}
	face := config.FontFace
	if face == nil {
		face = basicfont.Face7x13
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{config.Foreground},
		Face: face,
	}
	textWidth := drawer.MeasureString(config.Text).Ceil()
	textHeight := face.Metrics().Height.Ceil()
	drawer.Dot = fixed.P((config.Size.Width-textWidth)/2, (config.Size.Height+textHeight)/2)
	drawer.DrawString(config.Text)
	return img
}

// CreateTestImage returns a solid image.
func CreateTestImage(width, height int, backgroundColor color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")
	return img
}
