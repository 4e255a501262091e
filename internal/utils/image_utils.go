package utils

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Box represents an axis-aligned bounding box in float coordinates.
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBox constructs a Box from two corners in any order.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// ToRect converts a Box to an image.Rectangle, clamped to bounds.
// Fractional coordinates are floored.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := ClampInt(int(math.Floor(b.MinX)), bounds.Min.X, bounds.Max.X)
	y1 := ClampInt(int(math.Floor(b.MinY)), bounds.Min.Y, bounds.Max.Y)
	x2 := ClampInt(int(math.Floor(b.MaxX)), bounds.Min.X, bounds.Max.X)
	y2 := ClampInt(int(math.Floor(b.MaxY)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

// ClampInt limits v to the closed range [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPoint limits p to the closed rectangle spanned by bounds.
func ClampPoint(p image.Point, bounds image.Rectangle) image.Point {
	return image.Pt(
		ClampInt(p.X, bounds.Min.X, bounds.Max.X),
		ClampInt(p.Y, bounds.Min.Y, bounds.Max.Y),
	)
}

// CropImageRect crops an image to the given rectangle.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}

// ToRGBA returns a drawable copy of img.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	// Top and bottom edges
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	// Left and right edges
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// DrawLabel writes text with its baseline just above the given point.
// Labels that would leave the image are moved inside it.
func DrawLabel(dst *image.RGBA, at image.Point, text string, col color.Color) {
	face := basicfont.Face7x13
	x := at.X
	y := at.Y - 3
	if y-face.Ascent < dst.Bounds().Min.Y {
		y = at.Y + face.Ascent + 3
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
