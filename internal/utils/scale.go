package utils

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ScaleTransform maps points in displayed canvas space to source frame pixels.
// The frame is fitted into the canvas preserving aspect ratio and drawn at the
// canvas origin.
type ScaleTransform struct {
	ScaleX        float64 `json:"scale_x" yaml:"scale_x"`
	ScaleY        float64 `json:"scale_y" yaml:"scale_y"`
	FrameWidth    int     `json:"frame_width" yaml:"frame_width"`
	FrameHeight   int     `json:"frame_height" yaml:"frame_height"`
	DisplayWidth  int     `json:"display_width" yaml:"display_width"`
	DisplayHeight int     `json:"display_height" yaml:"display_height"`
}

// FitTransform computes the transform for a frame of frameW x frameH drawn into
// a canvas of canvasW x canvasH. Wider-than-canvas frames fill the width,
// everything else fills the height. The display size is what imaging.Fit
// would produce, except that smaller frames are scaled up as well.
func FitTransform(frameW, frameH, canvasW, canvasH int) (ScaleTransform, error) {
	if frameW <= 0 || frameH <= 0 {
		return ScaleTransform{}, &ImageProcessingError{
			Operation: "fit",
			Err:       fmt.Errorf("invalid frame size %dx%d", frameW, frameH),
		}
	}
	if canvasW <= 0 || canvasH <= 0 {
		return ScaleTransform{}, &ImageProcessingError{
			Operation: "fit",
			Err:       errors.New("canvas size must be positive"),
		}
	}

	aspect := float64(frameW) / float64(frameH)
	canvasAspect := float64(canvasW) / float64(canvasH)

	var newW, newH int
	if aspect > canvasAspect {
		newW = canvasW
		newH = int(float64(canvasW) / aspect)
	} else {
		newH = canvasH
		newW = int(float64(canvasH) * aspect)
	}
	newW = max(newW, 1)
	newH = max(newH, 1)

	return ScaleTransform{
		ScaleX:        float64(frameW) / float64(newW),
		ScaleY:        float64(frameH) / float64(newH),
		FrameWidth:    frameW,
		FrameHeight:   frameH,
		DisplayWidth:  newW,
		DisplayHeight: newH,
	}, nil
}

// IdentityTransform maps canvas pixels one to one onto a frame of the given size.
func IdentityTransform(frameW, frameH int) ScaleTransform {
	return ScaleTransform{
		ScaleX: 1, ScaleY: 1,
		FrameWidth: frameW, FrameHeight: frameH,
		DisplayWidth: frameW, DisplayHeight: frameH,
	}
}

// IsZero reports whether the transform has not been computed yet.
func (t ScaleTransform) IsZero() bool {
	return t.FrameWidth == 0 || t.FrameHeight == 0
}

// FrameBounds returns the source frame rectangle.
func (t ScaleTransform) FrameBounds() image.Rectangle {
	return image.Rect(0, 0, t.FrameWidth, t.FrameHeight)
}

// ToSource maps a canvas point to source frame coordinates.
func (t ScaleTransform) ToSource(p image.Point) (float64, float64) {
	return float64(p.X) * t.ScaleX, float64(p.Y) * t.ScaleY
}

// ToCanvas maps a source frame point back to canvas space, rounding to the
// nearest pixel.
func (t ScaleTransform) ToCanvas(x, y float64) image.Point {
	if t.ScaleX == 0 || t.ScaleY == 0 {
		return image.Point{}
	}
	return image.Pt(int(math.Round(x/t.ScaleX)), int(math.Round(y/t.ScaleY)))
}

// SourceRect maps the canvas rectangle spanned by a and b into the source
// frame, clamped to [0,FrameWidth] x [0,FrameHeight].
func (t ScaleTransform) SourceRect(a, b image.Point) image.Rectangle {
	x1, y1 := t.ToSource(a)
	x2, y2 := t.ToSource(b)
	return NewBox(x1, y1, x2, y2).ToRect(t.FrameBounds())
}
