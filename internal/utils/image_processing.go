package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// CloneImage returns an independent NRGBA copy of img whose bounds start at the origin.
func CloneImage(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "clone", Err: errors.New("input image is nil")}
	}
	return imaging.Clone(img), nil
}

// ResizeForDisplay scales img to the displayed size described by t.
func ResizeForDisplay(img image.Image, t ScaleTransform) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if t.DisplayWidth <= 0 || t.DisplayHeight <= 0 {
		return nil, &ImageProcessingError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid display size %dx%d", t.DisplayWidth, t.DisplayHeight),
		}
	}
	return imaging.Resize(img, t.DisplayWidth, t.DisplayHeight, imaging.Linear), nil
}
