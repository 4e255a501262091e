package pipeline

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// ArtifactWriter saves the frames and crops an extraction looked at.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter writes below dir. An empty dir disables writing.
func NewArtifactWriter(dir string) *ArtifactWriter {
	return &ArtifactWriter{dir: dir}
}

// Dir returns the output directory.
func (a *ArtifactWriter) Dir() string { return a.dir }

// FramePath returns the path of the full frame image.
func (a *ArtifactWriter) FramePath(frame int) string {
	return filepath.Join(a.dir, fmt.Sprintf("frame_%06d.jpg", frame))
}

// CropPath returns the path of one field's crop.
func (a *ArtifactWriter) CropPath(frame int, field region.Field) string {
	return filepath.Join(a.dir, fmt.Sprintf("frame_%06d_%s.jpg", frame, strings.ToLower(field.Label())))
}

// AnnotatedPath returns the path of the outlined frame.
func (a *ArtifactWriter) AnnotatedPath(frame int) string {
	return filepath.Join(a.dir, fmt.Sprintf("frame_%06d_annotated.jpg", frame))
}

// WriteFrame saves the full frame.
func (a *ArtifactWriter) WriteFrame(snap *frames.Snapshot) error {
	if a.dir == "" {
		return nil
	}
	return utils.SaveImage(snap.Image, a.FramePath(snap.FrameIndex))
}

// WriteCrop saves one field's crop.
func (a *ArtifactWriter) WriteCrop(frame int, field region.Field, crop image.Image) error {
	if a.dir == "" {
		return nil
	}
	return utils.SaveImage(crop, a.CropPath(frame, field))
}

// WriteAnnotated saves the frame with every region outlined and labelled.
func (a *ArtifactWriter) WriteAnnotated(snap *frames.Snapshot, rects map[region.Field]image.Rectangle) error {
	if a.dir == "" {
		return nil
	}
	return utils.SaveImage(Annotate(snap.Image, rects), a.AnnotatedPath(snap.FrameIndex))
}

// Annotate returns a copy of img with each rectangle outlined in its
// field colour and labelled.
func Annotate(img image.Image, rects map[region.Field]image.Rectangle) *image.RGBA {
	out := utils.ToRGBA(img)
	origin := img.Bounds().Min
	for _, f := range region.Fields {
		r, ok := rects[f]
		if !ok {
			continue
		}
		r = r.Sub(origin)
		utils.DrawRect(out, r, f.Color(), 2)
		utils.DrawLabel(out, r.Min, f.Label(), f.Color())
	}
	return out
}
