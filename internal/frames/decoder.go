package frames

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// Decoder is a seekable stream of frames. Implementations need not be safe
// for concurrent use; Source serializes access.
type Decoder interface {
	// Next decodes the frame at the cursor and advances it. It returns
	// ErrEndOfStream without advancing once the cursor is past the end.
	Next() (image.Image, error)
	// Seek moves the cursor so the next call to Next returns frame index.
	Seek(index int) error
	Position() int
	FrameCount() int
	FPS() float64
	Close() error
}

// Options configures how sources are opened.
type Options struct {
	// SequenceFPS is the frame rate assumed for image directories.
	SequenceFPS float64
	// FPSOverride replaces the rate reported by the decoder when positive.
	FPSOverride float64
}

// DefaultOptions returns 30 fps for image sequences and no override.
func DefaultOptions() Options {
	return Options{SequenceFPS: 30}
}

// OpenDecoder picks a decoder for path: directories of images are played as
// sequences, other files go to the video decoder compiled into the binary.
func OpenDecoder(path string, opts Options) (Decoder, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &StreamError{Op: "open", Path: path, Err: err}
	}
	if info.IsDir() {
		return OpenSequence(path, opts.SequenceFPS)
	}
	return openVideo(path)
}

// SequenceDecoder plays a directory of still images in file name order.
type SequenceDecoder struct {
	dir   string
	files []string
	fps   float64
	pos   int
}

// OpenSequence lists the supported images in dir.
func OpenSequence(dir string, fps float64) (*SequenceDecoder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StreamError{Op: "open", Path: dir, Err: err}
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, &StreamError{Op: "open", Path: dir, Err: fmt.Errorf("%w: no images in directory", ErrUnsupported)}
	}
	sort.Strings(files)
	if fps <= 0 {
		fps = DefaultOptions().SequenceFPS
	}
	return &SequenceDecoder{dir: dir, files: files, fps: fps}, nil
}

// Next implements Decoder.
func (d *SequenceDecoder) Next() (image.Image, error) {
	if d.pos >= len(d.files) {
		return nil, ErrEndOfStream
	}
	img, err := utils.LoadImage(d.files[d.pos])
	if err != nil {
		return nil, &StreamError{Op: "read", Path: d.files[d.pos], Err: err}
	}
	d.pos++
	return img, nil
}

// Seek implements Decoder.
func (d *SequenceDecoder) Seek(index int) error {
	d.pos = utils.ClampInt(index, 0, len(d.files))
	return nil
}

// Position implements Decoder.
func (d *SequenceDecoder) Position() int { return d.pos }

// FrameCount implements Decoder.
func (d *SequenceDecoder) FrameCount() int { return len(d.files) }

// FPS implements Decoder.
func (d *SequenceDecoder) FPS() float64 { return d.fps }

// Close implements Decoder.
func (d *SequenceDecoder) Close() error { return nil }
