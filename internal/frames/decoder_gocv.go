//go:build gocv

package frames

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// GoCVDecoder decodes video containers through OpenCV.
type GoCVDecoder struct {
	path    string
	capture *gocv.VideoCapture
	mat     gocv.Mat
	total   int
	fps     float64
	pos     int
}

func openVideo(path string) (Decoder, error) {
	return OpenGoCV(path)
}

// OpenGoCV opens a video file with OpenCV.
func OpenGoCV(path string) (*GoCVDecoder, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &StreamError{Op: "open", Path: path, Err: err}
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, &StreamError{Op: "open", Path: path, Err: errors.New("capture did not open")}
	}
	return &GoCVDecoder{
		path:    path,
		capture: capture,
		mat:     gocv.NewMat(),
		total:   int(capture.Get(gocv.VideoCaptureFrameCount)),
		fps:     capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

// Next implements Decoder.
func (d *GoCVDecoder) Next() (image.Image, error) {
	if d.total > 0 && d.pos >= d.total {
		return nil, ErrEndOfStream
	}
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, ErrEndOfStream
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, &StreamError{Op: "read", Path: d.path, Err: err}
	}
	d.pos++
	return img, nil
}

// Seek implements Decoder.
func (d *GoCVDecoder) Seek(index int) error {
	if index < 0 {
		index = 0
	}
	if d.total > 0 && index > d.total {
		index = d.total
	}
	d.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	d.pos = index
	return nil
}

// Position implements Decoder.
func (d *GoCVDecoder) Position() int { return d.pos }

// FrameCount implements Decoder.
func (d *GoCVDecoder) FrameCount() int { return d.total }

// FPS implements Decoder.
func (d *GoCVDecoder) FPS() float64 { return d.fps }

// Close implements Decoder.
func (d *GoCVDecoder) Close() error {
	_ = d.mat.Close()
	return d.capture.Close()
}
