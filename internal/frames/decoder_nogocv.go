//go:build !gocv

package frames

import "fmt"

func openVideo(path string) (Decoder, error) {
	return nil, &StreamError{
		Op:   "open",
		Path: path,
		Err:  fmt.Errorf("%w: video files need a build with -tags gocv; pass a directory of frames instead", ErrUnsupported),
	}
}
