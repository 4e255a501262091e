package frames

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream is returned by Read once the cursor is past the last frame.
	ErrEndOfStream = errors.New("end of stream")
	// ErrNoSource is returned when no video has been opened.
	ErrNoSource = errors.New("no video source loaded")
	// ErrUnsupported is returned for inputs the build cannot decode.
	ErrUnsupported = errors.New("unsupported video source")
)

// StreamError reports a failure to open or read a video source.
type StreamError struct {
	Op   string
	Path string
	Err  error
}

func (e *StreamError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("stream %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("stream %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
