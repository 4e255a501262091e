package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/region"
)

// Presenter receives what the user should see. All calls come from the
// session loop, one at a time.
type Presenter interface {
	// OnFrameDisplayed is called for every frame shown.
	OnFrameDisplayed(frame FrameInfo)

	// OnExtractionResult is called once per processed frame.
	OnExtractionResult(result *ExtractionResult)

	// OnStatus carries a one-line status message.
	OnStatus(message string)
}

// NoOpPresenter implements Presenter but does nothing.
type NoOpPresenter struct{}

func (NoOpPresenter) OnFrameDisplayed(FrameInfo)            {}
func (NoOpPresenter) OnExtractionResult(*ExtractionResult) {}
func (NoOpPresenter) OnStatus(string)                       {}

// ConsolePresenter prints a playback progress bar and one line per result.
type ConsolePresenter struct {
	writer         io.Writer
	prefix         string
	width          int
	lastUpdate     time.Time
	updateInterval time.Duration
	mutex          sync.Mutex
	barShown       bool
}

// NewConsolePresenter creates a console presenter writing to writer.
func NewConsolePresenter(writer io.Writer, prefix string) *ConsolePresenter {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsolePresenter{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 200 * time.Millisecond,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsolePresenter) WithWidth(width int) *ConsolePresenter {
	c.width = width
	return c
}

// WithUpdateInterval sets how frequently the progress bar redraws.
func (c *ConsolePresenter) WithUpdateInterval(interval time.Duration) *ConsolePresenter {
	c.updateInterval = interval
	return c
}

func (c *ConsolePresenter) OnFrameDisplayed(frame FrameInfo) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	last := frame.TotalFrames > 0 && frame.Index >= frame.TotalFrames-1
	if now.Sub(c.lastUpdate) < c.updateInterval && !last {
		return
	}
	c.lastUpdate = now
	c.drawProgressBar(frame)
}

func (c *ConsolePresenter) OnExtractionResult(result *ExtractionResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.breakLine()
	status := "incomplete"
	switch {
	case result.Saved:
		status = "saved"
	case result.Rejected():
		status = "rejected"
	case result.Error != "":
		status = "failed"
	}
	values := make([]string, 0, len(region.Fields))
	for _, f := range region.Fields {
		v := result.Value(f)
		if v == "" {
			v = "N/A"
		}
		values = append(values, fmt.Sprintf("%s=%s", f.Label(), v))
	}
	_, _ = fmt.Fprintf(c.writer, "%sframe %d: %s [%s]\n", c.prefix, result.FrameIndex, strings.Join(values, " "), status)
}

func (c *ConsolePresenter) OnStatus(message string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.breakLine()
	_, _ = fmt.Fprintf(c.writer, "%s%s\n", c.prefix, message)
}

func (c *ConsolePresenter) breakLine() {
	if c.barShown {
		_, _ = fmt.Fprintln(c.writer)
		c.barShown = false
	}
}

func (c *ConsolePresenter) drawProgressBar(frame FrameInfo) {
	if frame.TotalFrames <= 0 {
		return
	}
	current := frame.Index + 1
	percent := float64(current) / float64(frame.TotalFrames) * 100.0
	filled := min(c.width, c.width*current/frame.TotalFrames)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s[%s] %d/%d (%.1f%%) %s",
		c.prefix, bar, current, frame.TotalFrames, percent, frame.TimeLabel)
	c.barShown = true
}

// LogPresenter logs presenter callbacks using slog.
type LogPresenter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogPresenter creates a log-based presenter. Frame events are logged at
// debug level, everything else at level.
func NewLogPresenter(logger *slog.Logger, level slog.Level) *LogPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPresenter{logger: logger, level: level}
}

func (l *LogPresenter) OnFrameDisplayed(frame FrameInfo) {
	l.logger.Debug("Frame displayed", "frame", frame.Index, "time_label", frame.TimeLabel)
}

func (l *LogPresenter) OnExtractionResult(result *ExtractionResult) {
	attrs := []any{
		"frame", result.FrameIndex,
		"saved", result.Saved,
		"credits", result.Value(region.Credits),
		"bet", result.Value(region.Bet),
		"win", result.Value(region.Win),
	}
	if result.Rejected() {
		attrs = append(attrs, "reason", result.Verdict.Reason)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}
	l.logger.Log(context.Background(), l.level, "Extraction result", attrs...)
}

func (l *LogPresenter) OnStatus(message string) {
	l.logger.Log(context.Background(), l.level, message)
}

// MultiPresenter fans callbacks out to several presenters.
type MultiPresenter struct {
	mu         sync.RWMutex
	presenters []Presenter
}

// NewMultiPresenter creates a presenter that reports to all of presenters.
func NewMultiPresenter(presenters ...Presenter) *MultiPresenter {
	return &MultiPresenter{presenters: presenters}
}

// Add adds another presenter.
func (m *MultiPresenter) Add(p Presenter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presenters = append(m.presenters, p)
}

func (m *MultiPresenter) snapshot() []Presenter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Presenter(nil), m.presenters...)
}

func (m *MultiPresenter) OnFrameDisplayed(frame FrameInfo) {
	for _, p := range m.snapshot() {
		p.OnFrameDisplayed(frame)
	}
}

func (m *MultiPresenter) OnExtractionResult(result *ExtractionResult) {
	for _, p := range m.snapshot() {
		p.OnExtractionResult(result)
	}
}

func (m *MultiPresenter) OnStatus(message string) {
	for _, p := range m.snapshot() {
		p.OnStatus(message)
	}
}

// ThrottledPresenter limits frame notifications to one per interval.
// Results and status messages always pass through.
type ThrottledPresenter struct {
	wrapped     Presenter
	minInterval time.Duration
	lastUpdate  time.Time
	mutex       sync.Mutex
}

// NewThrottledPresenter creates a throttled wrapper around another presenter.
func NewThrottledPresenter(wrapped Presenter, minInterval time.Duration) *ThrottledPresenter {
	return &ThrottledPresenter{
		wrapped:     wrapped,
		minInterval: minInterval,
	}
}

func (t *ThrottledPresenter) OnFrameDisplayed(frame FrameInfo) {
	t.mutex.Lock()
	now := time.Now()
	last := frame.TotalFrames > 0 && frame.Index >= frame.TotalFrames-1
	emit := last || t.lastUpdate.IsZero() || now.Sub(t.lastUpdate) >= t.minInterval
	if emit {
		t.lastUpdate = now
	}
	t.mutex.Unlock()

	if emit {
		t.wrapped.OnFrameDisplayed(frame)
	}
}

func (t *ThrottledPresenter) OnExtractionResult(result *ExtractionResult) {
	t.wrapped.OnExtractionResult(result)
}

func (t *ThrottledPresenter) OnStatus(message string) {
	t.wrapped.OnStatus(message)
}
