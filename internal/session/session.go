// Package session runs the interactive side of vidtally: one loop goroutine
// owns the region registry, playback and the sampler, and every caller
// reaches them through commands marshalled onto that loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/utils"
)

// ErrClosed is returned by commands issued after the loop has stopped.
var ErrClosed = errors.New("session closed")

// Config configures a Session.
type Config struct {
	Regions region.Options
	Frames  frames.Options
	// PresetsFile is applied after every video load when set.
	PresetsFile string

	SampleInterval int
	// PlaybackSpeed multiplies the source frame rate; zero or less plays
	// as fast as frames decode.
	PlaybackSpeed float64

	Worker pipeline.WorkerConfig

	OutputDir   string
	Prefix      string
	ColumnOrder ledger.ColumnOrder

	EventBuffer int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Regions:        region.DefaultOptions(),
		Frames:         frames.DefaultOptions(),
		SampleInterval: frames.DefaultSampleInterval,
		PlaybackSpeed:  1,
		Worker:         pipeline.DefaultWorkerConfig(),
		OutputDir:      ".",
		Prefix:         "extracted_data",
		ColumnOrder:    ledger.CreditsBetWin,
		EventBuffer:    64,
	}
}

type playEventKind int

const (
	playFrame playEventKind = iota
	playEnd
	playError
)

type playEvent struct {
	kind   playEventKind
	snap   *frames.Snapshot
	err    error
	player *frames.Player
}

// Session is one interactive vidtally session.
type Session struct {
	cfg       Config
	logger    *slog.Logger
	presenter pipeline.Presenter
	now       func() time.Time

	registry *region.Registry
	latest   *frames.Latest
	worker   *pipeline.Worker

	cmds       chan func()
	events     chan pipeline.Event
	playEvents chan playEvent
	done       chan struct{}

	// Owned by the loop goroutine.
	src         *frames.Source
	player      *frames.Player
	stopPlayer  context.CancelFunc
	writer      *ledger.Writer
	sampler     *frames.Sampler
	autoProcess bool
	current     [len(region.Fields)]string
	lastStatus  string
	endWaiters  []chan struct{}
}

// Options are optional collaborators for New.
type Options struct {
	Presenter pipeline.Presenter
	Logger    *slog.Logger
	// Now replaces time.Now for ledger file names.
	Now func() time.Time
}

// New creates a session. Run must be called before any command.
func New(cfg Config, rec recognizer.Recognizer, opts Options) (*Session, error) {
	def := DefaultConfig()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if !cfg.ColumnOrder.Valid() {
		cfg.ColumnOrder = def.ColumnOrder
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = pipeline.NoOpPresenter{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		presenter:  presenter,
		now:        now,
		registry:   region.NewRegistry(cfg.Regions),
		latest:     &frames.Latest{},
		cmds:       make(chan func()),
		events:     make(chan pipeline.Event, cfg.EventBuffer),
		playEvents: make(chan playEvent, cfg.EventBuffer),
		done:       make(chan struct{}),
		sampler:    frames.NewSampler(cfg.SampleInterval),
	}

	w, err := pipeline.NewWorker(cfg.Worker, pipeline.WorkerDeps{
		Recognizer: rec,
		Snapshots:  s.latest,
		Geometry:   s.registry,
		Emit:       s.emit,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	s.worker = w

	if cfg.PresetsFile != "" {
		if err := s.applyPresets(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) emit(ev pipeline.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run drives the session until ctx is cancelled. It starts the extraction
// worker and stops playback on exit.
func (s *Session) Run(ctx context.Context) error {
	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.worker.Run(workerCtx)
	}()

	defer func() {
		s.stopPlayback()
		close(s.done)
		cancelWorker()
		<-workerDone
		s.closeSource()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.cmds:
			fn()
		case ev := <-s.events:
			s.handleEvent(ev)
		case pe := <-s.playEvents:
			s.handlePlayEvent(pe)
		}
	}
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// exec runs fn on the loop goroutine and waits for it.
func (s *Session) exec(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.cmds <- func() { errCh <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) status(msg string) {
	s.lastStatus = msg
	s.presenter.OnStatus(msg)
}

func (s *Session) handleEvent(ev pipeline.Event) {
	if ev.Kind == pipeline.EventResult && ev.Result != nil {
		for _, fr := range ev.Result.Readings {
			if fr.Value != "" && fr.Field.Valid() {
				s.current[fr.Field] = fr.Value
			}
		}
	}
	if ev.Kind == pipeline.EventStatus {
		s.lastStatus = ev.Message
	}
	pipeline.Dispatch(s.presenter, ev)
}

func (s *Session) handlePlayEvent(pe playEvent) {
	if pe.player != s.player {
		// Late event from a player that has since been stopped.
		if pe.kind == playFrame {
			s.display(pe.snap, false)
		}
		return
	}
	switch pe.kind {
	case playFrame:
		s.display(pe.snap, true)
	case playEnd:
		s.playbackStopped()
		s.status("End of video reached")
	case playError:
		s.playbackStopped()
		s.logger.Error("Playback failed", "error", pe.err)
		s.status(fmt.Sprintf("Error: %v", pe.err))
	}
}

// display shows snap and, during playback with auto processing on, hands
// due frames to the worker.
func (s *Session) display(snap *frames.Snapshot, playing bool) {
	if snap == nil {
		return
	}
	b := snap.Bounds()
	canvas := s.registry.Options().Canvas
	if t, err := utils.FitTransform(b.Dx(), b.Dy(), canvas.Dx(), canvas.Dy()); err == nil {
		s.registry.SetTransform(t)
	}
	total, fps := 0, 0.0
	if s.src != nil {
		total, fps = s.src.TotalFrames(), s.src.FPS()
	}
	s.presenter.OnFrameDisplayed(pipeline.NewFrameInfo(snap, total, fps))

	if playing && s.autoProcess && s.sampler.Due(snap.FrameIndex) {
		s.worker.Enqueue(pipeline.Request{FrameIndex: snap.FrameIndex})
	}
}

func (s *Session) playbackStopped() {
	s.player = nil
	if s.stopPlayer != nil {
		s.stopPlayer()
		s.stopPlayer = nil
	}
	for _, ch := range s.endWaiters {
		close(ch)
	}
	s.endWaiters = nil
}

func (s *Session) stopPlayback() {
	if s.player == nil {
		return
	}
	p := s.player
	s.stopPlayer()
	p.Stop()
	s.playbackStopped()
}

func (s *Session) closeSource() {
	if s.src == nil {
		return
	}
	if err := s.src.Close(); err != nil {
		s.logger.Warn("Failed to close video", "path", s.src.Path(), "error", err)
	}
	s.src = nil
}

func (s *Session) applyPresets() error {
	p, err := region.LoadPreset(s.cfg.PresetsFile)
	if err != nil {
		return fmt.Errorf("failed to load region presets: %w", err)
	}
	if err := s.registry.Apply(p); err != nil {
		return fmt.Errorf("failed to apply region presets: %w", err)
	}
	return nil
}

// Load opens a video, resets every region and starts a new ledger file.
func (s *Session) Load(path string) error {
	return s.exec(func() error {
		s.stopPlayback()

		src, err := frames.Open(path, s.cfg.Frames)
		if err != nil {
			s.logger.Error("Failed to open video", "path", path, "error", err)
			s.status(fmt.Sprintf("Error: Could not open video %s", path))
			return err
		}
		s.closeSource()
		s.src = src

		s.registry.ClearAll()
		if s.cfg.PresetsFile != "" {
			if err := s.applyPresets(); err != nil {
				s.logger.Warn("Ignoring region presets", "error", err)
			}
		}
		s.current = [len(region.Fields)]string{}
		s.sampler.Reset()
		s.latest.Reset()

		writer, err := ledger.NewWriter(ledger.SessionPath(s.cfg.OutputDir, s.cfg.Prefix, s.now()), s.cfg.ColumnOrder)
		if err != nil {
			return err
		}
		s.writer = writer
		s.worker.Reset(writer)

		if fr, err := src.Scrub(0); err == nil {
			if snap, err := frames.NewSnapshot(fr, src.FPS()); err == nil {
				s.latest.Publish(snap)
				s.display(snap, false)
			}
		}

		duration := frames.FormatClock(float64(src.TotalFrames()) / src.FPS())
		s.logger.Info("Video loaded", "path", path, "frames", src.TotalFrames(), "fps", src.FPS(), "ledger", writer.Path())
		s.status(fmt.Sprintf("Loaded: %s | %.2f FPS | Duration: %s", filepath.Base(path), src.FPS(), duration))
		return nil
	})
}

// Play starts playback from the current position.
func (s *Session) Play() error {
	return s.exec(func() error {
		if s.src == nil {
			return frames.ErrNoSource
		}
		if s.player != nil {
			return nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		var p *frames.Player
		send := func(pe playEvent) {
			pe.player = p
			select {
			case s.playEvents <- pe:
			case <-ctx.Done():
			case <-s.done:
			}
		}
		ready := make(chan struct{})
		hooks := frames.PlayerHooks{
			OnFrame: func(snap *frames.Snapshot) {
				<-ready
				send(playEvent{kind: playFrame, snap: snap})
			},
			OnEnd: func() {
				<-ready
				send(playEvent{kind: playEnd})
			},
			OnError: func(err error) {
				<-ready
				send(playEvent{kind: playError, err: err})
			},
		}
		p = frames.StartPlayer(s.src, s.latest, hooks, frames.PlayerOptions{
			Speed:  s.cfg.PlaybackSpeed,
			Logger: s.logger,
		})
		close(ready)
		s.player = p
		s.stopPlayer = cancel
		s.sampler.Reset()
		return nil
	})
}

// Pause stops playback, keeping the position.
func (s *Session) Pause() error {
	return s.exec(func() error {
		s.stopPlayback()
		return nil
	})
}

// Seek shows the frame at fraction f of the video. The next played frame
// is the one shown.
func (s *Session) Seek(f float64) error {
	return s.exec(func() error {
		if s.src == nil {
			return frames.ErrNoSource
		}
		fr, err := s.src.Scrub(f)
		if err != nil {
			return err
		}
		snap, err := frames.NewSnapshot(fr, s.src.FPS())
		if err != nil {
			return err
		}
		s.latest.Publish(snap)
		s.sampler.Reset()
		s.display(snap, false)
		return nil
	})
}

// WaitForPlayback blocks until playback stops or ctx ends. It returns at
// once when nothing is playing.
func (s *Session) WaitForPlayback(ctx context.Context) error {
	ch := make(chan struct{})
	err := s.exec(func() error {
		if s.player == nil {
			close(ch)
			return nil
		}
		s.endWaiters = append(s.endWaiters, ch)
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Drain waits until the worker has finished every queued request and the
// resulting events have reached the presenter.
func (s *Session) Drain(ctx context.Context) error {
	if err := s.worker.WaitIdle(ctx); err != nil {
		return err
	}
	return s.exec(func() error {
		for {
			select {
			case ev := <-s.events:
				s.handleEvent(ev)
			default:
				return nil
			}
		}
	})
}

// Begin starts drawing a region at canvas point p.
func (s *Session) Begin(field region.Field, p image.Point) error {
	return s.exec(func() error { return s.registry.Begin(field, p) })
}

// Update drags the free corner of the region being drawn.
func (s *Session) Update(field region.Field, p image.Point) error {
	return s.exec(func() error {
		s.registry.Update(field, p)
		return nil
	})
}

// Commit finishes drawing. An undersized region is discarded; a committed
// one is read right away when a frame is on screen.
func (s *Session) Commit(field region.Field) (bool, error) {
	var active bool
	err := s.exec(func() error {
		active = s.commitLocked(field)
		return nil
	})
	return active, err
}

func (s *Session) commitLocked(field region.Field) bool {
	if !s.registry.Commit(field) {
		s.current[field] = ""
		return false
	}
	if snap := s.latest.Load(); snap != nil {
		s.worker.Enqueue(pipeline.Request{FrameIndex: snap.FrameIndex})
	}
	return true
}

// SetRegion places a committed region spanning canvas points a and b.
func (s *Session) SetRegion(field region.Field, a, b image.Point) error {
	return s.exec(func() error {
		if err := s.registry.Begin(field, a); err != nil {
			return err
		}
		s.registry.Update(field, b)
		if !s.commitLocked(field) {
			o := s.registry.Options()
			return fmt.Errorf("%s selection smaller than %dx%d", field.Label(), o.MinSize, o.MinSize)
		}
		return nil
	})
}

// Nudge shifts an active region and reports the outcome as a status message.
func (s *Session) Nudge(field region.Field, dir region.Direction) (string, error) {
	var msg string
	err := s.exec(func() error {
		m, err := s.registry.Nudge(field, dir)
		if err != nil {
			return err
		}
		msg = m
		s.status(m)
		return nil
	})
	return msg, err
}

// ClearRegion resets one region and its displayed value.
func (s *Session) ClearRegion(field region.Field) error {
	return s.exec(func() error {
		if !field.Valid() {
			return fmt.Errorf("%w: %d", region.ErrUnknownField, int(field))
		}
		s.registry.Clear(field)
		s.current[field] = ""
		return nil
	})
}

// ClearAll resets every region and displayed value.
func (s *Session) ClearAll() error {
	return s.exec(func() error {
		s.registry.ClearAll()
		s.current = [len(region.Fields)]string{}
		s.status("All selections cleared")
		return nil
	})
}

// SetAutoProcess toggles sampling of played frames.
func (s *Session) SetAutoProcess(on bool) error {
	return s.exec(func() error {
		if !on {
			s.autoProcess = false
			s.status("Auto processing disabled")
			return nil
		}
		if len(s.registry.ActiveFields()) == 0 {
			s.status("Please create at least one selection rectangle first")
			return pipeline.ErrNoRegions
		}
		s.autoProcess = true
		s.sampler.Reset()
		s.status(fmt.Sprintf("Auto processing enabled - processing every %d frames", s.sampler.Interval()))
		return nil
	})
}

// ExtractNow queues the frame on screen for extraction. Artifacts of
// manual extractions include an annotated frame.
func (s *Session) ExtractNow() error {
	return s.exec(func() error {
		snap := s.latest.Load()
		if s.src == nil || snap == nil {
			s.status("No video loaded or no frame available")
			return pipeline.ErrNoFrame
		}
		if len(s.registry.ActiveFields()) == 0 {
			s.status("Please create at least one selection rectangle first")
			return pipeline.ErrNoRegions
		}
		if !s.worker.Enqueue(pipeline.Request{FrameIndex: snap.FrameIndex, Manual: true}) {
			s.status("Extraction queue is full, try again")
			return errors.New("extraction queue full")
		}
		return nil
	})
}

// ExportRegions returns the committed regions as a preset.
func (s *Session) ExportRegions() (region.Preset, error) {
	var p region.Preset
	err := s.exec(func() error {
		p = s.registry.Export()
		return nil
	})
	return p, err
}

// ApplyRegions replaces the regions with a preset.
func (s *Session) ApplyRegions(p region.Preset) error {
	return s.exec(func() error {
		s.registry.ClearAll()
		s.current = [len(region.Fields)]string{}
		return s.registry.Apply(p)
	})
}

// Geometry returns the published region layout. Safe without the loop.
func (s *Session) Geometry() *region.Geometry { return s.registry.Geometry() }

// LatestFrame returns the frame on screen. Safe without the loop.
func (s *Session) LatestFrame() *frames.Snapshot { return s.latest.Load() }

// Worker exposes the extraction worker.
func (s *Session) Worker() *pipeline.Worker { return s.worker }
