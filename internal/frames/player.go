package frames

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PlayerHooks receives playback notifications. Hooks run on the playback
// goroutine and must not block.
type PlayerHooks struct {
	OnFrame func(*Snapshot)
	OnEnd   func()
	OnError func(error)
}

// PlayerOptions configures pacing.
type PlayerOptions struct {
	// Speed multiplies the source frame rate. Zero or less plays as fast as
	// frames decode.
	Speed  float64
	Logger *slog.Logger
}

// Player reads frames from a Source on its own goroutine, publishing each
// one to a Latest and sleeping 1/fps between frames.
type Player struct {
	src    *Source
	latest *Latest
	hooks  PlayerHooks
	opts   PlayerOptions
	logger *slog.Logger

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	frames   atomic.Int64
}

// StartPlayer begins playback from the source's current position.
func StartPlayer(src *Source, latest *Latest, hooks PlayerHooks, opts PlayerOptions) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		src:    src,
		latest: latest,
		hooks:  hooks,
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// Stop asks the playback goroutine to exit and waits for it.
func (p *Player) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
	})
	<-p.done
}

// Done is closed when playback has exited for any reason.
func (p *Player) Done() <-chan struct{} { return p.done }

// Running reports whether the playback goroutine is still active.
func (p *Player) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// FramesPlayed returns the number of frames published so far.
func (p *Player) FramesPlayed() int64 { return p.frames.Load() }

func (p *Player) interval() time.Duration {
	if p.opts.Speed <= 0 {
		return 0
	}
	fps := p.src.FPS() * p.opts.Speed
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

func (p *Player) loop() {
	defer close(p.done)

	interval := p.interval()
	var timer *time.Timer
	if interval > 0 {
		timer = time.NewTimer(interval)
		defer timer.Stop()
	}

	for !p.stopped.Load() {
		fr, err := p.src.Read()
		if errors.Is(err, ErrEndOfStream) {
			if seekErr := p.src.SeekFrame(0); seekErr != nil {
				p.logger.Warn("Failed to rewind after end of stream", "error", seekErr)
			}
			if p.hooks.OnEnd != nil {
				p.hooks.OnEnd()
			}
			return
		}
		if err != nil {
			if p.hooks.OnError != nil {
				p.hooks.OnError(err)
			}
			return
		}

		snap, err := NewSnapshot(fr, p.src.FPS())
		if err != nil {
			if p.hooks.OnError != nil {
				p.hooks.OnError(err)
			}
			return
		}
		p.latest.Publish(snap)
		p.frames.Add(1)
		if p.hooks.OnFrame != nil {
			p.hooks.OnFrame(snap)
		}

		if timer == nil {
			continue
		}
		timer.Reset(interval)
		select {
		case <-p.stopCh:
			return
		case <-timer.C:
		}
	}
}
