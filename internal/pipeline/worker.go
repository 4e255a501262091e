package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/reading"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/utils"
)

var (
	// ErrNoFrame is returned when there is nothing to extract from yet.
	ErrNoFrame = errors.New("no video loaded or no frame available")
	// ErrNoRegions is returned when no region is committed.
	ErrNoRegions = errors.New("please create at least one selection rectangle first")
)

// Persister appends accepted rows. ledger.Writer implements it.
type Persister interface {
	Append(row ledger.Row) error
}

// SnapshotSource returns the latest displayed frame. frames.Latest implements it.
type SnapshotSource interface {
	Load() *frames.Snapshot
}

// GeometrySource returns the published region geometry. region.Registry implements it.
type GeometrySource interface {
	Geometry() *region.Geometry
}

// Request asks the worker to extract a frame. The worker reads the most
// recently published snapshot, which may be newer than FrameIndex.
type Request struct {
	FrameIndex int
	// Manual requests also write an annotated artifact.
	Manual bool

	generation uint64
}

// WorkerConfig configures the extraction loop.
type WorkerConfig struct {
	QueueSize    int
	QueueWait    time.Duration
	IdleSleep    time.Duration
	ErrorBackoff time.Duration

	SaveArtifacts bool
	ArtifactsDir  string

	Tolerance float64
	MaxValue  float64
}

// DefaultWorkerConfig returns the default loop timings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:    256,
		QueueWait:    500 * time.Millisecond,
		IdleSleep:    100 * time.Millisecond,
		ErrorBackoff: time.Second,
		ArtifactsDir: "extracted_frames",
		Tolerance:    reading.DefaultTolerance,
		MaxValue:     reading.DefaultMaxValue,
	}
}

type sessionReset struct {
	persister  Persister
	generation uint64
}

// Worker is the single consumer of extraction requests. It owns the
// validator: the baseline moves only after a row has been persisted.
type Worker struct {
	cfg        WorkerConfig
	recognizer recognizer.Recognizer
	normalizer reading.Normalizer
	validator  *reading.Validator
	snapshots  SnapshotSource
	geometry   GeometrySource
	artifacts  *ArtifactWriter
	logger     *slog.Logger
	emit       func(Event)

	queue      chan Request
	generation atomic.Uint64
	// applied is the generation of the installed persister. Worker goroutine only.
	applied uint64
	// outstanding counts requests enqueued but not yet finished.
	outstanding atomic.Int32

	resetMu      sync.Mutex
	pendingReset *sessionReset

	// persister is only touched by the processing goroutine.
	persister Persister
}

// WorkerDeps are the collaborators of a Worker.
type WorkerDeps struct {
	Recognizer recognizer.Recognizer
	Snapshots  SnapshotSource
	Geometry   GeometrySource
	Persister  Persister
	// Emit receives results and status messages. It may block.
	Emit   func(Event)
	Logger *slog.Logger
}

// NewWorker creates a worker. Run must be started for queued requests to be
// processed.
func NewWorker(cfg WorkerConfig, deps WorkerDeps) (*Worker, error) {
	if deps.Recognizer == nil {
		return nil, errors.New("recognizer cannot be nil")
	}
	if deps.Snapshots == nil || deps.Geometry == nil {
		return nil, errors.New("snapshot and geometry sources are required")
	}
	def := DefaultWorkerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = def.QueueWait
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = def.IdleSleep
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := deps.Emit
	if emit == nil {
		emit = func(Event) {}
	}
	var artifacts *ArtifactWriter
	if cfg.SaveArtifacts {
		artifacts = NewArtifactWriter(cfg.ArtifactsDir)
	}
	return &Worker{
		cfg:        cfg,
		recognizer: deps.Recognizer,
		normalizer: reading.NewNormalizer(cfg.MaxValue),
		validator:  reading.NewValidator(cfg.Tolerance),
		snapshots:  deps.Snapshots,
		geometry:   deps.Geometry,
		artifacts:  artifacts,
		logger:     logger,
		emit:       emit,
		queue:      make(chan Request, cfg.QueueSize),
		persister:  deps.Persister,
	}, nil
}

// Enqueue adds a request without blocking. It reports false when the queue
// is full and the request was dropped.
func (w *Worker) Enqueue(req Request) bool {
	req.generation = w.generation.Load()
	// Counted before the send so the worker can never finish it first.
	w.outstanding.Add(1)
	select {
	case w.queue <- req:
		queueDepth.Set(float64(len(w.queue)))
		return true
	default:
		w.outstanding.Add(-1)
		queueDroppedTotal.Inc()
		w.logger.Warn("Extraction queue full, dropping request", "frame", req.FrameIndex)
		return false
	}
}

// Pending returns the number of queued requests.
func (w *Worker) Pending() int { return len(w.queue) }

// Idle reports whether nothing is queued or being processed.
func (w *Worker) Idle() bool { return w.outstanding.Load() <= 0 }

// WaitIdle blocks until the worker is idle or ctx ends.
func (w *Worker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.IdleSleep)
	defer ticker.Stop()
	for !w.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Reset starts a new video session: queued requests are discarded, the
// validator forgets its baseline and rows go to p from now on. It does not
// wait for the worker.
func (w *Worker) Reset(p Persister) {
	w.resetMu.Lock()
	defer w.resetMu.Unlock()
	next := w.generation.Load() + 1
	w.pendingReset = &sessionReset{persister: p, generation: next}
	w.generation.Store(next)
}

func (w *Worker) applyReset() {
	w.resetMu.Lock()
	r := w.pendingReset
	w.pendingReset = nil
	w.resetMu.Unlock()
	if r == nil {
		return
	}
	w.validator.Reset()
	w.persister = r.persister
	w.applied = r.generation
}

// Baseline returns the validator's last accepted reading.
func (w *Worker) Baseline() (reading.Triple, bool) { return w.validator.Baseline() }

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("Extraction worker started")
	defer w.logger.Debug("Extraction worker stopped")

	timer := time.NewTimer(w.cfg.QueueWait)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		timer.Reset(w.cfg.QueueWait)
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			queueDepth.Set(float64(len(w.queue)))
			err := w.runOne(ctx, req)
			w.outstanding.Add(-1)
			if err != nil {
				w.logger.Error("Error in extraction loop", "frame", req.FrameIndex, "error", err)
				w.sleep(ctx, w.cfg.ErrorBackoff)
			}
		case <-timer.C:
			w.sleep(ctx, w.cfg.IdleSleep)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runOne processes req, turning a panic into an error.
func (w *Worker) runOne(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			workerPanicsTotal.Inc()
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()

	// Only here, ahead of the generation check; process must not apply it.
	w.applyReset()
	if req.generation != w.applied {
		queueDroppedTotal.Inc()
		w.logger.Debug("Dropping request from previous session", "frame", req.FrameIndex)
		return nil
	}

	res, err := w.process(ctx, req)
	if errors.Is(err, ErrNoFrame) || errors.Is(err, ErrNoRegions) {
		extractionsTotal.WithLabelValues("skipped").Inc()
		w.logger.Debug("Skipping extraction", "frame", req.FrameIndex, "reason", err)
		return nil
	}
	if err != nil {
		return err
	}
	w.publish(ctx, res)
	return nil
}

func (w *Worker) publish(ctx context.Context, res *ExtractionResult) {
	if ctx.Err() != nil {
		return
	}
	w.emit(Event{Kind: EventResult, Result: res})
	switch {
	case res.Saved && res.Manual:
		w.emit(StatusEvent(fmt.Sprintf("Text extracted from all selections and saved to CSV (frame %d)", res.FrameIndex)))
	case res.Rejected():
		w.emit(StatusEvent(fmt.Sprintf("Rejected reading for frame %d: %s", res.FrameIndex, res.Verdict.Reason)))
	case res.Error != "":
		w.emit(StatusEvent(res.Error))
	}
}

// Process extracts the latest published frame synchronously. It must not be
// called concurrently with Run.
func (w *Worker) Process(ctx context.Context, req Request) (*ExtractionResult, error) {
	w.applyReset()
	return w.process(ctx, req)
}

func (w *Worker) process(ctx context.Context, req Request) (*ExtractionResult, error) {
	start := time.Now()
	defer func() { extractionDuration.Observe(time.Since(start).Seconds()) }()

	snap := w.snapshots.Load()
	if snap == nil || snap.Image == nil {
		return nil, ErrNoFrame
	}
	geom := w.geometry.Geometry()
	fields := geom.ActiveFields()
	if len(fields) == 0 {
		return nil, ErrNoRegions
	}

	res := &ExtractionResult{
		FrameIndex: snap.FrameIndex,
		Timestamp:  snap.Timestamp,
		Manual:     req.Manual,
	}

	if w.artifacts != nil {
		if err := w.artifacts.WriteFrame(snap); err != nil {
			w.logger.Warn("Failed to save frame artifact", "frame", snap.FrameIndex, "error", err)
		}
	}

	rects := make(map[region.Field]image.Rectangle, len(fields))
	for _, f := range fields {
		rect, ok := geom.SourceRect(f, snap.Bounds())
		if !ok {
			continue
		}
		rects[f] = rect
		res.Readings = append(res.Readings, w.readField(ctx, snap, f, rect, res))
	}

	if w.artifacts != nil && req.Manual {
		if err := w.artifacts.WriteAnnotated(snap, rects); err != nil {
			w.logger.Warn("Failed to save annotated artifact", "frame", snap.FrameIndex, "error", err)
		}
	}

	if !res.Complete() {
		extractionsTotal.WithLabelValues("incomplete").Inc()
		return res, nil
	}
	w.validateAndSave(snap, res)
	return res, nil
}

func (w *Worker) readField(
	ctx context.Context,
	snap *frames.Snapshot,
	f region.Field,
	rect image.Rectangle,
	res *ExtractionResult,
) FieldReading {
	fr := FieldReading{Field: f}
	crop := utils.CropImageRect(snap.Image, rect)

	if w.artifacts != nil {
		if err := w.artifacts.WriteCrop(snap.FrameIndex, f, crop); err != nil {
			w.logger.Warn("Failed to save crop artifact", "frame", snap.FrameIndex, "field", f.String(), "error", err)
		}
	}

	start := time.Now()
	text, err := w.recognizer.Recognize(ctx, crop)
	recognizeDuration.WithLabelValues(f.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		recognizeErrorsTotal.WithLabelValues(f.String()).Inc()
		w.logger.Warn("Error extracting text", "frame", snap.FrameIndex, "field", f.Label(), "error", err)
		fr.Error = err.Error()
		return fr
	}

	fr.Raw = text
	fr.Value = w.normalizer.Normalize(text)
	if fr.Value == "" && text != "" {
		invalidReadingsTotal.WithLabelValues(f.String()).Inc()
	}
	if fr.Value != "" && reading.SignMasked(text) {
		fr.SignMasked = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s reading %q had its sign dropped", f.Label(), text))
		w.logger.Debug("Sign masked during normalization", "frame", snap.FrameIndex, "field", f.String(), "raw", text)
	}
	return fr
}

func (w *Worker) validateAndSave(snap *frames.Snapshot, res *ExtractionResult) {
	credits, bet, win := res.Value(region.Credits), res.Value(region.Bet), res.Value(region.Win)
	triple, err := reading.ParseTriple(credits, bet, win)
	if err != nil {
		extractionsTotal.WithLabelValues("incomplete").Inc()
		res.Error = err.Error()
		return
	}
	res.Triple = &triple

	verdict := w.validator.Check(triple)
	res.Verdict = &verdict
	if !verdict.Accepted {
		extractionsTotal.WithLabelValues("rejected").Inc()
		w.logger.Info("Reading rejected", "frame", snap.FrameIndex, "reason", verdict.Reason)
		return
	}

	if w.persister == nil {
		extractionsTotal.WithLabelValues("failed").Inc()
		res.Error = fmt.Sprintf("No ledger open, reading for frame %d not saved", snap.FrameIndex)
		w.logger.Warn("No ledger open", "frame", snap.FrameIndex)
		return
	}
	row := ledger.Row{
		Frame:     snap.FrameIndex,
		Timestamp: ledger.FormatTimestamp(snap.Timestamp),
		Credits:   credits,
		Bet:       bet,
		Win:       win,
	}
	if err := w.persister.Append(row); err != nil {
		persistenceFailuresTotal.Inc()
		extractionsTotal.WithLabelValues("failed").Inc()
		res.Error = fmt.Sprintf("Failed to save row for frame %d: %v", snap.FrameIndex, err)
		w.logger.Error("Failed to save row", "frame", snap.FrameIndex, "error", err)
		return
	}

	w.validator.Accept(triple)
	res.Saved = true
	extractionsTotal.WithLabelValues("saved").Inc()
	w.logger.Debug("Reading saved", "frame", snap.FrameIndex, "credits", credits, "bet", bet, "win", win)
}
