package pipeline

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/reading"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/testutil"
	"github.com/MeKo-Tech/vidtally/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu   sync.Mutex
	rows []ledger.Row
	err  error
}

func (m *memPersister) Append(row ledger.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memPersister) Rows() []ledger.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Row(nil), m.rows...)
}

type fixture struct {
	layout   testutil.FrameLayout
	registry *region.Registry
	latest   *frames.Latest
	rec      *testutil.ScriptedRecognizer
}

// newFixture draws all three regions on a 1280x720 canvas showing the
// 320x180 synthetic frames.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout := testutil.DefaultFrameLayout()
	reg := region.NewRegistry(region.DefaultOptions())
	tr, err := utils.FitTransform(layout.Size.Width, layout.Size.Height, 1280, 720)
	require.NoError(t, err)
	reg.SetTransform(tr)
	for _, f := range region.Fields {
		r := layout.Regions[int(f)]
		require.NoError(t, reg.Set(f, r.Min.Mul(4), r.Max.Mul(4)))
	}
	return &fixture{
		layout:   layout,
		registry: reg,
		latest:   &frames.Latest{},
		rec:      testutil.NewScriptedRecognizer(),
	}
}

func (f *fixture) snapshot(t *testing.T, idx int) *frames.Snapshot {
	t.Helper()
	snap, err := frames.NewSnapshot(frames.Frame{Image: f.layout.PaintFrame(idx), Index: idx}, 30)
	require.NoError(t, err)
	return snap
}

// show publishes frame idx as the latest snapshot.
func (f *fixture) show(t *testing.T, idx int) {
	t.Helper()
	f.latest.Publish(f.snapshot(t, idx))
}

func (f *fixture) worker(t *testing.T, cfg WorkerConfig, p Persister, emit func(Event)) *Worker {
	t.Helper()
	w, err := NewWorker(cfg, WorkerDeps{
		Recognizer: f.rec,
		Snapshots:  f.latest,
		Geometry:   f.registry,
		Persister:  p,
		Emit:       emit,
	})
	require.NoError(t, err)
	return w
}

func TestWorkerEndToEndScenario(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0").
		Set(15, "200", "10", "0").
		Set(30, "995", "10", "15")

	path := filepath.Join(t.TempDir(), "extracted_data_20240101_120000.csv")
	writer, err := ledger.NewWriter(path, ledger.CreditsBetWin)
	require.NoError(t, err)

	w := fx.worker(t, DefaultWorkerConfig(), writer, nil)
	ctx := context.Background()

	fx.show(t, 0)
	res0, err := w.Process(ctx, Request{FrameIndex: 0})
	require.NoError(t, err)
	assert.True(t, res0.Saved)
	assert.True(t, res0.Verdict.ColdStart)

	fx.show(t, 15)
	res15, err := w.Process(ctx, Request{FrameIndex: 15})
	require.NoError(t, err)
	assert.False(t, res15.Saved)
	assert.True(t, res15.Rejected())
	assert.Equal(t, "200", res15.Value(region.Credits))

	fx.show(t, 30)
	res30, err := w.Process(ctx, Request{FrameIndex: 30})
	require.NoError(t, err)
	assert.True(t, res30.Saved)

	rows, err := ledger.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.Row{Frame: 0, Timestamp: "0:00:00", Credits: "1000", Bet: "10", Win: "0"}, rows[0])
	assert.Equal(t, ledger.Row{Frame: 30, Timestamp: "0:00:01", Credits: "995", Bet: "10", Win: "15"}, rows[1])

	baseline, ok := w.Baseline()
	require.True(t, ok)
	assert.Equal(t, reading.Triple{Credits: 995, Bet: 10, Win: 15}, baseline)
}

func TestWorkerRecognitionFailureIsIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(15, "200", "10", "0").Fail(15, testutil.MarkerWin, errors.New("blurred"))
	p := &memPersister{}
	w := fx.worker(t, DefaultWorkerConfig(), p, nil)

	fx.show(t, 15)
	res, err := w.Process(context.Background(), Request{FrameIndex: 15})
	require.NoError(t, err)
	require.Len(t, res.Readings, 3)
	assert.Equal(t, "200", res.Value(region.Credits))
	assert.Equal(t, "10", res.Value(region.Bet))
	assert.Empty(t, res.Value(region.Win))
	assert.Contains(t, res.Readings[2].Error, "blurred")
	assert.False(t, res.Complete())
	assert.Nil(t, res.Verdict)
	assert.Empty(t, p.Rows())
	_, ok := w.Baseline()
	assert.False(t, ok)
}

func TestWorkerInvalidReadingIsNotValidated(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "$ 75000", "10", "0")
	p := &memPersister{}
	w := fx.worker(t, DefaultWorkerConfig(), p, nil)

	fx.show(t, 0)
	res, err := w.Process(context.Background(), Request{FrameIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, "$ 75000", res.Readings[0].Raw)
	assert.Empty(t, res.Value(region.Credits))
	assert.False(t, res.Saved)
	assert.Empty(t, p.Rows())
}

func TestWorkerPersistenceFailureKeepsBaseline(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0").Set(15, "200", "10", "0")
	p := &memPersister{err: errors.New("disk full")}
	w := fx.worker(t, DefaultWorkerConfig(), p, nil)

	fx.show(t, 0)
	res, err := w.Process(context.Background(), Request{FrameIndex: 0})
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Equal(t, "Failed to save row for frame 0: disk full", res.Error)
	_, ok := w.Baseline()
	assert.False(t, ok, "baseline moves only after a persisted write")

	// Still a cold start, so the low reading is accepted once the disk recovers.
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	fx.show(t, 15)
	res, err = w.Process(context.Background(), Request{FrameIndex: 15})
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.True(t, res.Verdict.ColdStart)
}

func TestWorkerSignMaskedWarning(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "-5")
	w := fx.worker(t, DefaultWorkerConfig(), &memPersister{}, nil)

	fx.show(t, 0)
	res, err := w.Process(context.Background(), Request{FrameIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, "5", res.Value(region.Win))
	assert.True(t, res.Readings[2].SignMasked)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Win")
}

func TestWorkerUsesLatestSnapshot(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(45, "1000", "10", "0")
	w := fx.worker(t, DefaultWorkerConfig(), &memPersister{}, nil)

	_, err := w.Process(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoFrame)

	fx.latest.Publish(fx.snapshot(t, 45))
	res, err := w.Process(context.Background(), Request{FrameIndex: 40})
	require.NoError(t, err)
	assert.Equal(t, 45, res.FrameIndex)
	assert.True(t, res.Saved)
}

func TestWorkerRequiresRegions(t *testing.T) {
	fx := newFixture(t)
	fx.registry.ClearAll()
	w := fx.worker(t, DefaultWorkerConfig(), &memPersister{}, nil)

	fx.show(t, 0)
	_, err := w.Process(context.Background(), Request{FrameIndex: 0})
	require.ErrorIs(t, err, ErrNoRegions)
	assert.Zero(t, fx.rec.Calls())
}

func TestWorkerPartialRegions(t *testing.T) {
	fx := newFixture(t)
	fx.registry.Clear(region.Bet)
	fx.rec.Set(0, "1000", "10", "0")
	p := &memPersister{}
	w := fx.worker(t, DefaultWorkerConfig(), p, nil)

	fx.show(t, 0)
	res, err := w.Process(context.Background(), Request{FrameIndex: 0})
	require.NoError(t, err)
	assert.Len(t, res.Readings, 2)
	assert.Equal(t, 2, fx.rec.Calls())
	assert.False(t, res.Saved)
	assert.Empty(t, p.Rows())
}

func TestWorkerWritesArtifacts(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0")
	dir := t.TempDir()
	cfg := DefaultWorkerConfig()
	cfg.SaveArtifacts = true
	cfg.ArtifactsDir = dir
	w := fx.worker(t, cfg, &memPersister{}, nil)

	fx.show(t, 0)
	_, err := w.Process(context.Background(), Request{FrameIndex: 0, Manual: true})
	require.NoError(t, err)

	for _, name := range []string{
		"frame_000000.jpg",
		"frame_000000_credits.jpg",
		"frame_000000_bet.jpg",
		"frame_000000_win.jpg",
		"frame_000000_annotated.jpg",
	} {
		assert.True(t, testutil.FileExists(filepath.Join(dir, name)), name)
	}

	crop := testutil.LoadImage(t, filepath.Join(dir, "frame_000000_credits.jpg"))
	assert.Equal(t, image.Rect(0, 0, 80, 30), crop.Bounds())
}

// collector gathers emitted events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) results() []*ExtractionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*ExtractionResult
	for _, ev := range c.events {
		if ev.Kind == EventResult {
			out = append(out, ev.Result)
		}
	}
	return out
}

func (c *collector) statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if ev.Kind == EventStatus {
			out = append(out, ev.Message)
		}
	}
	return out
}

func fastConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.QueueWait = 20 * time.Millisecond
	cfg.IdleSleep = 5 * time.Millisecond
	cfg.ErrorBackoff = 5 * time.Millisecond
	return cfg
}

// runWorker starts w.Run until the test ends.
func runWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitIdle(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitIdle(ctx))
}

func TestWorkerRunProcessesQueueInOrder(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0").
		Set(15, "200", "10", "0").
		Set(30, "995", "10", "15")
	p := &memPersister{}
	col := &collector{}
	w := fx.worker(t, fastConfig(), p, col.emit)
	runWorker(t, w)

	for _, idx := range []int{0, 15, 30} {
		fx.show(t, idx)
		require.True(t, w.Enqueue(Request{FrameIndex: idx}))
		waitIdle(t, w)
	}

	results := col.results()
	require.Len(t, results, 3)
	assert.Equal(t, []int{0, 15, 30}, []int{results[0].FrameIndex, results[1].FrameIndex, results[2].FrameIndex})
	assert.Len(t, p.Rows(), 2)
	require.Len(t, col.statuses(), 1)
	assert.Contains(t, col.statuses()[0], "Rejected reading for frame 15")
}

func TestWorkerBacklogReadsLatestFrame(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0").
		Set(15, "200", "10", "0").
		Set(44, "990", "10", "0")
	p := &memPersister{}
	col := &collector{}
	w := fx.worker(t, fastConfig(), p, col.emit)

	// Requests pile up while playback moves on to frame 44.
	for _, idx := range []int{0, 15, 30} {
		fx.show(t, idx)
		require.True(t, w.Enqueue(Request{FrameIndex: idx}))
	}
	fx.show(t, 44)
	assert.Equal(t, 3, w.Pending())

	runWorker(t, w)
	waitIdle(t, w)

	results := col.results()
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, 44, res.FrameIndex)
		assert.Equal(t, "990", res.Value(region.Credits))
	}
	rows := p.Rows()
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, 44, row.Frame)
	}
	assert.Empty(t, col.statuses(), "frame 15 was never read")
}

func TestWorkerRunSurvivesPanics(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(30, "995", "10", "15")
	rec := recognizer.Func(func(ctx context.Context, img image.Image) (string, error) {
		frame, _, _ := testutil.DecodeMarker(img)
		if frame == 5 {
			panic("decoder exploded")
		}
		return fx.rec.Recognize(ctx, img)
	})
	p := &memPersister{}
	w, err := NewWorker(fastConfig(), WorkerDeps{
		Recognizer: rec,
		Snapshots:  fx.latest,
		Geometry:   fx.registry,
		Persister:  p,
	})
	require.NoError(t, err)
	runWorker(t, w)

	fx.show(t, 5)
	w.Enqueue(Request{FrameIndex: 5})
	waitIdle(t, w)
	fx.show(t, 30)
	w.Enqueue(Request{FrameIndex: 30})

	require.Eventually(t, func() bool { return len(p.Rows()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 30, p.Rows()[0].Frame)
}

func TestWorkerResetDropsStaleRequests(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0").Set(15, "200", "10", "0")
	oldP, newP := &memPersister{}, &memPersister{}
	col := &collector{}
	w := fx.worker(t, fastConfig(), oldP, col.emit)

	ctx := context.Background()
	fx.show(t, 0)
	_, err := w.Process(ctx, Request{FrameIndex: 0})
	require.NoError(t, err)
	require.Len(t, oldP.Rows(), 1)

	w.Enqueue(Request{FrameIndex: 0})
	w.Reset(newP)
	fx.show(t, 15)
	w.Enqueue(Request{FrameIndex: 15})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	require.Eventually(t, func() bool { return len(newP.Rows()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, oldP.Rows(), 1, "stale request was dropped")
	assert.Equal(t, 15, newP.Rows()[0].Frame, "cold start after reset accepts the low reading")
	require.Len(t, col.results(), 1)
}

func TestWorkerResetAppliesBeforeGenerationCheck(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0")
	oldP, newP := &memPersister{}, &memPersister{}
	w := fx.worker(t, fastConfig(), oldP, nil)
	fx.show(t, 0)
	ctx := context.Background()

	// The request was queued for the old session; the reset lands before
	// the worker picks it up.
	require.True(t, w.Enqueue(Request{FrameIndex: 0}))
	w.Reset(newP)
	require.NoError(t, w.runOne(ctx, <-w.queue))
	assert.Empty(t, oldP.Rows())
	assert.Empty(t, newP.Rows(), "old-session frame must not reach the new ledger")
	_, ok := w.Baseline()
	assert.False(t, ok)

	require.True(t, w.Enqueue(Request{FrameIndex: 0}))
	require.NoError(t, w.runOne(ctx, <-w.queue))
	assert.Len(t, newP.Rows(), 1)
}

func TestWorkerRejectedEnqueueKeepsIdleAccounting(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0")
	cfg := fastConfig()
	cfg.QueueSize = 1
	p := &memPersister{}
	w := fx.worker(t, cfg, p, nil)
	fx.show(t, 0)

	require.True(t, w.Enqueue(Request{FrameIndex: 0}))
	require.False(t, w.Enqueue(Request{FrameIndex: 0}))
	assert.EqualValues(t, 1, w.outstanding.Load())

	runWorker(t, w)
	waitIdle(t, w)
	assert.True(t, w.Idle())
	assert.Len(t, p.Rows(), 1)
}

func TestWorkerWithoutLedgerDoesNotSave(t *testing.T) {
	fx := newFixture(t)
	fx.rec.Set(0, "1000", "10", "0")
	w := fx.worker(t, DefaultWorkerConfig(), nil, nil)

	fx.show(t, 0)
	res, err := w.Process(context.Background(), Request{FrameIndex: 0})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Accepted)
	assert.False(t, res.Saved)
	assert.Equal(t, "No ledger open, reading for frame 0 not saved", res.Error)
	_, ok := w.Baseline()
	assert.False(t, ok, "baseline moves only after a persisted write")
}

func TestWorkerEnqueueNeverBlocks(t *testing.T) {
	fx := newFixture(t)
	cfg := DefaultWorkerConfig()
	cfg.QueueSize = 2
	w := fx.worker(t, cfg, nil, nil)

	assert.True(t, w.Enqueue(Request{FrameIndex: 1}))
	assert.True(t, w.Enqueue(Request{FrameIndex: 1}))
	assert.False(t, w.Enqueue(Request{FrameIndex: 2}))
	assert.Equal(t, 2, w.Pending())
	assert.False(t, w.Idle())
}

func TestNewWorkerValidatesDeps(t *testing.T) {
	_, err := NewWorker(DefaultWorkerConfig(), WorkerDeps{})
	require.Error(t, err)

	_, err = NewWorker(DefaultWorkerConfig(), WorkerDeps{Recognizer: testutil.NewScriptedRecognizer()})
	require.Error(t, err)
}
