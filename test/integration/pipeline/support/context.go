package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/server"
	"github.com/MeKo-Tech/vidtally/internal/session"
	"github.com/MeKo-Tech/vidtally/internal/testutil"
	"github.com/gorilla/websocket"
)

// stepTimeout bounds every wait a step performs.
const stepTimeout = 15 * time.Second

// fixedNow names every ledger file of a scenario.
var fixedNow = time.Date(2024, 3, 9, 14, 30, 5, 0, time.UTC)

// recorder keeps everything the session presented.
type recorder struct {
	mu       sync.Mutex
	statuses []string
	results  []*pipeline.ExtractionResult
	frames   int
}

func (r *recorder) OnFrameDisplayed(pipeline.FrameInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

func (r *recorder) OnExtractionResult(res *pipeline.ExtractionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) OnStatus(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.statuses)
}

func (r *recorder) Results() []*pipeline.ExtractionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.results)
}

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir    string
	VideoPath  string
	Frames     int
	PresetPath string
	OutputDir  string

	Config   session.Config
	Script   *testutil.ScriptedRecognizer
	OCR      *httptest.Server
	Session  *session.Session
	Presents *recorder
	LastErr  error

	Server    *server.Server
	HTTP      *httptest.Server
	WS        *websocket.Conn
	LastCode  int
	LastBody  string
	LastFrame []byte

	multi *pipeline.MultiPresenter
	stop  context.CancelFunc
	// held, when set, keeps the OCR service from answering until opened.
	held atomic.Pointer[testutil.Gate]
}

// NewTestContext creates a scratch directory and a fake OCR service.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "vidtally-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	cfg := session.DefaultConfig()
	cfg.OutputDir = filepath.Join(tempDir, "out")
	cfg.PlaybackSpeed = 0
	cfg.Worker.QueueWait = 10 * time.Millisecond
	cfg.Worker.IdleSleep = 5 * time.Millisecond
	cfg.Worker.ErrorBackoff = 10 * time.Millisecond

	tc := &TestContext{
		TempDir:   tempDir,
		OutputDir: cfg.OutputDir,
		Config:    cfg,
		Script:    testutil.NewScriptedRecognizer(),
		Presents:  &recorder{},
	}
	tc.OCR = httptest.NewServer(testutil.NewOCRHandler(tc.recognize))
	return tc, nil
}

func (tc *TestContext) recognize(ctx context.Context, img image.Image) (string, error) {
	if g := tc.held.Load(); g != nil {
		return g.Hold(tc.Script.Recognize)(ctx, img)
	}
	return tc.Script.Recognize(ctx, img)
}

// Stall holds every OCR answer until Release.
func (tc *TestContext) Stall() { tc.held.Store(testutil.NewGate()) }

// Release lets a stalled OCR service answer again.
func (tc *TestContext) Release() {
	if g := tc.held.Load(); g != nil {
		g.Open()
	}
}

// StartSession builds the session on first use. Crops go through the real
// http recognizer to the fake OCR service.
func (tc *TestContext) StartSession() error {
	if tc.Session != nil {
		return nil
	}
	rc := recognizer.DefaultConfig()
	rc.URL = tc.OCR.URL + "/ocr/image"
	rec, err := recognizer.New(rc)
	if err != nil {
		return err
	}

	tc.multi = pipeline.NewMultiPresenter(tc.Presents)
	sess, err := session.New(tc.Config, rec, session.Options{
		Presenter: tc.multi,
		Logger:    testutil.DiscardLogger(),
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sess.Run(ctx) }()
	tc.Session = sess
	tc.stop = cancel
	return nil
}

// StartServer serves the control API for the session on a test listener.
func (tc *TestContext) StartServer() error {
	if err := tc.StartSession(); err != nil {
		return err
	}
	srv := server.NewServer(server.Config{CORSOrigin: "*", Logger: testutil.DiscardLogger()}, tc.Session)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	tc.Server = srv
	tc.HTTP = httptest.NewServer(mux)

	tc.multi.Add(srv.Hub())
	return nil
}

// WaitCtx returns a context bounded by stepTimeout.
func WaitCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), stepTimeout)
}

// LastStatus returns the newest status that is not a per-result line.
func (tc *TestContext) LastStatus() string {
	statuses := tc.Presents.Statuses()
	for i := len(statuses) - 1; i >= 0; i-- {
		if !strings.HasPrefix(statuses[i], "Rejected reading") {
			return statuses[i]
		}
	}
	return ""
}

// Cleanup stops the session and servers and removes scratch files.
func (tc *TestContext) Cleanup() error {
	tc.Release()
	if tc.WS != nil {
		_ = tc.WS.Close()
	}
	if tc.Server != nil {
		_ = tc.Server.Close()
	}
	if tc.HTTP != nil {
		tc.HTTP.Close()
	}
	if tc.stop != nil {
		tc.stop()
		<-tc.Session.Done()
	}
	tc.OCR.Close()

	var errs []error
	if err := os.RemoveAll(tc.TempDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove temp dir: %w", err))
	}
	return errors.Join(errs...)
}
