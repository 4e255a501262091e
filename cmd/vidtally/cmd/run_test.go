package cmd

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/config"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedVideo writes a 45 frame sequence that reads the same on every
// frame and returns the frame directory, the preset and the OCR URL.
func scriptedVideo(t *testing.T) (string, string, string) {
	t.Helper()
	rec := testutil.NewScriptedRecognizer().SetRange(45, "1,000", "10", "5")
	srv := testutil.NewOCRServer(t, rec.Recognize)

	video := testutil.WriteSequence(t, t.TempDir(), testutil.DefaultFrameLayout(), 45)
	preset := testutil.WriteLayoutPreset(t, t.TempDir())
	return video, preset, srv.URL + "/ocr/image"
}

func TestRunVideo(t *testing.T) {
	video, preset, ocrURL := scriptedVideo(t)

	cfg := config.DefaultConfig()
	cfg.Regions.PresetsFile = preset
	cfg.Video.Speed = 0
	cfg.Extraction.QueueWait = 10 * time.Millisecond
	cfg.Extraction.IdleSleep = 5 * time.Millisecond
	cfg.Recognizer.URL = ocrURL
	cfg.Output.Dir = t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	res, err := runVideo(ctx, &cfg, video, pipeline.NoOpPresenter{})
	require.NoError(t, err)

	// One row per due frame: 0, 15 and 30.
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, cfg.Output.Dir, filepath.Dir(res.Ledger))

	rows, err := ledger.ReadFile(res.Ledger)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, "1000", row.Credits)
		assert.Equal(t, "5", row.Win)
	}
}

func TestRunVideoMissingFile(t *testing.T) {
	_, preset, ocrURL := scriptedVideo(t)
	cfg := config.DefaultConfig()
	cfg.Regions.PresetsFile = preset
	cfg.Recognizer.URL = ocrURL
	cfg.Output.Dir = t.TempDir()

	_, err := runVideo(context.Background(), &cfg, filepath.Join(t.TempDir(), "missing.mp4"), pipeline.NoOpPresenter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not open video")
}

func TestRunCommand(t *testing.T) {
	video, preset, ocrURL := scriptedVideo(t)
	dir := isolate(t)
	out := filepath.Join(dir, "out")
	chart := filepath.Join(dir, "chart.png")

	output, err := executeCommand(t, "run", video,
		"--regions", preset,
		"--speed", "0",
		"--ocr-url", ocrURL,
		"--output-dir", out,
		"--no-progress",
		"--chart", chart)
	require.NoError(t, err)
	assert.Contains(t, output, "Saved 3 row(s) to "+out)
	assert.Contains(t, output, "Chart written to "+chart)

	ledgers := testutil.FindFiles(t, out, "extracted_data_*.csv")
	require.Len(t, ledgers, 1)

	f, err := os.Open(chart)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	_, err = png.Decode(f)
	require.NoError(t, err)
}

func TestRunCommandNeedsRegions(t *testing.T) {
	isolate(t)
	_, err := executeCommand(t, "run", "video.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no regions preset given")
}

func TestRunCommandRejectsBadFlags(t *testing.T) {
	isolate(t)
	_, err := executeCommand(t, "run", "video.mp4", "--regions", "r.yaml", "--column-order", "win,bet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column order")
}
