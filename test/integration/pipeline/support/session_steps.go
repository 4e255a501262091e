package support

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/testutil"
	"github.com/cucumber/godog"
)

// RegisterSessionSteps registers the steps that drive a session directly.
func (tc *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a recorded video of (\d+) frames$`, tc.aRecordedVideo)
	sc.Step(`^the OCR service reads frame (\d+) as credits "([^"]*)", bet "([^"]*)" and win "([^"]*)"$`, tc.ocrReads)
	sc.Step(`^the OCR service reads every frame as credits "([^"]*)", bet "([^"]*)" and win "([^"]*)"$`, tc.ocrReadsEvery)
	sc.Step(`^the OCR service stalls until playback ends$`, tc.ocrStalls)
	sc.Step(`^the OCR service fails on the (\w+) region of frame (\d+)$`, tc.ocrFails)
	sc.Step(`^an extraction interval of (\d+) frames$`, tc.extractionInterval)
	sc.Step(`^the ledger column order is "([^"]*)"$`, tc.columnOrder)
	sc.Step(`^the regions preset matches the video layout$`, tc.presetMatchesLayout)

	sc.Step(`^I load the video$`, tc.loadVideo)
	sc.Step(`^I load the missing video "([^"]*)"$`, tc.loadMissingVideo)
	sc.Step(`^I enable auto processing$`, tc.enableAutoProcessing)
	sc.Step(`^I play the video to the end$`, tc.playToEnd)
	sc.Step(`^I seek to (\d+) percent$`, tc.seekPercent)
	sc.Step(`^I extract the current frame$`, tc.extractCurrent)
	sc.Step(`^I extract frame (\d+)$`, tc.extractFrame)
	sc.Step(`^I draw the (\w+) region from \((\d+),(\d+)\) to \((\d+),(\d+)\)$`, tc.drawRegion)
	sc.Step(`^I nudge the (\w+) region (left|right|up|down)$`, tc.nudgeRegion)

	sc.Step(`^the command should fail with "([^"]*)"$`, tc.commandShouldFail)
	sc.Step(`^the status should be "([^"]*)"$`, tc.statusShouldBe)
	sc.Step(`^the status log should contain "([^"]*)"$`, tc.statusLogShouldContain)
	sc.Step(`^(\d+) frames? should have been extracted$`, tc.framesExtracted)
	sc.Step(`^the reading for frame (\d+) should be rejected$`, tc.readingRejected)
	sc.Step(`^every extraction after the first should read frame (\d+)$`, tc.laterExtractionsRead)
	sc.Step(`^the ledger should contain (\d+) rows?$`, tc.ledgerRows)
	sc.Step(`^ledger row (\d+) should be frame (\d+) at "([^"]*)" with credits "([^"]*)", bet "([^"]*)" and win "([^"]*)"$`, tc.ledgerRow)
	sc.Step(`^the ledger header should be "([^"]*)"$`, tc.ledgerHeader)
	sc.Step(`^the current (\w+) value should be "([^"]*)"$`, tc.currentValue)
	sc.Step(`^the (\w+) region should be (inactive|drawing|active)$`, tc.regionState)
	sc.Step(`^the (\w+) region should map to source rectangle \((\d+),(\d+)\)-\((\d+),(\d+)\)$`, tc.regionSource)
}

func (tc *TestContext) aRecordedVideo(n int) error {
	tc.VideoPath = filepath.Join(tc.TempDir, "video")
	tc.Frames = n
	return testutil.SaveSequence(tc.VideoPath, testutil.DefaultFrameLayout(), n)
}

func (tc *TestContext) ocrReads(frame int, credits, bet, win string) error {
	tc.Script.Set(frame, credits, bet, win)
	return nil
}

func (tc *TestContext) ocrReadsEvery(credits, bet, win string) error {
	if tc.Frames == 0 {
		return errors.New("no recorded video")
	}
	tc.Script.SetRange(tc.Frames, credits, bet, win)
	return nil
}

func (tc *TestContext) ocrStalls() error {
	tc.Stall()
	return nil
}

func (tc *TestContext) ocrFails(name string, frame int) error {
	field, err := region.ParseField(name)
	if err != nil {
		return err
	}
	tc.Script.Fail(frame, int(field), errors.New("unreadable crop"))
	return nil
}

func (tc *TestContext) extractionInterval(n int) error {
	if tc.Session != nil {
		return errors.New("interval must be set before the session starts")
	}
	tc.Config.SampleInterval = n
	return nil
}

func (tc *TestContext) columnOrder(order string) error {
	if tc.Session != nil {
		return errors.New("column order must be set before the session starts")
	}
	tc.Config.ColumnOrder = ledger.ColumnOrder(order)
	return nil
}

func (tc *TestContext) presetMatchesLayout() error {
	if tc.Session != nil {
		return errors.New("presets must be set before the session starts")
	}
	tc.PresetPath = filepath.Join(tc.TempDir, "regions.yaml")
	tc.Config.PresetsFile = tc.PresetPath
	return region.SavePreset(tc.PresetPath, testutil.LayoutPreset())
}

func (tc *TestContext) loadVideo() error {
	if err := tc.StartSession(); err != nil {
		return err
	}
	return tc.Session.Load(tc.VideoPath)
}

func (tc *TestContext) loadMissingVideo(name string) error {
	if err := tc.StartSession(); err != nil {
		return err
	}
	tc.LastErr = tc.Session.Load(filepath.Join(tc.TempDir, name))
	return nil
}

func (tc *TestContext) enableAutoProcessing() error {
	tc.LastErr = tc.Session.SetAutoProcess(true)
	return nil
}

func (tc *TestContext) playToEnd() error {
	if err := tc.Session.Play(); err != nil {
		return err
	}
	ctx, cancel := WaitCtx()
	defer cancel()
	if err := tc.Session.WaitForPlayback(ctx); err != nil {
		return err
	}
	tc.Release()
	return tc.Session.Drain(ctx)
}

func (tc *TestContext) seekPercent(pct int) error {
	return tc.Session.Seek(float64(pct) / 100)
}

func (tc *TestContext) extractCurrent() error {
	tc.LastErr = tc.Session.ExtractNow()
	ctx, cancel := WaitCtx()
	defer cancel()
	return tc.Session.Drain(ctx)
}

func (tc *TestContext) extractFrame(frame int) error {
	if tc.Frames == 0 {
		return errors.New("no recorded video")
	}
	if err := tc.Session.Seek(float64(frame) / float64(tc.Frames)); err != nil {
		return err
	}
	return tc.extractCurrent()
}

func (tc *TestContext) drawRegion(name string, x1, y1, x2, y2 int) error {
	field, err := region.ParseField(name)
	if err != nil {
		return err
	}
	if err := tc.Session.Begin(field, image.Pt(x1, y1)); err != nil {
		return err
	}
	if err := tc.Session.Update(field, image.Pt(x2, y2)); err != nil {
		return err
	}
	_, err = tc.Session.Commit(field)
	return err
}

func (tc *TestContext) nudgeRegion(name, dir string) error {
	field, err := region.ParseField(name)
	if err != nil {
		return err
	}
	_, tc.LastErr = tc.Session.Nudge(field, region.Direction(dir))
	return nil
}

func (tc *TestContext) commandShouldFail(text string) error {
	if tc.LastErr == nil {
		return errors.New("expected the last command to fail")
	}
	if !strings.Contains(tc.LastErr.Error(), text) {
		return fmt.Errorf("expected error containing %q, got %q", text, tc.LastErr)
	}
	return nil
}

func (tc *TestContext) statusShouldBe(expected string) error {
	if got := tc.LastStatus(); got != expected {
		return fmt.Errorf("expected status %q, got %q", expected, got)
	}
	return nil
}

func (tc *TestContext) statusLogShouldContain(text string) error {
	statuses := tc.Presents.Statuses()
	for _, s := range statuses {
		if strings.Contains(s, text) {
			return nil
		}
	}
	return fmt.Errorf("no status contains %q; got %q", text, statuses)
}

func (tc *TestContext) framesExtracted(n int) error {
	if got := len(tc.Presents.Results()); got != n {
		return fmt.Errorf("expected %d extraction results, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) readingRejected(frame int) error {
	for _, res := range tc.Presents.Results() {
		if res.FrameIndex != frame {
			continue
		}
		if !res.Rejected() {
			return fmt.Errorf("reading for frame %d was not rejected", frame)
		}
		return nil
	}
	return fmt.Errorf("no result for frame %d", frame)
}

func (tc *TestContext) laterExtractionsRead(frame int) error {
	results := tc.Presents.Results()
	if len(results) < 2 {
		return fmt.Errorf("expected several extraction results, got %d", len(results))
	}
	for i, res := range results[1:] {
		if res.FrameIndex != frame {
			return fmt.Errorf("extraction %d read frame %d, expected %d", i+2, res.FrameIndex, frame)
		}
	}
	return nil
}

func (tc *TestContext) readLedger() ([]ledger.Row, error) {
	path, err := tc.Session.LedgerPath()
	if err != nil {
		return nil, err
	}
	rows, err := ledger.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

func (tc *TestContext) ledgerRows(n int) error {
	rows, err := tc.readLedger()
	if err != nil {
		return err
	}
	if len(rows) != n {
		return fmt.Errorf("expected %d ledger rows, got %d", n, len(rows))
	}
	return nil
}

func (tc *TestContext) ledgerRow(idx, frame int, ts, credits, bet, win string) error {
	rows, err := tc.readLedger()
	if err != nil {
		return err
	}
	if idx < 1 || idx > len(rows) {
		return fmt.Errorf("ledger has %d rows, no row %d", len(rows), idx)
	}
	want := ledger.Row{Frame: frame, Timestamp: ts, Credits: credits, Bet: bet, Win: win}
	if got := rows[idx-1]; got != want {
		return fmt.Errorf("row %d: expected %+v, got %+v", idx, want, got)
	}
	return nil
}

func (tc *TestContext) ledgerHeader(expected string) error {
	path, err := tc.Session.LedgerPath()
	if err != nil {
		return err
	}
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the session under test
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return errors.New("ledger is empty")
	}
	if got := sc.Text(); got != expected {
		return fmt.Errorf("expected header %q, got %q", expected, got)
	}
	return nil
}

func (tc *TestContext) currentValue(label, expected string) error {
	values, err := tc.Session.CurrentValues()
	if err != nil {
		return err
	}
	if got := values[label]; got != expected {
		return fmt.Errorf("expected current %s %q, got %q", label, expected, got)
	}
	return nil
}

func (tc *TestContext) regionState(name, state string) error {
	field, err := region.ParseField(name)
	if err != nil {
		return err
	}
	st, err := tc.Session.Status()
	if err != nil {
		return err
	}
	for _, rs := range st.Regions {
		if rs.Field == field {
			if rs.State != state {
				return fmt.Errorf("expected %s region %s, got %s", rs.Label, state, rs.State)
			}
			return nil
		}
	}
	return fmt.Errorf("no status for region %s", name)
}

func (tc *TestContext) regionSource(name string, x1, y1, x2, y2 int) error {
	field, err := region.ParseField(name)
	if err != nil {
		return err
	}
	st, err := tc.Session.Status()
	if err != nil {
		return err
	}
	for _, rs := range st.Regions {
		if rs.Field != field {
			continue
		}
		if rs.Source == nil {
			return fmt.Errorf("%s region has no source rectangle", rs.Label)
		}
		got := image.Rect(rs.Source.X1, rs.Source.Y1, rs.Source.X2, rs.Source.Y2)
		if want := image.Rect(x1, y1, x2, y2); got != want {
			return fmt.Errorf("expected %s source %v, got %v", rs.Label, want, got)
		}
		return nil
	}
	return fmt.Errorf("no status for region %s", name)
}
