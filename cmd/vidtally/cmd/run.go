package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/config"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/session"
	"github.com/spf13/cobra"
)

// runCmd processes a whole video without a viewer.
var runCmd = &cobra.Command{
	Use:   "run VIDEO",
	Short: "Extract counters from a whole video",
	Long: `Play VIDEO from the start with auto processing enabled and write every
accepted reading to a new ledger file in the output directory.

Regions come from a preset file (--regions or regions.presets_file).

Examples:
  vidtally run session.mp4 --regions regions.yaml
  vidtally run frames/ --regions regions.yaml --interval 30 --speed 0
  vidtally run session.mp4 --regions regions.yaml --chart chart.png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if err := applyRunFlags(cmd, &cfg); err != nil {
			return err
		}
		if cfg.Regions.PresetsFile == "" {
			return errors.New("no regions preset given: pass --regions or set regions.presets_file")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		progress := true
		if cmd.Flags().Changed("no-progress") {
			noProgress, _ := cmd.Flags().GetBool("no-progress")
			progress = !noProgress
		}
		var presenter pipeline.Presenter = pipeline.NewLogPresenter(slog.Default(), slog.LevelDebug)
		if progress {
			presenter = pipeline.NewMultiPresenter(
				pipeline.NewConsolePresenter(cmd.OutOrStdout(), "vidtally"),
				presenter,
			)
		}

		res, err := runVideo(ctx, &cfg, args[0], presenter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "\nSaved %d row(s) to %s\n", res.Rows, res.Ledger)
		if chartPath, _ := cmd.Flags().GetString("chart"); chartPath != "" {
			if err := writeChartFile(res.Ledger, chartPath, ledger.DefaultChartOptions()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Chart written to %s\n", chartPath)
		}
		return nil
	},
}

// runResult summarises a headless run.
type runResult struct {
	Ledger string
	Rows   int
}

// runVideo drives a session through one full playback and waits until every
// queued extraction has been persisted.
func runVideo(ctx context.Context, cfg *config.Config, path string, presenter pipeline.Presenter) (runResult, error) {
	rec, err := recognizer.New(cfg.ToRecognizerConfig())
	if err != nil {
		return runResult{}, fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer func() { _ = recognizer.Close(rec) }()

	sess, err := session.New(cfg.ToSessionConfig(), rec, session.Options{
		Presenter: presenter,
		Logger:    slog.Default(),
	})
	if err != nil {
		return runResult{}, fmt.Errorf("failed to create session: %w", err)
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer func() {
		cancelLoop()
		<-sess.Done()
	}()
	go func() {
		if err := sess.Run(loopCtx); err != nil {
			slog.Error("Session loop stopped", "error", err)
		}
	}()

	if err := sess.Load(path); err != nil {
		return runResult{}, fmt.Errorf("could not open video %s: %w", path, err)
	}
	if err := sess.SetAutoProcess(true); err != nil {
		return runResult{}, fmt.Errorf("cannot enable auto processing: %w", err)
	}

	start := time.Now()
	if err := sess.Play(); err != nil {
		return runResult{}, err
	}
	if err := sess.WaitForPlayback(ctx); err != nil {
		return runResult{}, err
	}
	if err := sess.Drain(ctx); err != nil {
		return runResult{}, err
	}

	st, err := sess.Status()
	if err != nil {
		return runResult{}, err
	}
	slog.Info("Run completed",
		"video", path,
		"frames", st.TotalFrames,
		"rows", st.Rows,
		"ledger", st.Ledger,
		"duration", time.Since(start))
	return runResult{Ledger: st.Ledger, Rows: st.Rows}, nil
}

// applyRunFlags folds changed flags into cfg and revalidates it.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("regions") {
		cfg.Regions.PresetsFile, _ = cmd.Flags().GetString("regions")
	}
	if cmd.Flags().Changed("interval") {
		cfg.Extraction.Interval, _ = cmd.Flags().GetInt("interval")
	}
	if cmd.Flags().Changed("speed") {
		cfg.Video.Speed, _ = cmd.Flags().GetFloat64("speed")
	}
	if cmd.Flags().Changed("fps") {
		cfg.Video.FPSOverride, _ = cmd.Flags().GetFloat64("fps")
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Dir, _ = cmd.Flags().GetString("output-dir")
	}
	if cmd.Flags().Changed("column-order") {
		cfg.Output.ColumnOrder, _ = cmd.Flags().GetString("column-order")
	}
	if cmd.Flags().Changed("save-artifacts") {
		cfg.Extraction.SaveArtifacts, _ = cmd.Flags().GetBool("save-artifacts")
	}
	if cmd.Flags().Changed("backend") {
		cfg.Recognizer.Backend, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("ocr-url") {
		cfg.Recognizer.URL, _ = cmd.Flags().GetString("ocr-url")
	}
	return cfg.Validate()
}

// addSessionFlags registers the flags shared by run and serve.
func addSessionFlags(c *cobra.Command) {
	c.Flags().String("regions", "", "region preset file (YAML)")
	c.Flags().Int("interval", 15, "process every Nth played frame")
	c.Flags().Float64("fps", 0, "override the frame rate reported by the video")
	c.Flags().String("output-dir", ".", "directory for ledger files")
	c.Flags().String("column-order", string(ledger.CreditsBetWin), "ledger column order: credits,bet,win or credits,win,bet")
	c.Flags().Bool("save-artifacts", false, "save region crops of every extraction")
	c.Flags().String("backend", recognizer.BackendHTTP, "recognizer backend: http or tesseract")
	c.Flags().String("ocr-url", "", "OCR service endpoint for the http backend")
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSessionFlags(runCmd)
	runCmd.Flags().Float64("speed", 1, "playback speed multiplier; 0 decodes as fast as possible")
	runCmd.Flags().Bool("no-progress", false, "disable the progress display")
	runCmd.Flags().String("chart", "", "write a chart of the ledger to this PNG file when done")
}
