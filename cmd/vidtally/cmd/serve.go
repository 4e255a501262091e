package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/server"
	"github.com/MeKo-Tech/vidtally/internal/session"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve [VIDEO]",
	Short: "Start the HTTP control server",
	Long: `Start an HTTP server that drives one interactive session.

The server provides the following endpoints:
  GET    /status                 - Session state and current readings
  POST   /load                   - Open a video
  POST   /play, /pause, /seek    - Playback control
  POST   /extract                - Extract the frame on screen
  POST   /auto                   - Toggle auto processing
  GET    /regions                - Export regions as a preset
  PUT    /regions                - Apply a preset
  POST   /regions/{field}        - Draw, set or commit a region
  POST   /regions/{field}/nudge  - Shift a region
  GET    /frame.png, /chart.png  - Current frame and ledger chart
  GET    /ws                     - Event stream
  GET    /health, /metrics       - Health check and Prometheus metrics

Examples:
  vidtally serve
  vidtally serve --port 9000 session.mp4
  vidtally serve --host 0.0.0.0 --regions regions.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()

		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("cors-origin") {
			cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		if cmd.Flags().Changed("shutdown-timeout") {
			cfg.Server.ShutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}
		if err := applyRunFlags(cmd, &cfg); err != nil {
			return err
		}

		rec, err := recognizer.New(cfg.ToRecognizerConfig())
		if err != nil {
			return fmt.Errorf("failed to create recognizer: %w", err)
		}
		defer func() { _ = recognizer.Close(rec) }()

		logger := slog.Default()
		presenters := pipeline.NewMultiPresenter(pipeline.NewLogPresenter(logger, slog.LevelDebug))
		sess, err := session.New(cfg.ToSessionConfig(), rec, session.Options{
			Presenter: presenters,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		srv := server.NewServer(server.Config{
			Host:       cfg.Server.Host,
			Port:       cfg.Server.Port,
			CORSOrigin: cfg.Server.CORSOrigin,
			Logger:     logger,
		}, sess)
		presenters.Add(srv.Hub())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := sess.Run(ctx); err != nil {
				logger.Error("Session loop stopped", "error", err)
			}
		}()

		if len(args) == 1 {
			if err := sess.Load(args[0]); err != nil {
				return fmt.Errorf("could not open video %s: %w", args[0], err)
			}
		}

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              cfg.Server.Address(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("Starting vidtally server", "host", cfg.Server.Host, "port", cfg.Server.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		logger.Info("Starting graceful shutdown", "timeout", timeout)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		_ = srv.Close()

		// Let queued extractions land in the ledger before the loop stops.
		if err := sess.Drain(shutdownCtx); err != nil && !errors.Is(err, session.ErrClosed) {
			logger.Warn("Pending extractions dropped", "error", err)
		}
		cancel()
		<-sess.Done()

		logger.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8090, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	addSessionFlags(serveCmd)
	serveCmd.Flags().Float64("speed", 1, "playback speed multiplier; 0 decodes as fast as possible")
}
