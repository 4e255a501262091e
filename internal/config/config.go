package config

import (
	"fmt"
	"image"
	"slices"
	"strings"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/MeKo-Tech/vidtally/internal/reading"
	"github.com/MeKo-Tech/vidtally/internal/recognizer"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/session"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	regions := region.DefaultOptions()
	worker := pipeline.DefaultWorkerConfig()
	rec := recognizer.DefaultConfig()

	return Config{
		LogLevel: "info",
		Verbose:  false,
		Video: VideoConfig{
			CanvasWidth:  regions.Canvas.Dx(),
			CanvasHeight: regions.Canvas.Dy(),
			FPSOverride:  0,
			SequenceFPS:  frames.DefaultOptions().SequenceFPS,
			Speed:        1,
		},
		Regions: RegionsConfig{
			MinSize:   regions.MinSize,
			NudgeStep: regions.NudgeStep,
		},
		Extraction: ExtractionConfig{
			Interval:      frames.DefaultSampleInterval,
			QueueSize:     worker.QueueSize,
			QueueWait:     worker.QueueWait,
			IdleSleep:     worker.IdleSleep,
			ErrorBackoff:  worker.ErrorBackoff,
			SaveArtifacts: false,
			ArtifactsDir:  worker.ArtifactsDir,
		},
		Recognizer: RecognizerConfig{
			Backend:    rec.Backend,
			URL:        rec.URL,
			TimeoutSec: rec.TimeoutSec,
			Language:   rec.Language,
			Whitelist:  rec.Whitelist,
		},
		Validation: ValidationConfig{
			Tolerance: reading.DefaultTolerance,
			MaxValue:  reading.DefaultMaxValue,
		},
		Output: OutputConfig{
			Dir:         ".",
			Prefix:      "extracted_data",
			ColumnOrder: string(ledger.CreditsBetWin),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			CORSOrigin:      "*",
			ShutdownTimeout: 10,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validBackends := []string{recognizer.BackendHTTP, recognizer.BackendTesseract}
	if !slices.Contains(validBackends, strings.ToLower(c.Recognizer.Backend)) {
		return fmt.Errorf("invalid recognizer backend: %s (must be one of: %s)", c.Recognizer.Backend, strings.Join(validBackends, ", "))
	}

	if !ledger.ColumnOrder(c.Output.ColumnOrder).Valid() {
		return fmt.Errorf("invalid column order: %s (must be one of: %s, %s)", c.Output.ColumnOrder, ledger.CreditsBetWin, ledger.CreditsWinBet)
	}

	if err := validatePositive(c.Video.CanvasWidth, "video.canvas_width"); err != nil {
		return err
	}
	if err := validatePositive(c.Video.CanvasHeight, "video.canvas_height"); err != nil {
		return err
	}
	if c.Video.FPSOverride < 0 {
		return fmt.Errorf("invalid video.fps_override: %.2f (must not be negative)", c.Video.FPSOverride)
	}
	if c.Video.SequenceFPS <= 0 {
		return fmt.Errorf("invalid video.sequence_fps: %.2f (must be positive)", c.Video.SequenceFPS)
	}
	if err := validatePositive(c.Regions.MinSize, "regions.min_size"); err != nil {
		return err
	}
	if err := validatePositive(c.Regions.NudgeStep, "regions.nudge_step"); err != nil {
		return err
	}
	if err := validatePositive(c.Extraction.Interval, "extraction.interval"); err != nil {
		return err
	}
	if err := validatePositive(c.Extraction.QueueSize, "extraction.queue_size"); err != nil {
		return err
	}
	if c.Extraction.QueueWait <= 0 || c.Extraction.IdleSleep <= 0 {
		return fmt.Errorf("invalid extraction timing: queue_wait and idle_sleep must be positive")
	}
	if c.Extraction.ErrorBackoff < 0 {
		return fmt.Errorf("invalid extraction.error_backoff: %s (must not be negative)", c.Extraction.ErrorBackoff)
	}
	if c.Validation.Tolerance < 0 {
		return fmt.Errorf("invalid validation.tolerance: %.2f (must not be negative)", c.Validation.Tolerance)
	}
	if c.Validation.MaxValue <= 0 {
		return fmt.Errorf("invalid validation.max_value: %.2f (must be positive)", c.Validation.MaxValue)
	}
	if c.Recognizer.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Recognizer.TimeoutSec)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	return nil
}

// ToSessionConfig converts the config to the session configuration format.
func (c *Config) ToSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Regions = c.toRegionOptions()
	cfg.Frames = frames.Options{
		SequenceFPS: c.Video.SequenceFPS,
		FPSOverride: c.Video.FPSOverride,
	}
	cfg.PresetsFile = c.Regions.PresetsFile
	cfg.SampleInterval = c.Extraction.Interval
	cfg.PlaybackSpeed = c.Video.Speed
	cfg.Worker = c.toWorkerConfig()
	cfg.OutputDir = c.Output.Dir
	cfg.Prefix = c.Output.Prefix
	cfg.ColumnOrder = ledger.ColumnOrder(c.Output.ColumnOrder)
	return cfg
}

// toRegionOptions converts to region.Options.
func (c *Config) toRegionOptions() region.Options {
	return region.Options{
		Canvas:    image.Rect(0, 0, c.Video.CanvasWidth, c.Video.CanvasHeight),
		MinSize:   c.Regions.MinSize,
		NudgeStep: c.Regions.NudgeStep,
	}
}

// toWorkerConfig converts to pipeline.WorkerConfig.
func (c *Config) toWorkerConfig() pipeline.WorkerConfig {
	cfg := pipeline.DefaultWorkerConfig()
	cfg.QueueSize = c.Extraction.QueueSize
	cfg.QueueWait = c.Extraction.QueueWait
	cfg.IdleSleep = c.Extraction.IdleSleep
	cfg.ErrorBackoff = c.Extraction.ErrorBackoff
	cfg.SaveArtifacts = c.Extraction.SaveArtifacts
	if c.Extraction.ArtifactsDir != "" {
		cfg.ArtifactsDir = c.Extraction.ArtifactsDir
	}
	cfg.Tolerance = c.Validation.Tolerance
	cfg.MaxValue = c.Validation.MaxValue
	return cfg
}

// ToRecognizerConfig converts to recognizer.Config.
func (c *Config) ToRecognizerConfig() recognizer.Config {
	cfg := recognizer.DefaultConfig()
	cfg.Backend = strings.ToLower(c.Recognizer.Backend)
	if c.Recognizer.URL != "" {
		cfg.URL = c.Recognizer.URL
	}
	cfg.TimeoutSec = c.Recognizer.TimeoutSec
	if c.Recognizer.Language != "" {
		cfg.Language = c.Recognizer.Language
	}
	cfg.Whitelist = c.Recognizer.Whitelist
	return cfg
}

// Address returns the server listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// validatePositive validates that an integer setting is above zero.
func validatePositive(value int, name string) error {
	if value <= 0 {
		return fmt.Errorf("invalid %s: %d (must be positive)", name, value)
	}
	return nil
}
