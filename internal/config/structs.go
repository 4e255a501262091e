//nolint:lll
package config

import "time"

// Config represents the complete configuration for vidtally.
// It includes settings for all commands (run, serve, chart, regions) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Video      VideoConfig      `mapstructure:"video" yaml:"video" json:"video"`
	Regions    RegionsConfig    `mapstructure:"regions" yaml:"regions" json:"regions"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction" json:"extraction"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation" json:"validation"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// VideoConfig contains playback and display settings.
type VideoConfig struct {
	CanvasWidth  int     `mapstructure:"canvas_width" yaml:"canvas_width" json:"canvas_width"`
	CanvasHeight int     `mapstructure:"canvas_height" yaml:"canvas_height" json:"canvas_height"`
	FPSOverride  float64 `mapstructure:"fps_override" yaml:"fps_override" json:"fps_override"`
	SequenceFPS  float64 `mapstructure:"sequence_fps" yaml:"sequence_fps" json:"sequence_fps"`
	Speed        float64 `mapstructure:"speed" yaml:"speed" json:"speed"`
}

// RegionsConfig contains selection settings.
type RegionsConfig struct {
	MinSize     int    `mapstructure:"min_size" yaml:"min_size" json:"min_size"`
	NudgeStep   int    `mapstructure:"nudge_step" yaml:"nudge_step" json:"nudge_step"`
	PresetsFile string `mapstructure:"presets_file" yaml:"presets_file" json:"presets_file"`
}

// ExtractionConfig contains extraction worker settings.
type ExtractionConfig struct {
	Interval      int           `mapstructure:"interval" yaml:"interval" json:"interval"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	QueueWait     time.Duration `mapstructure:"queue_wait" yaml:"queue_wait" json:"queue_wait"`
	IdleSleep     time.Duration `mapstructure:"idle_sleep" yaml:"idle_sleep" json:"idle_sleep"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff" yaml:"error_backoff" json:"error_backoff"`
	SaveArtifacts bool          `mapstructure:"save_artifacts" yaml:"save_artifacts" json:"save_artifacts"`
	ArtifactsDir  string        `mapstructure:"artifacts_dir" yaml:"artifacts_dir" json:"artifacts_dir"`
}

// RecognizerConfig contains text recognition settings.
type RecognizerConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend" json:"backend"`
	URL        string `mapstructure:"url" yaml:"url" json:"url"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	Language   string `mapstructure:"language" yaml:"language" json:"language"`
	Whitelist  string `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
}

// ValidationConfig contains reading validation settings.
type ValidationConfig struct {
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	MaxValue  float64 `mapstructure:"max_value" yaml:"max_value" json:"max_value"`
}

// OutputConfig contains ledger output settings.
type OutputConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Prefix      string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	ColumnOrder string `mapstructure:"column_order" yaml:"column_order" json:"column_order"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}
