package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "vidtally"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "VIDTALLY"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader backed by v.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and sets defaults.
// It returns the loaded configuration and any error encountered.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine when searching; defaults and env vars apply.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// Replace dots and dashes with underscores in env var names
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("video.canvas_width", defaults.Video.CanvasWidth)
	l.v.SetDefault("video.canvas_height", defaults.Video.CanvasHeight)
	l.v.SetDefault("video.fps_override", defaults.Video.FPSOverride)
	l.v.SetDefault("video.sequence_fps", defaults.Video.SequenceFPS)
	l.v.SetDefault("video.speed", defaults.Video.Speed)

	l.v.SetDefault("regions.min_size", defaults.Regions.MinSize)
	l.v.SetDefault("regions.nudge_step", defaults.Regions.NudgeStep)
	l.v.SetDefault("regions.presets_file", defaults.Regions.PresetsFile)

	l.v.SetDefault("extraction.interval", defaults.Extraction.Interval)
	l.v.SetDefault("extraction.queue_size", defaults.Extraction.QueueSize)
	l.v.SetDefault("extraction.queue_wait", defaults.Extraction.QueueWait)
	l.v.SetDefault("extraction.idle_sleep", defaults.Extraction.IdleSleep)
	l.v.SetDefault("extraction.error_backoff", defaults.Extraction.ErrorBackoff)
	l.v.SetDefault("extraction.save_artifacts", defaults.Extraction.SaveArtifacts)
	l.v.SetDefault("extraction.artifacts_dir", defaults.Extraction.ArtifactsDir)

	l.v.SetDefault("recognizer.backend", defaults.Recognizer.Backend)
	l.v.SetDefault("recognizer.url", defaults.Recognizer.URL)
	l.v.SetDefault("recognizer.timeout_sec", defaults.Recognizer.TimeoutSec)
	l.v.SetDefault("recognizer.language", defaults.Recognizer.Language)
	l.v.SetDefault("recognizer.whitelist", defaults.Recognizer.Whitelist)

	l.v.SetDefault("validation.tolerance", defaults.Validation.Tolerance)
	l.v.SetDefault("validation.max_value", defaults.Validation.MaxValue)

	l.v.SetDefault("output.dir", defaults.Output.Dir)
	l.v.SetDefault("output.prefix", defaults.Output.Prefix)
	l.v.SetDefault("output.column_order", defaults.Output.ColumnOrder)

	// Server defaults
	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile generates a default configuration file.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}

	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "vidtally"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vidtally"))
	}

	paths = append(paths, "/etc/vidtally")

	return paths
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
