package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/vidtally/internal/config"
	"github.com/MeKo-Tech/vidtally/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vidtally",
	Short: "Read Credits, Bet and Win counters from recorded video",
	Long: `vidtally samples frames from a recorded video, reads the Credits, Bet and Win
counters from user-defined screen regions, checks every reading against the
previous one and appends plausible readings to a CSV ledger.

Regions are drawn on a fixed canvas and mapped back to source pixels, so a
saved region preset works for any recording of the same layout.

Examples:
  vidtally run session.mp4 --regions regions.yaml
  vidtally serve --port 8090 session.mp4
  vidtally chart extracted_data_20240309_143005.csv -o chart.png`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.Flags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "vidtally version "+version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $XDG_CONFIG_HOME/vidtally, /etc/vidtally)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	bindRootFlags()

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		slog.SetDefault(newLogger(globalConfig))
		return nil
	}
}

// bindRootFlags lets the global flags override config file values.
func bindRootFlags() {
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// newLogger builds the process logger. It writes JSON to stderr; stdout
// carries command output and progress.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			slog.Error("Falling back to default configuration", "error", err)
			cfg := config.DefaultConfig()
			return &cfg
		}
	}
	return globalConfig
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
