package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/vidtally/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create configuration files",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(GetConfig())
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "# loaded from %s\n", used)
		}
		_, err = out.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [FILE]",
	Short: "Write a configuration file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			file = args[0]
		}
		if err := config.GenerateDefaultConfigFile(file); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", file)
		return nil
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List where configuration is searched for",
	Run: func(cmd *cobra.Command, args []string) {
		GetConfigLoader().PrintConfigInfo(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathsCmd)
}
