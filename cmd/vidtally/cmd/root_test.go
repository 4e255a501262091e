package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with no config files in reach.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return dir
}

// resetFlags restores every flag to its default so executions do not leak
// into each other through the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	viper.Reset()
	bindRootFlags()
	cfgFile = ""
	globalConfig = nil
	t.Cleanup(func() { globalConfig = nil })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "vidtally", GetRootCommand().Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)
	output, err := executeCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "Credits, Bet and Win")
	assert.Contains(t, output, "Available Commands:")
}

func TestRootCommandVersion(t *testing.T) {
	isolate(t)
	output, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, output, "vidtally version dev")
}

func TestRootCommandSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, expected := range []string{"run", "serve", "chart", "regions", "config"} {
		assert.Contains(t, names, expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolate(t)
	output, err := executeCommand(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, output, "unknown flag")
}

func TestRootCommandBadConfigFile(t *testing.T) {
	isolate(t)
	_, err := executeCommand(t, "--config", "missing.yaml", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("WARN").String())
	assert.Equal(t, "ERROR", parseLogLevel("error").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}
