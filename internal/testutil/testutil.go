package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// FindFiles returns the files in dir whose names match pattern.
func FindFiles(t *testing.T, dir, pattern string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	return matches
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
