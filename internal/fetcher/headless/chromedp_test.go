package headless

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBrowser drops an executable with a known browser name into a fresh
// directory and points PATH at it.
func fakeBrowser(t *testing.T, name string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)
}

// TestNewFailsWithoutBrowser verifies construction errors on a host with no
// browser binary, so callers can degrade to http-only.
func TestNewFailsWithoutBrowser(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := New(Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no headless browser executable")
}

// TestNewFindsBrowserOnPath verifies any of the known binary names satisfies
// construction.
func TestNewFindsBrowserOnPath(t *testing.T) {
	fakeBrowser(t, "chromium")

	tr, err := New(Config{MaxParallel: 2, NavigationTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	require.Equal(t, 2, cap(tr.limiter))
}

// TestNewRejectsNegativeParallel verifies the session cap is validated.
func TestNewRejectsNegativeParallel(t *testing.T) {
	fakeBrowser(t, "google-chrome")

	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)
}
