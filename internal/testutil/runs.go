//go:build integration || e2e

package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// ProjectRoot returns the module root directory.
func ProjectRoot() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..")
}

// RunsDir returns the directory holding the checked-in run files.
func RunsDir() string {
	return filepath.Join(ProjectRoot(), "test", "runs")
}

// RunFile returns the path of a checked-in run file by name, without the
// .yaml extension. The test fails if it does not exist.
func RunFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(RunsDir(), name+".yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("run file %s: %v", name, err)
	}
	return path
}

// RunFiles lists the names of all checked-in run files.
func RunFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(RunsDir(), "*.yaml"))
	if err != nil {
		t.Fatalf("listing run files: %v", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	return names
}
