package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig creates an offline configuration rooted in a temp directory
func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("DOCRAG_DB_PATH", "")
	t.Setenv("DOCRAG_RUNS_PATH", "")

	dir := t.TempDir()
	cfg := `database:
  path: ` + filepath.Join(dir, "data", "docrag.db") + `
  runs_path: ` + filepath.Join(dir, "data", "runs.db") + `
log:
  level: error
embedder:
  provider: local
  dimension: 64
generator:
  provider: template
`
	path := filepath.Join(dir, "docrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/calc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calc.go"), []byte(`package calc

// Add returns the sum of a and b.
func Add(a, b int) int {
	return a + b
}
`), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNewApp(t *testing.T) {
	a, err := newApp(writeConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, a.orch)
	assert.NotNil(t, a.searcher)
	assert.NotNil(t, a.indexer)
	require.NoError(t, a.Close())
}

func TestNewApp_BadConfig(t *testing.T) {
	_, err := newApp(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIndexSearchStatus(t *testing.T) {
	cfg := writeConfig(t)
	project := writeProject(t)

	out, err := execute(t, "index", "--config", cfg, project)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Project: example.com/calc")
	assert.Contains(t, out, "indexed 1")

	out, err = execute(t, "search", "--config", cfg, "--project", "example.com/calc", "sum", "of", "a", "and", "b")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "calc.go")

	out, err = execute(t, "status", "--config", cfg, "example.com/calc")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(1 indexed)")

	// Runs persist in the bolt ledger across invocations
	out, err = execute(t, "runs", "--config", cfg, "--project", "example.com/calc")
	require.NoError(t, err, out)
	assert.Contains(t, out, "calc.go")
	assert.True(t, strings.Contains(out, "indexed"))
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrag.toml")
	out, err := execute(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[search]")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docrag version dev")
}
