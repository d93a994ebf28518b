package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward-oss/pkg/domain"
)

const sampleManifest = `
workers:
  - id: chart-worker
    name: Chart Worker
    capabilities: [visualization]
    keywords: [chart, plot, graph]
    trigger_phrases: ["create a chart"]
    priority: 8
    resources:
      required: true
      allowed_types: [dataset, table]
    max_concurrent: 4
    timeout: 60s
  - id: echo-worker
    name: Echo Worker
    priority: 1
    fallback: true
`

func TestParseManifest(t *testing.T) {
	workers, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, workers, 2)

	chart := workers[0]
	assert.Equal(t, "chart-worker", chart.ID)
	assert.Equal(t, 8, chart.Priority)
	assert.True(t, chart.Resources.RequiresResource)
	assert.Equal(t, []string{"dataset", "table"}, chart.Resources.AllowedTypes)
	assert.Equal(t, 4, chart.MaxConcurrent)
	assert.Equal(t, time.Minute, chart.Timeout)
	assert.False(t, chart.Fallback)

	assert.True(t, workers[1].Fallback)
}

func TestParseManifestRejectsMissingID(t *testing.T) {
	_, err := ParseManifest([]byte("workers:\n  - name: nameless\n    priority: 5\n"))
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestParseManifestRejectsDuplicateID(t *testing.T) {
	_, err := ParseManifest([]byte(`
workers:
  - id: twin
    priority: 5
  - id: twin
    priority: 5
`))
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "twin")
}

func TestParseManifestRejectsPriorityOutOfRange(t *testing.T) {
	_, err := ParseManifest([]byte("workers:\n  - id: eager\n    priority: 11\n"))
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestParseManifestRejectsMultipleFallbacks(t *testing.T) {
	_, err := ParseManifest([]byte(`
workers:
  - id: one
    priority: 1
    fallback: true
  - id: two
    priority: 1
    fallback: true
`))
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestManifestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "workers.yaml", sampleManifest)

	w, err := NewManifestWatcher(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer w.Close()

	updates := w.Subscribe()
	first := <-updates
	require.Len(t, first, 2)

	updated := sampleManifest + `
  - id: anomaly-worker
    name: Anomaly Worker
    priority: 7
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case workers := <-updates:
		require.Len(t, workers, 3)
		assert.Equal(t, "anomaly-worker", workers[2].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after manifest change")
	}

	assert.Len(t, w.Workers(), 3)
}

func TestManifestWatcherKeepsLastGoodSetOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "workers.yaml", sampleManifest)

	w, err := NewManifestWatcher(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("workers: [broken"), 0o600))

	// Give the debounce and reload a chance to run, then confirm the
	// previous descriptors survived.
	time.Sleep(500 * time.Millisecond)
	assert.Len(t, w.Workers(), 2)
}

func TestManifestWatcherRejectsBrokenInitialManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "workers.yaml", "workers: [broken")

	_, err := NewManifestWatcher(path, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
