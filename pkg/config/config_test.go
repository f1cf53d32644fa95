package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/accelrt/pkg/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accelrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, core.Continue, cfg.Queue.FailureMode)
	assert.Equal(t, StoreMemory, cfg.Signals.Store)
	assert.Equal(t, 10*time.Millisecond, cfg.Signals.PollInterval.D())
	assert.Equal(t, 128, cfg.Dispatch.MaxGroups)
	assert.Equal(t, 1024, cfg.Dispatch.Backlog)
	assert.Equal(t, 1<<20, cfg.Reassembly.MaxReportBytes)
	assert.Equal(t, 30*time.Second, cfg.Reassembly.StaleAfter.D())
	assert.Equal(t, "30s", cfg.Janitor.Schedule)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
queue:
  failure_mode: stop
  sync_timeout: 2s
  priority: 3
signals:
  store: sqlite
  path: /tmp/accelrt.db
  poll_interval: 5ms
dispatch:
  max_groups: 4
  poll_interval: 50ms
  backlog: 64
reassembly:
  max_report_bytes: 4096
  max_inflight: 8
  stale_after: 1m
exceptions:
  journal: true
  journal_timeout: 1500000000
janitor:
  enabled: true
  schedule: "*/10 * * * * *"
metrics:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, core.StopOnFailure, cfg.Queue.FailureMode)
	assert.Equal(t, 2*time.Second, cfg.Queue.SyncTimeout.D())
	assert.Equal(t, 3, cfg.Queue.Priority)
	assert.Equal(t, "/tmp/accelrt.db", cfg.Signals.Path)
	assert.Equal(t, 5*time.Millisecond, cfg.Signals.PollInterval.D())
	assert.Equal(t, 4, cfg.Dispatch.MaxGroups)
	assert.Equal(t, 64, cfg.Dispatch.Backlog)
	assert.Equal(t, 4096, cfg.Reassembly.MaxReportBytes)
	assert.Equal(t, time.Minute, cfg.Reassembly.StaleAfter.D())
	assert.True(t, cfg.Exceptions.Journal)
	assert.Equal(t, 1500*time.Millisecond, cfg.Exceptions.JournalTimeout.D())
	assert.True(t, cfg.Janitor.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"failure mode", "queue: {failure_mode: maybe}", "failure_mode"},
		{"store", "signals: {store: redis}", "signals.store"},
		{"sqlite without path", "signals: {store: sqlite}", "signals.path"},
		{"journal without sqlite", "exceptions: {journal: true}", "exceptions.journal"},
		{"groups", "dispatch: {max_groups: 500}", "max_groups"},
		{"schedule", "janitor: {schedule: nonsense}", "janitor.schedule"},
		{"duration", "signals: {poll_interval: soon}", "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
