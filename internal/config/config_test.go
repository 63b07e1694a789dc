package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Server.ListenAddr)
	assert.Empty(t, cfg.Store.JournalPath)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  listen_addr: "127.0.0.1:9000"
store:
  journal_path: "/var/lib/cachemq/journal.db"
pubsub:
  assignment_timeout_s: 30
  notification_interval_ms: 250
  inactivity_threshold_s: 300
  clean_interval_s: 5
  wait_max_s: 2
  fairness_cap: 100
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "/var/lib/cachemq/journal.db", cfg.Store.JournalPath)

	engine := cfg.Engine()
	assert.Equal(t, time.Second*30, engine.AssignmentTimeout)
	assert.Equal(t, time.Millisecond*250, engine.NotificationInterval)
	assert.Equal(t, time.Minute*5, engine.InactivityThreshold)
	assert.Equal(t, time.Second*5, engine.CleanInterval)
	assert.Equal(t, time.Second*2, engine.WaitMax)
	assert.Equal(t, 100, engine.FairnessCap)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEngineZeroValuesLeftToEngineDefaults(t *testing.T) {
	engine := Default().Engine()

	assert.Zero(t, engine.AssignmentTimeout)
	assert.Zero(t, engine.FairnessCap)
}
