package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Rooms.ReconnectGrace)
	assert.Equal(t, 8, cfg.Rooms.IDLength)
	assert.Len(t, cfg.Rooms.IDAlphabet, 62)
	assert.Equal(t, PersistNone, cfg.Persistence.Mode)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	yaml := `
server:
  addr: ":9090"
rooms:
  reconnect_grace: 2s
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("ROOMS_ROOMS_EMPTY_GRACE", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Rooms.ReconnectGrace)
	assert.Equal(t, 45*time.Second, cfg.Rooms.EmptyGrace)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateCollectsViolations(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Rooms.IDLength = 2
	cfg.Persistence.Mode = PersistDirect

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "rooms.id_length")
	assert.Contains(t, err.Error(), "requires database.enabled")
}

func TestValidateQueueModeNeedsRedis(t *testing.T) {
	cfg := Default()
	cfg.Persistence.Mode = PersistQueue
	require.Error(t, cfg.Validate())

	cfg.Redis.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", d.DSN())
}
