package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("TRIPLEDGER_SERVER_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, 30*time.Second, cfg.Client.SyncInterval)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripledger.toml")
	err := os.WriteFile(path, []byte(`
[server]
addr = ":9090"
db_path = "/tmp/ledger.db"

[client]
server_url = "http://ledger.example"
sync_interval = "5s"
`), 0o600)
	require.NoError(t, err)

	t.Setenv("DB_PATH", "")
	t.Setenv("TRIPLEDGER_SERVER_URL", "")
	t.Setenv("TRIPLEDGER_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/ledger.db", cfg.Server.DBPath)
	assert.Equal(t, "http://ledger.example", cfg.Client.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.Client.SyncInterval)
	assert.Equal(t, 10*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, "from-env", cfg.Client.Token)

	t.Setenv("DB_PATH", "/override.db")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/override.db", cfg.Server.DBPath)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\naddr ="), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
