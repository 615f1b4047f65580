package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, c.PrepareTimeout, 5*time.Second)
	assert.Equal(t, c.CommitTimeout, 5*time.Second)
	assert.Equal(t, c.TransactionTimeout, 30*time.Second)
	assert.Equal(t, c.MaxRetries, 3)
	assert.Equal(t, c.RetryDelay, time.Second)
	assert.Equal(t, c.StorageBackend, MemoryStorage)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.properties")
	content := "prepare_timeout=1500\nmax_retries=5\nstorage_backend=sql\nparticipant_urls=http://ledger:6001\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := LoadConfig(path)
	assert.Equal(t, c.PrepareTimeout, 1500*time.Millisecond)
	assert.Equal(t, c.MaxRetries, 5)
	assert.Equal(t, c.StorageBackend, PostgreSQL)
	assert.Equal(t, c.ParticipantURL, "http://ledger:6001")
	// Untouched keys keep their defaults.
	assert.Equal(t, c.RetryDelay, time.Second)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.properties")
	require.NoError(t, os.WriteFile(path, []byte("retry_delay=2000\n"), 0o644))
	t.Setenv("RETRY_DELAY", "250")
	t.Setenv("TOKEN_SECRET", "from-env")

	c := LoadConfig(path)
	assert.Equal(t, c.RetryDelay, 250*time.Millisecond)
	assert.Equal(t, c.TokenSecret, "from-env")
}

func TestLoadConfigUseWAL(t *testing.T) {
	defer func() { UseWAL = false }()
	path := filepath.Join(t.TempDir(), "atx.properties")
	require.NoError(t, os.WriteFile(path, []byte("use_wal=true\nwal_dir=/var/atx/logs\n"), 0o644))

	c := LoadConfig(path)
	assert.Equal(t, UseWAL, true)
	assert.Equal(t, c.WALDir, "/var/atx/logs")

	t.Setenv("USE_WAL", "false")
	LoadConfig(path)
	assert.Equal(t, UseWAL, false)
}

func TestLoadConfigMissingFile(t *testing.T) {
	c := LoadConfig(filepath.Join(t.TempDir(), "absent.properties"))
	assert.Equal(t, c.MaxRetries, 3)
}

func TestLoadConfigBadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.properties")
	require.NoError(t, os.WriteFile(path, []byte("prepare_timeout=soon\n"), 0o644))
	c := LoadConfig(path)
	assert.Equal(t, c.PrepareTimeout, 5*time.Second)
}
