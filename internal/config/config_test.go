package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxWebhookBody)
	assert.Equal(t, 5*time.Minute, cfg.HTTP.WebhookMaxAge)
	assert.Equal(t, "dev", cfg.Auth.Mode)
	assert.Empty(t, cfg.Database.URL)
	require.Len(t, cfg.Queues, 3)
	assert.Equal(t, model.QueueSync, cfg.Queues[0].Name)
	assert.Equal(t, 5, cfg.Queues[0].Concurrency)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
log:
  level: debug
queues:
  webhook:
    concurrency: 20
    attempts: 8
`), 0o600))
	t.Setenv("SYNCGATE_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("SYNCGATE_QUEUES_SYNC_DELAY", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Second, cfg.Queues[0].Retry.Delay)
	assert.Equal(t, 20, cfg.Queues[1].Concurrency)
	assert.Equal(t, 8, cfg.Queues[1].Retry.Attempts)
}

func TestFallbacks(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://db/syncgate")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/syncgate", cfg.Database.URL)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestValidateRejectsBadQueue(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SYNCGATE_QUEUES_EXPORT_BACKOFF", "linear")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
