package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syncgate/internal/config"
	"syncgate/internal/model"
)

func TestStreamURL(t *testing.T) {
	u, err := streamURL("https://gw.example/", []string{"sync", "webhook"}, "j1")
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example/v1/jobs/stream?jobId=j1&queue=sync&queue=webhook", u)

	u, err = streamURL("http://localhost:8080", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/jobs/stream", u)
}

func TestVersionAndConnectors(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "syncgate dev")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"connectors"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "shopify")
	assert.Contains(t, out.String(), "erp-rest")
}

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})
	require.NoError(t, root.Execute())
	assert.Len(t, bytes.TrimSpace(out.Bytes()), 44)
}

func TestAppWiresInMemory(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Export.Dir = t.TempDir()

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	ic, err := a.integrations.CreateIntegration(context.Background(), model.IntegrationConfig{
		MerchantID: "m-1", ConnectorType: "csv", Settings: map[string]any{"directory": t.TempDir()},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{model.QueueSync, model.QueueWebhook, model.QueueExport}, a.jobs.Queues())

	saved, err := a.integrations.SaveMappings(context.Background(), ic.ID, model.SyncProducts, []model.DataMapping{{SourceField: "code", TargetField: "sku"}})
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestMappingsImportNeedsIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte("syncTypes:\n  products:\n    - {sourceField: code, targetField: sku}\n"), 0o600))
	root := newRootCmd()
	root.SetArgs([]string{"mappings", "import", path})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no integration id")
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
