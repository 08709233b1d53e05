//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"syncgate/internal/model"
)

func TestPostgresMigrateAndJobDedupe(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(t.Context()))
	require.NoError(t, p.Migrate(t.Context()))
	require.NoError(t, p.Migrate(t.Context()), "migrations must be re-runnable")

	queue := "it-" + time.Now().Format("150405.000000")
	defer func() { _ = p.ClearQueue(t.Context(), queue) }()

	first, created, err := p.EnqueueJob(t.Context(), model.Job{Queue: queue, Key: "k1", Payload: []byte(`{"a":1}`), MaxAttempts: 2})
	require.NoError(t, err)
	require.True(t, created)
	dup, created, err := p.EnqueueJob(t.Context(), model.Job{Queue: queue, Key: "k1", Payload: []byte(`{"a":2}`)})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, dup.ID)

	claimed, err := p.ClaimJobs(t.Context(), queue, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, claimed[0].Attempts)
	require.NoError(t, p.CompleteJob(t.Context(), first.ID, []byte(`{"ok":true}`)))

	_, created, err = p.EnqueueJob(t.Context(), model.Job{Queue: queue, Key: "k1", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, created, "completed jobs release their key")
}
