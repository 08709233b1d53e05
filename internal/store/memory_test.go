package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedMemory() (*Memory, *clock) {
	c := &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	m := NewMemory()
	m.SetClock(c.now)
	return m, c
}

func TestMemoryFailureThresholdAndRestore(t *testing.T) {
	ctx := context.Background()
	m, _ := newClockedMemory()
	require.NoError(t, m.CreateIntegration(ctx, model.IntegrationConfig{ID: "i1", MaxRetries: 2, Status: model.StatusActive}))

	cfg, tripped, err := m.RecordFailure(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Equal(t, 1, cfg.ErrorCount)

	cfg, tripped, err = m.RecordFailure(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, model.StatusError, cfg.Status)

	_, tripped, err = m.RecordFailure(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, tripped, "already in error")

	synced := time.Now().UTC()
	cfg, restored, err := m.RecordSuccess(ctx, "i1", &synced)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, 0, cfg.ErrorCount)
	assert.Equal(t, model.StatusActive, cfg.Status)
	require.NotNil(t, cfg.LastSyncAt)
}

func TestMemoryRecordSuccessKeepsInactive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateIntegration(ctx, model.IntegrationConfig{ID: "i1", Status: model.StatusInactive, ErrorCount: 2, MaxRetries: 3}))
	cfg, restored, err := m.RecordSuccess(ctx, "i1", nil)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, model.StatusInactive, cfg.Status)
	assert.Nil(t, cfg.LastSyncAt)
}

func TestMemoryIntegrationCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateIntegration(ctx, model.IntegrationConfig{ID: "i1", Credentials: map[string]string{"token": "a"}}))
	cfg, err := m.GetIntegration(ctx, "i1")
	require.NoError(t, err)
	cfg.Credentials["token"] = "mutated"
	again, err := m.GetIntegration(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Credentials["token"])

	err = m.CreateIntegration(ctx, model.IntegrationConfig{ID: "i1"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	_, err = m.GetIntegration(ctx, "missing")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestMemoryListMappingsBySyncType(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.ReplaceMappings(ctx, "i1", []model.DataMapping{
		{SourceField: "a", TargetField: "sku", SyncType: model.SyncProducts},
		{SourceField: "b", TargetField: "quantity", SyncType: model.SyncInventory},
		{SourceField: "c", TargetField: "name"},
	}))
	products, err := m.ListMappings(ctx, "i1", model.SyncProducts)
	require.NoError(t, err)
	assert.Len(t, products, 2)
	all, err := m.ListMappings(ctx, "i1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, mp := range all {
		assert.NotEmpty(t, mp.ID)
		assert.Equal(t, "i1", mp.IntegrationID)
	}
}

func TestMemoryCatalogSince(t *testing.T) {
	ctx := context.Background()
	m, c := newClockedMemory()
	created, err := m.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindOrder, MerchantID: "m", Key: "o1"})
	require.NoError(t, err)
	assert.True(t, created)
	mark := c.now()
	c.advance(time.Minute)
	created, err = m.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindOrder, MerchantID: "m", Key: "o2"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = m.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindOrder, MerchantID: "m", Key: "o1", UpdatedAt: mark})
	require.NoError(t, err)
	assert.False(t, created)

	recs, err := m.ListRecords(ctx, model.KindOrder, "m", mark, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "o2", recs[0].Key)

	all, err := m.ListRecords(ctx, model.KindOrder, "m", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryJobDedupeWhileLive(t *testing.T) {
	ctx := context.Background()
	m, _ := newClockedMemory()
	first, created, err := m.EnqueueJob(ctx, model.Job{Queue: model.QueueSync, Key: "k", MaxAttempts: 3})
	require.NoError(t, err)
	require.True(t, created)

	dup, created, err := m.EnqueueJob(ctx, model.Job{Queue: model.QueueSync, Key: "k"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)

	_, created, err = m.EnqueueJob(ctx, model.Job{Queue: model.QueueExport, Key: "k"})
	require.NoError(t, err)
	assert.True(t, created, "keys are scoped per queue")

	claimed, err := m.ClaimJobs(ctx, model.QueueSync, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, m.CompleteJob(ctx, first.ID, []byte(`{"success":true}`)))

	_, created, err = m.EnqueueJob(ctx, model.Job{Queue: model.QueueSync, Key: "k"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryClaimOrderAndDelay(t *testing.T) {
	ctx := context.Background()
	m, c := newClockedMemory()
	_, _, _ = m.EnqueueJob(ctx, model.Job{ID: "low", Queue: model.QueueSync, Priority: 1})
	_, _, _ = m.EnqueueJob(ctx, model.Job{ID: "high", Queue: model.QueueSync, Priority: 5})
	delayed, _, _ := m.EnqueueJob(ctx, model.Job{ID: "later", Queue: model.QueueSync, Priority: 10, RunAt: c.now().Add(time.Hour)})
	assert.Equal(t, model.JobDelayed, delayed.State)

	claimed, err := m.ClaimJobs(ctx, model.QueueSync, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "high", claimed[0].ID)
	assert.Equal(t, "low", claimed[1].ID)
	assert.Equal(t, 1, claimed[0].Attempts)

	c.advance(2 * time.Hour)
	claimed, err = m.ClaimJobs(ctx, model.QueueSync, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "later", claimed[0].ID)
}

func TestMemoryRecoverStalled(t *testing.T) {
	ctx := context.Background()
	m, c := newClockedMemory()
	_, _, _ = m.EnqueueJob(ctx, model.Job{ID: "once", Queue: model.QueueSync, MaxAttempts: 1})
	_, _, _ = m.EnqueueJob(ctx, model.Job{ID: "twice", Queue: model.QueueSync, MaxAttempts: 2})
	_, err := m.ClaimJobs(ctx, model.QueueSync, 10, time.Second)
	require.NoError(t, err)

	requeued, failed, err := m.RecoverStalledJobs(ctx, model.QueueSync)
	require.NoError(t, err)
	assert.Zero(t, requeued+failed, "leases still valid")

	c.advance(time.Minute)
	requeued, failed, err = m.RecoverStalledJobs(ctx, model.QueueSync)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	j, err := m.GetJob(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, j.State)
	assert.NotEmpty(t, j.LastError)
}

func TestMemoryRetryRequeueCountsClear(t *testing.T) {
	ctx := context.Background()
	m, c := newClockedMemory()
	_, _, _ = m.EnqueueJob(ctx, model.Job{ID: "j", Queue: model.QueueWebhook, Key: "evt", MaxAttempts: 2})
	_, _ = m.ClaimJobs(ctx, model.QueueWebhook, 1, time.Minute)
	require.NoError(t, m.RetryJob(ctx, "j", c.now().Add(time.Second), "timeout"))

	counts, err := m.CountJobs(ctx, model.QueueWebhook)
	require.NoError(t, err)
	assert.Equal(t, model.QueueCounts{Delayed: 1}, counts)

	require.Error(t, m.RequeueJob(ctx, "j"), "only failed jobs can be requeued")
	require.NoError(t, m.FailJob(ctx, "j", "gave up"))
	require.NoError(t, m.RequeueJob(ctx, "j"))
	j, _ := m.GetJob(ctx, "j")
	assert.Equal(t, model.JobWaiting, j.State)
	assert.Zero(t, j.Attempts)

	_, created, _ := m.EnqueueJob(ctx, model.Job{Queue: model.QueueWebhook, Key: "evt"})
	assert.False(t, created, "requeued job holds its key again")

	require.NoError(t, m.ClearQueue(ctx, model.QueueWebhook))
	counts, _ = m.CountJobs(ctx, model.QueueWebhook)
	assert.Equal(t, model.QueueCounts{}, counts)
}
