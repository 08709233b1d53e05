package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresDB(db), mock
}

var jobColumns = []string{"id", "queue", "key", "payload", "priority", "state", "attempts", "max_attempts", "run_at",
	"locked_until", "progress", "last_error", "result", "created_at", "updated_at", "finished_at"}

var integrationColumns = []string{"id", "merchant_id", "name", "connector_type", "credentials", "settings", "status",
	"error_count", "max_retries", "retry_delay_ms", "last_sync_at", "created_at", "updated_at"}

func TestEnqueueJobReturnsLiveDuplicate(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE queue=\\$1 AND key=\\$2").
		WithArgs(model.QueueSync, "abc").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", model.QueueSync, "abc", []byte(`{}`), 0, "waiting", 0, 3, now,
			nil, 0, "", nil, now, now, nil))

	j, created, err := p.EnqueueJob(context.Background(), model.Job{Queue: model.QueueSync, Key: "abc", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "job-1", j.ID)
	assert.Equal(t, model.JobWaiting, j.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueJobRetriesWhenLiveJobFinishes(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE queue=\\$1 AND key=\\$2").
		WithArgs(model.QueueSync, "abc").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-2", model.QueueSync, "abc", []byte(`{}`), 0, "waiting", 0, 1, now,
			nil, 0, "", nil, now, now, nil))

	j, created, err := p.EnqueueJob(context.Background(), model.Job{ID: "job-2", Queue: model.QueueSync, Key: "abc", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "job-2", j.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueJobGivesUpAfterSecondMiss(t *testing.T) {
	p, mock := newMock(t)
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("INSERT INTO jobs").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT (.+) FROM jobs WHERE queue=\\$1 AND key=\\$2").WillReturnError(sql.ErrNoRows)
	}

	_, created, err := p.EnqueueJob(context.Background(), model.Job{Queue: model.QueueSync, Key: "abc"})
	require.Error(t, err)
	assert.False(t, created)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobsOrdersByPriority(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now().UTC()
	lock := now.Add(time.Minute)
	mock.ExpectQuery("UPDATE jobs SET state='active'").
		WithArgs(model.QueueWebhook, 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("low", model.QueueWebhook, "", []byte(`{}`), 1, "active", 1, 5, now, lock, 0, "", nil, now, now, nil).
			AddRow("high", model.QueueWebhook, "", []byte(`{}`), 9, "active", 2, 5, now, lock, 0, "boom", nil, now, now, nil))

	jobs, err := p.ClaimJobs(context.Background(), model.QueueWebhook, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "high", jobs[0].ID)
	assert.Equal(t, "boom", jobs[0].LastError)
	require.NotNil(t, jobs[0].LockedUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureReportsTrip(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE integrations SET error_count = error_count \\+ 1").
		WithArgs("int-1").
		WillReturnRows(sqlmock.NewRows(append(integrationColumns, "status")).AddRow(
			"int-1", "m-1", "", "erp-rest", []byte(`{"token":"x"}`), []byte(`{}`), "error",
			3, 3, 5000, nil, now, now, "active"))

	cfg, tripped, err := p.RecordFailure(context.Background(), "int-1")
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, model.StatusError, cfg.Status)
	assert.Equal(t, "x", cfg.Credentials["token"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetIntegrationNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM integrations WHERE id=\\$1").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := p.GetIntegration(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestUpsertRecordReportsInsert(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO catalog_records").
		WithArgs("product", "m-1", "SKU-1", sqlmock.AnyArg(), "int-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	created, err := p.UpsertRecord(context.Background(), model.CatalogRecord{
		Kind: model.KindProduct, MerchantID: "m-1", Key: "SKU-1", Source: "int-1", Data: map[string]any{"sku": "SKU-1"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStalledJobsCounts(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET state='failed'").WithArgs(model.QueueSync).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET state='waiting'").WithArgs(model.QueueSync).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	requeued, failed, err := p.RecoverStalledJobs(context.Background(), model.QueueSync)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	assert.Equal(t, 1, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueJobRejectsLiveJob(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE jobs SET state='waiting', attempts=0").WithArgs("j1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id=\\$1").WithArgs("j1").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"j1", model.QueueSync, "", []byte(`{}`), 0, "active", 1, 3, now, nil, 0, "", nil, now, now, nil))

	err := p.RequeueJob(context.Background(), "j1")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestQualifiedColumns(t *testing.T) {
	got := qualified("id, COALESCE(name,''), status", "integrations")
	assert.Equal(t, "integrations.id, COALESCE(integrations.name,''), integrations.status", got)
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}
