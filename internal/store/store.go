package store

import (
	"context"
	"encoding/json"
	"time"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

// Store is the persistence interface behind the integration service, the connectors'
// catalog and the job queue.
type Store interface {
	// Integrations
	CreateIntegration(ctx context.Context, cfg model.IntegrationConfig) error
	GetIntegration(ctx context.Context, id string) (model.IntegrationConfig, error)
	UpdateIntegration(ctx context.Context, cfg model.IntegrationConfig) error
	DeleteIntegration(ctx context.Context, id string) error
	ListIntegrations(ctx context.Context, filter IntegrationFilter) ([]model.IntegrationConfig, error)
	// RecordFailure increments the error count and flips status to error once it reaches
	// max retries. tripped is true only on the transition.
	RecordFailure(ctx context.Context, id string) (cfg model.IntegrationConfig, tripped bool, err error)
	// RecordSuccess zeroes the error count, leaves error status for active and stamps
	// lastSyncAt when syncedAt is set. restored is true when the status left error.
	RecordSuccess(ctx context.Context, id string, syncedAt *time.Time) (cfg model.IntegrationConfig, restored bool, err error)

	// Mappings
	ReplaceMappings(ctx context.Context, integrationID string, mappings []model.DataMapping) error
	ListMappings(ctx context.Context, integrationID string, syncType model.SyncType) ([]model.DataMapping, error)

	// Catalog
	GetRecord(ctx context.Context, kind model.RecordKind, merchantID, key string) (model.CatalogRecord, error)
	UpsertRecord(ctx context.Context, rec model.CatalogRecord) (created bool, err error)
	ListRecords(ctx context.Context, kind model.RecordKind, merchantID string, since time.Time, limit int) ([]model.CatalogRecord, error)

	// Jobs
	EnqueueJob(ctx context.Context, job model.Job) (model.Job, bool, error)
	ClaimJobs(ctx context.Context, queue string, limit int, lease time.Duration) ([]model.Job, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error
	FailJob(ctx context.Context, id string, lastError string) error
	TouchJob(ctx context.Context, id string, progress int, lease time.Duration) error
	RecoverStalledJobs(ctx context.Context, queue string) (requeued, failed int, err error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, queue string, state model.JobState, limit int) ([]model.Job, error)
	RequeueJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context, queue string) (model.QueueCounts, error)
	ClearQueue(ctx context.Context, queue string) error

	Ping(ctx context.Context) error
}

// IntegrationFilter narrows ListIntegrations; empty fields match everything.
type IntegrationFilter struct {
	MerchantID string
	Status     model.IntegrationStatus
	Limit      int
}

var ErrNotFound = errs.NotFound("not found")

func notFound(what, id string) error {
	return errs.NotFound("%s %s not found", what, id)
}
