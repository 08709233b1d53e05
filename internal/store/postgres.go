package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errs.Connection(err, "postgres unreachable")
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded migrations that have not run yet, in file name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		var applied bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Integrations

const integrationCols = `id, merchant_id, COALESCE(name,''), connector_type, credentials, settings, status, error_count, max_retries, retry_delay_ms, last_sync_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner, extra ...any) (model.IntegrationConfig, error) {
	var cfg model.IntegrationConfig
	var creds, settings []byte
	var status string
	var lastSync sql.NullTime
	dest := append([]any{&cfg.ID, &cfg.MerchantID, &cfg.Name, &cfg.ConnectorType, &creds, &settings, &status,
		&cfg.ErrorCount, &cfg.MaxRetries, &cfg.RetryDelayMs, &lastSync, &cfg.CreatedAt, &cfg.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return cfg, err
	}
	cfg.Status = model.IntegrationStatus(status)
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &cfg.Credentials); err != nil {
			return cfg, fmt.Errorf("decode credentials: %w", err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
			return cfg, fmt.Errorf("decode settings: %w", err)
		}
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		cfg.LastSyncAt = &t
	}
	return cfg, nil
}

func (p *Postgres) CreateIntegration(ctx context.Context, cfg model.IntegrationConfig) error {
	creds, settings, err := encodeIntegration(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO integrations (id, merchant_id, name, connector_type, credentials, settings, status, error_count, max_retries, retry_delay_ms, last_sync_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		cfg.ID, cfg.MerchantID, nullIfEmpty(cfg.Name), cfg.ConnectorType, creds, settings, string(cfg.Status),
		cfg.ErrorCount, cfg.MaxRetries, cfg.RetryDelayMs, cfg.LastSyncAt, cfg.CreatedAt, cfg.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.Validation("integration %s already exists", cfg.ID)
	}
	return err
}

func (p *Postgres) GetIntegration(ctx context.Context, id string) (model.IntegrationConfig, error) {
	cfg, err := scanIntegration(p.db.QueryRowContext(ctx, `SELECT `+integrationCols+` FROM integrations WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, notFound("integration", id)
	}
	return cfg, err
}

func (p *Postgres) UpdateIntegration(ctx context.Context, cfg model.IntegrationConfig) error {
	creds, settings, err := encodeIntegration(cfg)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE integrations SET merchant_id=$2, name=$3, connector_type=$4, credentials=$5, settings=$6, status=$7,
        error_count=$8, max_retries=$9, retry_delay_ms=$10, last_sync_at=$11, updated_at=$12 WHERE id=$1`,
		cfg.ID, cfg.MerchantID, nullIfEmpty(cfg.Name), cfg.ConnectorType, creds, settings, string(cfg.Status),
		cfg.ErrorCount, cfg.MaxRetries, cfg.RetryDelayMs, cfg.LastSyncAt, cfg.UpdatedAt)
	if err != nil {
		return err
	}
	return expectRow(res, "integration", cfg.ID)
}

func (p *Postgres) DeleteIntegration(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM integrations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "integration", id)
}

func (p *Postgres) ListIntegrations(ctx context.Context, f IntegrationFilter) ([]model.IntegrationConfig, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+integrationCols+` FROM integrations
        WHERE ($1 = '' OR merchant_id = $1) AND ($2 = '' OR status = $2)
        ORDER BY created_at, id LIMIT $3`, f.MerchantID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.IntegrationConfig{}
	for rows.Next() {
		cfg, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordFailure(ctx context.Context, id string) (model.IntegrationConfig, bool, error) {
	var prev string
	cfg, err := scanIntegration(p.db.QueryRowContext(ctx, `WITH prev AS (SELECT status FROM integrations WHERE id=$1 FOR UPDATE)
        UPDATE integrations SET error_count = error_count + 1,
            status = CASE WHEN error_count + 1 >= max_retries THEN 'error' ELSE status END,
            updated_at = now()
        FROM prev WHERE integrations.id=$1
        RETURNING `+qualified(integrationCols, "integrations")+`, prev.status`, id), &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, false, notFound("integration", id)
	}
	if err != nil {
		return cfg, false, err
	}
	return cfg, prev != string(model.StatusError) && cfg.Status == model.StatusError, nil
}

func (p *Postgres) RecordSuccess(ctx context.Context, id string, syncedAt *time.Time) (model.IntegrationConfig, bool, error) {
	var prev string
	cfg, err := scanIntegration(p.db.QueryRowContext(ctx, `WITH prev AS (SELECT status FROM integrations WHERE id=$1 FOR UPDATE)
        UPDATE integrations SET error_count = 0,
            status = CASE WHEN integrations.status = 'error' THEN 'active' ELSE integrations.status END,
            last_sync_at = COALESCE($2, last_sync_at),
            updated_at = now()
        FROM prev WHERE integrations.id=$1
        RETURNING `+qualified(integrationCols, "integrations")+`, prev.status`, id, syncedAt), &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, false, notFound("integration", id)
	}
	if err != nil {
		return cfg, false, err
	}
	return cfg, prev == string(model.StatusError), nil
}

// Mappings

func (p *Postgres) ReplaceMappings(ctx context.Context, integrationID string, mappings []model.DataMapping) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM data_mappings WHERE integration_id=$1`, integrationID); err != nil {
		return err
	}
	for i, mp := range mappings {
		id := mp.ID
		if id == "" {
			id = uuid.NewString()
		}
		var def any
		if mp.DefaultValue != nil {
			b, err := json.Marshal(mp.DefaultValue)
			if err != nil {
				return errs.Validation("mapping %s: default value is not JSON encodable", mp.TargetField)
			}
			def = b
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO data_mappings (id, integration_id, position, sync_type, source_field, target_field, transformation, default_value, is_required)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			id, integrationID, i, nullIfEmpty(string(mp.SyncType)), mp.SourceField, mp.TargetField, nullIfEmpty(mp.Transformation), def, mp.Required); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListMappings(ctx context.Context, integrationID string, syncType model.SyncType) ([]model.DataMapping, error) {
	st := string(syncType)
	if syncType == model.SyncFull {
		st = ""
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(sync_type,''), source_field, target_field, COALESCE(transformation,''), default_value, is_required
        FROM data_mappings WHERE integration_id=$1 AND ($2 = '' OR COALESCE(sync_type,'') IN ('', $2))
        ORDER BY position`, integrationID, st)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DataMapping{}
	for rows.Next() {
		var mp model.DataMapping
		var syncT string
		var def []byte
		if err := rows.Scan(&mp.ID, &syncT, &mp.SourceField, &mp.TargetField, &mp.Transformation, &def, &mp.Required); err != nil {
			return nil, err
		}
		mp.IntegrationID = integrationID
		mp.SyncType = model.SyncType(syncT)
		if len(def) > 0 {
			if err := json.Unmarshal(def, &mp.DefaultValue); err != nil {
				return nil, fmt.Errorf("decode default value: %w", err)
			}
		}
		out = append(out, mp)
	}
	return out, rows.Err()
}

// Catalog

func (p *Postgres) GetRecord(ctx context.Context, kind model.RecordKind, merchantID, key string) (model.CatalogRecord, error) {
	rec := model.CatalogRecord{Kind: kind, MerchantID: merchantID, Key: key}
	var data []byte
	var source sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT data, source, updated_at FROM catalog_records WHERE kind=$1 AND merchant_id=$2 AND key=$3`,
		string(kind), merchantID, key).Scan(&data, &source, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, notFound(string(kind), key)
	}
	if err != nil {
		return rec, err
	}
	rec.Source = source.String
	return rec, json.Unmarshal(data, &rec.Data)
}

func (p *Postgres) UpsertRecord(ctx context.Context, rec model.CatalogRecord) (bool, error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return false, errs.Validation("%s %s: data is not JSON encodable", rec.Kind, rec.Key)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var inserted bool
	err = p.db.QueryRowContext(ctx, `INSERT INTO catalog_records (kind, merchant_id, key, data, source, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (kind, merchant_id, key) DO UPDATE SET data=EXCLUDED.data, source=EXCLUDED.source, updated_at=EXCLUDED.updated_at
        RETURNING (xmax = 0)`, string(rec.Kind), rec.MerchantID, rec.Key, data, nullIfEmpty(rec.Source), rec.UpdatedAt).Scan(&inserted)
	return inserted, err
}

func (p *Postgres) ListRecords(ctx context.Context, kind model.RecordKind, merchantID string, since time.Time, limit int) ([]model.CatalogRecord, error) {
	var sinceArg, limitArg any
	if !since.IsZero() {
		sinceArg = since
	}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := p.db.QueryContext(ctx, `SELECT key, data, source, updated_at FROM catalog_records
        WHERE kind=$1 AND merchant_id=$2 AND ($3::timestamptz IS NULL OR updated_at > $3)
        ORDER BY key LIMIT $4`, string(kind), merchantID, sinceArg, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CatalogRecord{}
	for rows.Next() {
		rec := model.CatalogRecord{Kind: kind, MerchantID: merchantID}
		var data []byte
		var source sql.NullString
		if err := rows.Scan(&rec.Key, &data, &source, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Source = source.String
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, rec.Key, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Jobs

const jobCols = `id, queue, key, payload, priority, state, attempts, max_attempts, run_at, locked_until, progress, COALESCE(last_error,''), result, created_at, updated_at, finished_at`

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	var state string
	var payload, result []byte
	var locked, finished sql.NullTime
	if err := row.Scan(&j.ID, &j.Queue, &j.Key, &payload, &j.Priority, &state, &j.Attempts, &j.MaxAttempts, &j.RunAt,
		&locked, &j.Progress, &j.LastError, &result, &j.CreatedAt, &j.UpdatedAt, &finished); err != nil {
		return j, err
	}
	j.State = model.JobState(state)
	j.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if locked.Valid {
		t := locked.Time
		j.LockedUntil = &t
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return j, nil
}

// EnqueueJob relies on the partial unique index over live (queue, key) pairs: a conflicting
// insert does nothing and the surviving job is returned instead.
func (p *Postgres) EnqueueJob(ctx context.Context, job model.Job) (model.Job, bool, error) {
	if job.Queue == "" {
		return model.Job{}, false, errs.Validation("job queue is required")
	}
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.State == "" {
		job.State = model.JobWaiting
		if job.RunAt.After(now) {
			job.State = model.JobDelayed
		}
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	payload := []byte(job.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	// The live job holding the key can finish between the insert and the lookup;
	// the insert is then retried once against the freed key.
	for attempt := 0; ; attempt++ {
		created, err := scanJob(p.db.QueryRowContext(ctx, `INSERT INTO jobs (id, queue, key, payload, priority, state, attempts, max_attempts, run_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,$9)
        ON CONFLICT (queue, key) WHERE key <> '' AND state IN ('waiting','delayed','active') DO NOTHING
        RETURNING `+jobCols, job.ID, job.Queue, job.Key, payload, job.Priority, string(job.State), job.MaxAttempts, job.RunAt, now))
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, false, err
		}
		existing, err := scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE queue=$1 AND key=$2 AND state IN ('waiting','delayed','active')`, job.Queue, job.Key))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) || attempt > 0 {
			return model.Job{}, false, fmt.Errorf("enqueue %s job %q: %w", job.Queue, job.Key, err)
		}
	}
}

func (p *Postgres) ClaimJobs(ctx context.Context, queue string, limit int, lease time.Duration) ([]model.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := p.db.QueryContext(ctx, `UPDATE jobs SET state='active', attempts=attempts+1, locked_until=$3, updated_at=now()
        WHERE id IN (
            SELECT id FROM jobs WHERE queue=$1 AND state IN ('waiting','delayed') AND run_at <= now()
            ORDER BY priority DESC, run_at, created_at
            LIMIT $2 FOR UPDATE SKIP LOCKED)
        RETURNING `+jobCols, queue, limit, time.Now().UTC().Add(lease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].RunAt.Before(out[b].RunAt)
	})
	return out, rows.Err()
}

func (p *Postgres) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	var res any
	if len(result) > 0 {
		res = []byte(result)
	}
	r, err := p.db.ExecContext(ctx, `UPDATE jobs SET state='completed', progress=100, result=$2, locked_until=NULL, finished_at=now(), updated_at=now() WHERE id=$1`, id, res)
	if err != nil {
		return err
	}
	return expectRow(r, "job", id)
}

func (p *Postgres) RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error {
	r, err := p.db.ExecContext(ctx, `UPDATE jobs SET state='delayed', run_at=$2, last_error=$3, locked_until=NULL, updated_at=now() WHERE id=$1`, id, runAt, nullIfEmpty(lastError))
	if err != nil {
		return err
	}
	return expectRow(r, "job", id)
}

func (p *Postgres) FailJob(ctx context.Context, id string, lastError string) error {
	r, err := p.db.ExecContext(ctx, `UPDATE jobs SET state='failed', last_error=$2, locked_until=NULL, finished_at=now(), updated_at=now() WHERE id=$1`, id, nullIfEmpty(lastError))
	if err != nil {
		return err
	}
	return expectRow(r, "job", id)
}

func (p *Postgres) TouchJob(ctx context.Context, id string, progress int, lease time.Duration) error {
	var until any
	if lease > 0 {
		until = time.Now().UTC().Add(lease)
	}
	_, err := p.db.ExecContext(ctx, `UPDATE jobs SET progress = CASE WHEN $2 >= 0 THEN $2 ELSE progress END,
        locked_until = COALESCE($3, locked_until), updated_at=now()
        WHERE id=$1 AND state='active'`, id, progress, until)
	return err
}

func (p *Postgres) RecoverStalledJobs(ctx context.Context, queue string) (int, int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()
	failedRes, err := tx.ExecContext(ctx, `UPDATE jobs SET state='failed', last_error='job stalled more than allowable limit', locked_until=NULL, finished_at=now(), updated_at=now()
        WHERE queue=$1 AND state='active' AND locked_until < now() AND attempts >= max_attempts`, queue)
	if err != nil {
		return 0, 0, err
	}
	requeuedRes, err := tx.ExecContext(ctx, `UPDATE jobs SET state='waiting', run_at=now(), locked_until=NULL, updated_at=now()
        WHERE queue=$1 AND state='active' AND locked_until < now()`, queue)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	failed, _ := failedRes.RowsAffected()
	requeued, _ := requeuedRes.RowsAffected()
	return int(requeued), int(failed), nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (model.Job, error) {
	j, err := scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return j, notFound("job", id)
	}
	return j, err
}

func (p *Postgres) ListJobs(ctx context.Context, queue string, state model.JobState, limit int) ([]model.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE ($1 = '' OR queue=$1) AND ($2 = '' OR state=$2)
        ORDER BY created_at DESC LIMIT $3`, queue, string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) RequeueJob(ctx context.Context, id string) error {
	r, err := p.db.ExecContext(ctx, `UPDATE jobs SET state='waiting', attempts=0, run_at=now(), finished_at=NULL, updated_at=now() WHERE id=$1 AND state='failed'`, id)
	if isUniqueViolation(err) {
		return errs.Validation("job %s has a live duplicate", id)
	}
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n > 0 {
		return nil
	}
	j, err := p.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return errs.Validation("job %s is %s, only failed jobs can be retried", id, j.State)
}

func (p *Postgres) CountJobs(ctx context.Context, queue string) (model.QueueCounts, error) {
	var c model.QueueCounts
	rows, err := p.db.QueryContext(ctx, `SELECT state, count(*) FROM jobs WHERE queue=$1 GROUP BY state`, queue)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return c, err
		}
		switch model.JobState(state) {
		case model.JobWaiting:
			c.Waiting = n
		case model.JobDelayed:
			c.Delayed = n
		case model.JobActive:
			c.Active = n
		case model.JobCompleted:
			c.Completed = n
		case model.JobFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

func (p *Postgres) ClearQueue(ctx context.Context, queue string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM jobs WHERE queue=$1 AND state <> 'active'`, queue)
	return err
}

func encodeIntegration(cfg model.IntegrationConfig) ([]byte, []byte, error) {
	creds := cfg.Credentials
	if creds == nil {
		creds = map[string]string{}
	}
	settings := cfg.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	c, err := json.Marshal(creds)
	if err != nil {
		return nil, nil, err
	}
	s, err := json.Marshal(settings)
	if err != nil {
		return nil, nil, errs.Validation("integration %s: settings are not JSON encodable", cfg.ID)
	}
	return c, s, nil
}

// qualified prefixes each plain column of cols with table.
func qualified(cols, table string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		if strings.HasPrefix(c, "COALESCE(") {
			parts[i] = "COALESCE(" + table + "." + strings.TrimPrefix(c, "COALESCE(")
			continue
		}
		parts[i] = table + "." + c
	}
	return strings.Join(parts, ", ")
}

func expectRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
