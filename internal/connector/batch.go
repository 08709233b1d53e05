package connector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

// Target is where mapped records are written.
type Target interface {
	Exists(ctx context.Context, key string) (bool, error)
	Create(ctx context.Context, key string, rec map[string]any) error
	Update(ctx context.Context, key string, rec map[string]any) error
}

// Batch describes one run of the per-record pipeline.
type Batch struct {
	SyncType model.SyncType
	Mappings []model.DataMapping
	// Defaults replace Mappings when the integration has none for this type.
	Defaults []model.DataMapping
	Engine   *mapping.Engine
	Target   Target
	Logger   *zap.Logger
	// SourceID names a raw record in error reports before it has a canonical key.
	SourceID func(map[string]any) string
}

// RunBatch maps, validates and writes each record. Mapping, validation and rejected writes
// are counted as skipped. A retryable target error (connection, timeout, internal) stops
// the batch and is returned so the run fails without advancing the watermark; invalid mapping
// configuration and a context that ended mid-batch stop it too.
func RunBatch(ctx context.Context, b Batch, source []map[string]any) (*model.SyncResult, error) {
	res := model.NewSyncResult()
	engine := b.Engine
	if engine == nil {
		engine = mapping.NewEngine()
	}
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mappings := b.Mappings
	if len(mappings) == 0 {
		mappings = b.Defaults
	}
	if err := engine.Validate(mappings); err != nil {
		return res, err
	}

	for i, raw := range source {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return res, errs.Timeout(err, "%s batch stopped after %d of %d records", b.SyncType, i, len(source))
			}
			return res, fmt.Errorf("%s batch stopped after %d of %d records: %w", b.SyncType, i, len(source), err)
		}
		id := fmt.Sprintf("#%d", i)
		if b.SourceID != nil {
			if s := b.SourceID(raw); s != "" {
				id = s
			}
		}

		mapped, warnings, err := engine.Apply(raw, mappings)
		if err != nil {
			res.RecordSkipped(id, string(errs.KindOf(err)), err.Error())
			continue
		}
		for _, w := range warnings {
			res.Warn(id, "mapping", fmt.Sprintf("%s: %s", w.Field, w.Message))
		}

		key, canonical, err := model.Canonicalize(b.SyncType, mapped)
		if key != "" {
			id = key
		}
		if err != nil {
			res.RecordSkipped(id, string(errs.KindOf(err)), err.Error())
			continue
		}

		exists, err := b.Target.Exists(ctx, key)
		if err != nil {
			log.Warn("existence probe failed", zap.String("record", key), zap.Error(err))
			if errs.IsRetryable(err) {
				return res, fmt.Errorf("%s batch stopped at record %s (%d of %d): %w", b.SyncType, id, i, len(source), err)
			}
			res.RecordSkipped(id, string(errs.KindOf(err)), err.Error())
			continue
		}
		if exists {
			err = b.Target.Update(ctx, key, canonical)
		} else {
			err = b.Target.Create(ctx, key, canonical)
		}
		if err != nil {
			log.Warn("record write failed", zap.String("record", key), zap.Bool("exists", exists), zap.Error(err))
			if errs.IsRetryable(err) {
				return res, fmt.Errorf("%s batch stopped at record %s (%d of %d): %w", b.SyncType, id, i, len(source), err)
			}
			res.RecordSkipped(id, string(errs.KindOf(err)), err.Error())
			continue
		}
		if exists {
			res.RecordUpdated()
		} else {
			res.RecordCreated()
		}
	}
	return res, nil
}

// CatalogTarget writes canonical records into the platform catalog.
type CatalogTarget struct {
	Catalog    Catalog
	Kind       model.RecordKind
	MerchantID string
	Source     string
}

func (t CatalogTarget) Exists(ctx context.Context, key string) (bool, error) {
	_, err := t.Catalog.GetRecord(ctx, t.Kind, t.MerchantID, key)
	if err == nil {
		return true, nil
	}
	if errs.IsKind(err, errs.KindNotFound) {
		return false, nil
	}
	return false, err
}

func (t CatalogTarget) Create(ctx context.Context, key string, rec map[string]any) error {
	_, err := t.Catalog.UpsertRecord(ctx, t.record(key, rec))
	return err
}

func (t CatalogTarget) Update(ctx context.Context, key string, rec map[string]any) error {
	_, err := t.Catalog.UpsertRecord(ctx, t.record(key, rec))
	return err
}

func (t CatalogTarget) record(key string, rec map[string]any) model.CatalogRecord {
	return model.CatalogRecord{Kind: t.Kind, MerchantID: t.MerchantID, Key: key, Data: rec, Source: t.Source}
}

// StringField is a SourceID helper reading a top-level field.
func StringField(names ...string) func(map[string]any) string {
	return func(rec map[string]any) string {
		for _, n := range names {
			if v, ok := rec[n]; ok && v != nil {
				return fmt.Sprint(v)
			}
		}
		return ""
	}
}
