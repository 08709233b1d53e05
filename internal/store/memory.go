package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu           sync.Mutex
	integrations map[string]model.IntegrationConfig
	mappings     map[string][]model.DataMapping // integration id -> mappings
	records      map[string]model.CatalogRecord // kind/merchant/key -> record

	// Job queue state
	jobs     map[string]*model.Job
	liveKeys map[string]string // queue/key -> job id while waiting, delayed or active

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		integrations: map[string]model.IntegrationConfig{},
		mappings:     map[string][]model.DataMapping{},
		records:      map[string]model.CatalogRecord{},
		jobs:         map[string]*model.Job{},
		liveKeys:     map[string]string{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

// SetClock overrides the time source used for scheduling decisions.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) CreateIntegration(_ context.Context, cfg model.IntegrationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		return errs.Validation("integration id is required")
	}
	if _, ok := m.integrations[cfg.ID]; ok {
		return errs.Validation("integration %s already exists", cfg.ID)
	}
	m.integrations[cfg.ID] = cloneIntegration(cfg)
	return nil
}

func (m *Memory) GetIntegration(_ context.Context, id string) (model.IntegrationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.integrations[id]
	if !ok {
		return model.IntegrationConfig{}, notFound("integration", id)
	}
	return cloneIntegration(cfg), nil
}

func (m *Memory) UpdateIntegration(_ context.Context, cfg model.IntegrationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.integrations[cfg.ID]; !ok {
		return notFound("integration", cfg.ID)
	}
	m.integrations[cfg.ID] = cloneIntegration(cfg)
	return nil
}

func (m *Memory) DeleteIntegration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.integrations[id]; !ok {
		return notFound("integration", id)
	}
	delete(m.integrations, id)
	delete(m.mappings, id)
	return nil
}

func (m *Memory) ListIntegrations(_ context.Context, f IntegrationFilter) ([]model.IntegrationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.IntegrationConfig{}
	for _, cfg := range m.integrations {
		if f.MerchantID != "" && cfg.MerchantID != f.MerchantID {
			continue
		}
		if f.Status != "" && cfg.Status != f.Status {
			continue
		}
		out = append(out, cloneIntegration(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) RecordFailure(_ context.Context, id string) (model.IntegrationConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.integrations[id]
	if !ok {
		return model.IntegrationConfig{}, false, notFound("integration", id)
	}
	cfg.ErrorCount++
	tripped := false
	if cfg.ErrorCount >= cfg.MaxRetries && cfg.Status != model.StatusError {
		cfg.Status = model.StatusError
		tripped = true
	}
	cfg.UpdatedAt = m.now()
	m.integrations[id] = cfg
	return cloneIntegration(cfg), tripped, nil
}

func (m *Memory) RecordSuccess(_ context.Context, id string, syncedAt *time.Time) (model.IntegrationConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.integrations[id]
	if !ok {
		return model.IntegrationConfig{}, false, notFound("integration", id)
	}
	restored := cfg.Status == model.StatusError
	cfg.ErrorCount = 0
	if restored {
		cfg.Status = model.StatusActive
	}
	if syncedAt != nil {
		t := *syncedAt
		cfg.LastSyncAt = &t
	}
	cfg.UpdatedAt = m.now()
	m.integrations[id] = cfg
	return cloneIntegration(cfg), restored, nil
}

func (m *Memory) ReplaceMappings(_ context.Context, integrationID string, mappings []model.DataMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.DataMapping, len(mappings))
	for i, mp := range mappings {
		mp.IntegrationID = integrationID
		if mp.ID == "" {
			mp.ID = uuid.NewString()
		}
		cp[i] = mp
	}
	m.mappings[integrationID] = cp
	return nil
}

func (m *Memory) ListMappings(_ context.Context, integrationID string, syncType model.SyncType) ([]model.DataMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DataMapping{}
	for _, mp := range m.mappings[integrationID] {
		if syncType == "" || syncType == model.SyncFull || mp.SyncType == "" || mp.SyncType == syncType {
			out = append(out, mp)
		}
	}
	return out, nil
}

func recordKey(kind model.RecordKind, merchantID, key string) string {
	return string(kind) + "/" + merchantID + "/" + key
}

func (m *Memory) GetRecord(_ context.Context, kind model.RecordKind, merchantID, key string) (model.CatalogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(kind, merchantID, key)]
	if !ok {
		return model.CatalogRecord{}, notFound(string(kind), key)
	}
	return rec, nil
}

func (m *Memory) UpsertRecord(_ context.Context, rec model.CatalogRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey(rec.Kind, rec.MerchantID, rec.Key)
	_, existed := m.records[k]
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.now()
	}
	m.records[k] = rec
	return !existed, nil
}

func (m *Memory) ListRecords(_ context.Context, kind model.RecordKind, merchantID string, since time.Time, limit int) ([]model.CatalogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CatalogRecord{}
	for _, rec := range m.records {
		if rec.Kind != kind || rec.MerchantID != merchantID {
			continue
		}
		if !since.IsZero() && !rec.UpdatedAt.After(since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneIntegration(cfg model.IntegrationConfig) model.IntegrationConfig {
	out := cfg
	if cfg.Credentials != nil {
		out.Credentials = make(map[string]string, len(cfg.Credentials))
		for k, v := range cfg.Credentials {
			out.Credentials[k] = v
		}
	}
	if cfg.Settings != nil {
		b, _ := json.Marshal(cfg.Settings)
		out.Settings = map[string]any{}
		_ = json.Unmarshal(b, &out.Settings)
	}
	if cfg.LastSyncAt != nil {
		t := *cfg.LastSyncAt
		out.LastSyncAt = &t
	}
	return out
}
