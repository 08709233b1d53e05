// Package integration manages integration configurations and drives connectors through
// connection tests, sync operations and exports.
package integration

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"syncgate/internal/audit"
	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/export"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
	"syncgate/internal/secrets"
	"syncgate/internal/store"
)

// Store is the persistence the service needs.
type Store interface {
	CreateIntegration(ctx context.Context, cfg model.IntegrationConfig) error
	GetIntegration(ctx context.Context, id string) (model.IntegrationConfig, error)
	UpdateIntegration(ctx context.Context, cfg model.IntegrationConfig) error
	DeleteIntegration(ctx context.Context, id string) error
	ListIntegrations(ctx context.Context, filter store.IntegrationFilter) ([]model.IntegrationConfig, error)
	RecordFailure(ctx context.Context, id string) (model.IntegrationConfig, bool, error)
	RecordSuccess(ctx context.Context, id string, syncedAt *time.Time) (model.IntegrationConfig, bool, error)
	ReplaceMappings(ctx context.Context, integrationID string, mappings []model.DataMapping) error
	ListMappings(ctx context.Context, integrationID string, syncType model.SyncType) ([]model.DataMapping, error)
}

// Connectors builds connector instances by type.
type Connectors interface {
	CreateConnector(connectorType string) (connector.Connector, error)
	Supports(connectorType string) bool
}

type Deps struct {
	Store      Store
	Connectors Connectors
	Secrets    secrets.Secrets
	Audit      audit.Logger
	Metrics    audit.Metrics
	Alerts     audit.Alerter
	Exporter   *export.Exporter
	Engine     *mapping.Engine
	Logger     *zap.Logger
}

type Service struct {
	store      Store
	connectors Connectors
	secrets    secrets.Secrets
	audit      audit.Logger
	metrics    audit.Metrics
	alerts     audit.Alerter
	exporter   *export.Exporter
	engine     *mapping.Engine
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Secrets == nil {
		d.Secrets = secrets.Plain{}
	}
	if d.Engine == nil {
		d.Engine = mapping.NewEngine()
	}
	if d.Alerts == nil {
		d.Alerts = audit.NewLogAlerter(d.Logger)
	}
	return &Service{
		store:      d.Store,
		connectors: d.Connectors,
		secrets:    d.Secrets,
		audit:      d.Audit,
		metrics:    d.Metrics,
		alerts:     d.Alerts,
		exporter:   d.Exporter,
		engine:     d.Engine,
		logger:     d.Logger.With(zap.String("component", "integration")),
		now:        time.Now,
	}
}

// CreateIntegration validates and stores cfg with encrypted credentials. The returned
// copy carries the generated id and defaults, with credentials redacted.
func (s *Service) CreateIntegration(ctx context.Context, cfg model.IntegrationConfig) (model.IntegrationConfig, error) {
	cfg.MerchantID = strings.TrimSpace(cfg.MerchantID)
	cfg.ConnectorType = strings.TrimSpace(cfg.ConnectorType)
	if cfg.MerchantID == "" {
		return model.IntegrationConfig{}, errs.Validation("merchantId is required")
	}
	if !s.connectors.Supports(cfg.ConnectorType) {
		return model.IntegrationConfig{}, errs.UnsupportedConnector(cfg.ConnectorType)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = model.StatusActive
	}
	if !cfg.Status.IsValid() {
		return model.IntegrationConfig{}, errs.Validation("unknown status %q", cfg.Status)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = model.DefaultMaxRetries
	}
	if cfg.RetryDelayMs <= 0 {
		cfg.RetryDelayMs = model.DefaultRetryDelayMs
	}
	cfg.ErrorCount = 0
	now := s.now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	stored := cfg
	enc, err := s.secrets.Encrypt(cfg.Credentials)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	stored.Credentials = enc
	if err := s.store.CreateIntegration(ctx, stored); err != nil {
		return model.IntegrationConfig{}, err
	}
	s.logger.Info("integration created", zap.String("integration", cfg.ID), zap.String("merchant", cfg.MerchantID), zap.String("connector", cfg.ConnectorType))
	audit.Log(ctx, s.audit, s.logger, cfg.ID, audit.ActionIntegrationCreated, map[string]any{"connectorType": cfg.ConnectorType, "merchantId": cfg.MerchantID})
	return cfg.Redacted(), nil
}

// GetIntegration returns the configuration with credentials decrypted.
func (s *Service) GetIntegration(ctx context.Context, id string) (model.IntegrationConfig, error) {
	cfg, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	dec, err := s.secrets.Decrypt(cfg.Credentials)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	cfg.Credentials = dec
	return cfg, nil
}

// Patch lists the mutable fields of an integration; nil fields are left unchanged.
// Credentials and Settings replace their maps wholesale.
type Patch struct {
	Name         *string                  `json:"name"`
	Credentials  map[string]string        `json:"credentials"`
	Settings     map[string]any           `json:"settings"`
	Status       *model.IntegrationStatus `json:"status"`
	MaxRetries   *int                     `json:"maxRetries"`
	RetryDelayMs *int64                   `json:"retryDelayMs"`
}

func (s *Service) UpdateIntegration(ctx context.Context, id string, p Patch) (model.IntegrationConfig, error) {
	cfg, err := s.store.GetIntegration(ctx, id)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	var changed []string
	if p.Name != nil {
		cfg.Name = *p.Name
		changed = append(changed, "name")
	}
	if p.Credentials != nil {
		enc, err := s.secrets.Encrypt(p.Credentials)
		if err != nil {
			return model.IntegrationConfig{}, err
		}
		cfg.Credentials = enc
		changed = append(changed, "credentials")
	}
	if p.Settings != nil {
		if wh, ok := cfg.Settings[model.SettingWebhook]; ok {
			if _, replaced := p.Settings[model.SettingWebhook]; !replaced {
				p.Settings[model.SettingWebhook] = wh
			}
		}
		cfg.Settings = p.Settings
		changed = append(changed, "settings")
	}
	if p.Status != nil {
		if !p.Status.IsValid() {
			return model.IntegrationConfig{}, errs.Validation("unknown status %q", *p.Status)
		}
		if *p.Status == model.StatusError && cfg.Status != model.StatusError {
			return model.IntegrationConfig{}, errs.Validation("status %q is only entered after repeated failures", model.StatusError)
		}
		cfg.Status = *p.Status
		if cfg.Status != model.StatusError {
			cfg.ErrorCount = 0
		}
		changed = append(changed, "status")
	}
	if p.MaxRetries != nil {
		if *p.MaxRetries <= 0 {
			return model.IntegrationConfig{}, errs.Validation("maxRetries must be positive")
		}
		cfg.MaxRetries = *p.MaxRetries
		changed = append(changed, "maxRetries")
	}
	restored := cfg.Status == model.StatusError && cfg.ErrorCount < cfg.MaxRetries
	if restored {
		cfg.Status = model.StatusActive
	}
	if p.RetryDelayMs != nil {
		if *p.RetryDelayMs < 0 {
			return model.IntegrationConfig{}, errs.Validation("retryDelayMs must not be negative")
		}
		cfg.RetryDelayMs = *p.RetryDelayMs
		changed = append(changed, "retryDelayMs")
	}
	cfg.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIntegration(ctx, cfg); err != nil {
		return model.IntegrationConfig{}, err
	}
	audit.Log(ctx, s.audit, s.logger, id, audit.ActionIntegrationUpdated, map[string]any{"fields": changed})
	if restored {
		s.logger.Info("integration restored by update", zap.String("integration", id))
		s.alerts.Alert(ctx, audit.Alert{
			Kind:          audit.AlertIntegrationRestored,
			IntegrationID: id,
			MerchantID:    cfg.MerchantID,
			Message:       "integration restored after maxRetries was raised",
			At:            s.now().UTC(),
		})
	}
	return cfg.Redacted(), nil
}

func (s *Service) DeleteIntegration(ctx context.Context, id string) error {
	if err := s.store.DeleteIntegration(ctx, id); err != nil {
		return err
	}
	s.logger.Info("integration deleted", zap.String("integration", id))
	audit.Log(ctx, s.audit, s.logger, id, audit.ActionIntegrationDeleted, nil)
	return nil
}

// ListIntegrations returns redacted configurations.
func (s *Service) ListIntegrations(ctx context.Context, filter store.IntegrationFilter) ([]model.IntegrationConfig, error) {
	list, err := s.store.ListIntegrations(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = list[i].Redacted()
	}
	return list, nil
}

// IncrementErrorCount records a failed operation and alerts when the integration trips
// into the error state.
func (s *Service) IncrementErrorCount(ctx context.Context, id string) (model.IntegrationConfig, error) {
	cfg, tripped, err := s.store.RecordFailure(ctx, id)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	if tripped {
		s.logger.Error("integration disabled after repeated failures", zap.String("integration", id), zap.Int("errorCount", cfg.ErrorCount))
		s.alerts.Alert(ctx, audit.Alert{
			Kind:          audit.AlertIntegrationError,
			IntegrationID: id,
			MerchantID:    cfg.MerchantID,
			Message:       "integration moved to error state after repeated failures",
			ErrorCount:    cfg.ErrorCount,
			At:            s.now().UTC(),
		})
	}
	return cfg, nil
}

// ResetErrorCount clears the error count, optionally advancing lastSyncAt, and alerts when
// the integration leaves the error state.
func (s *Service) ResetErrorCount(ctx context.Context, id string, syncedAt *time.Time) (model.IntegrationConfig, error) {
	cfg, restored, err := s.store.RecordSuccess(ctx, id, syncedAt)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	if restored {
		s.logger.Info("integration restored", zap.String("integration", id))
		s.alerts.Alert(ctx, audit.Alert{
			Kind:          audit.AlertIntegrationRestored,
			IntegrationID: id,
			MerchantID:    cfg.MerchantID,
			Message:       "integration restored",
			At:            s.now().UTC(),
		})
	}
	return cfg, nil
}

// SaveMappings validates and replaces an integration's mappings. With an entity syncType
// only that type's mappings are replaced and it is stamped on mappings that carry none;
// an empty or full syncType replaces the whole set.
func (s *Service) SaveMappings(ctx context.Context, integrationID string, syncType model.SyncType, mappings []model.DataMapping) ([]model.DataMapping, error) {
	if syncType != "" && !syncType.IsValid() {
		return nil, errs.Validation("unknown sync type %q", syncType)
	}
	if _, err := s.store.GetIntegration(ctx, integrationID); err != nil {
		return nil, err
	}
	out := make([]model.DataMapping, len(mappings))
	for i, m := range mappings {
		if m.SyncType == "" && syncType != model.SyncFull {
			m.SyncType = syncType
		}
		if m.SyncType != "" && !m.SyncType.IsValid() {
			return nil, errs.Validation("mapping %d: unknown sync type %q", i, m.SyncType)
		}
		m.IntegrationID = integrationID
		out[i] = m
	}
	if err := s.engine.Validate(out); err != nil {
		return nil, err
	}
	if syncType != "" && syncType != model.SyncFull {
		existing, err := s.store.ListMappings(ctx, integrationID, "")
		if err != nil {
			return nil, err
		}
		var kept []model.DataMapping
		for _, m := range existing {
			if m.SyncType != syncType {
				kept = append(kept, m)
			}
		}
		out = append(kept, out...)
	}
	if err := s.store.ReplaceMappings(ctx, integrationID, out); err != nil {
		return nil, err
	}
	audit.Log(ctx, s.audit, s.logger, integrationID, audit.ActionMappingsSaved, map[string]any{"count": len(out)})
	return s.store.ListMappings(ctx, integrationID, "")
}

func (s *Service) ListMappings(ctx context.Context, integrationID string, syncType model.SyncType) ([]model.DataMapping, error) {
	if syncType != "" && !syncType.IsValid() {
		return nil, errs.Validation("unknown sync type %q", syncType)
	}
	return s.store.ListMappings(ctx, integrationID, syncType)
}

// AvailableConnectors is forwarded from the factory when it can describe itself.
func (s *Service) AvailableConnectors() []connector.Info {
	if f, ok := s.connectors.(interface{ AvailableConnectors() []connector.Info }); ok {
		return f.AvailableConnectors()
	}
	return nil
}

// SourceVersion is the sync job version for cfg: the last sync watermark, or "initial".
// A successful sync advances it, so a sync job key is reused only until data moves on.
func SourceVersion(cfg model.IntegrationConfig) string {
	if cfg.LastSyncAt == nil {
		return "initial"
	}
	return cfg.LastSyncAt.UTC().Format(time.RFC3339Nano)
}
