// Package webhooks verifies and routes inbound webhook events to the owning connector and
// registers the gateway's callback URL with external systems.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/audit"
	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/integration"
	"syncgate/internal/metrics"
	"syncgate/internal/model"
	"syncgate/internal/queue"
)

// DefaultMaxAge is how old an event may be before ValidateWebhookTimestamp rejects it.
const DefaultMaxAge = 300 * time.Second

type Service struct {
	integrations *integration.Service
	connectors   integration.Connectors
	audit        audit.Logger
	logger       *zap.Logger
	now          func() time.Time
}

func NewService(integrations *integration.Service, connectors integration.Connectors, auditLog audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		integrations: integrations,
		connectors:   connectors,
		audit:        auditLog,
		logger:       logger.With(zap.String("component", "webhooks")),
		now:          time.Now,
	}
}

// Config reads the webhook configuration stored in an integration's settings.
func Config(cfg model.IntegrationConfig) (model.WebhookConfig, bool) {
	raw, ok := cfg.Settings[model.SettingWebhook]
	if !ok {
		return model.WebhookConfig{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return model.WebhookConfig{}, false
	}
	var wc model.WebhookConfig
	if err := json.Unmarshal(b, &wc); err != nil {
		return model.WebhookConfig{}, false
	}
	return wc, true
}

// Authenticate loads the integration that owns event and checks the event's signature. A
// signature is required once the integration has a webhook secret; without a secret only
// unsigned events are accepted. Rejections are AuthenticationErrors and leave the
// integration's error count alone.
func (s *Service) Authenticate(ctx context.Context, integrationID string, event model.WebhookEvent) (model.IntegrationConfig, error) {
	cfg, err := s.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return model.IntegrationConfig{}, err
	}
	wc, _ := Config(cfg)
	var reason string
	switch {
	case event.Signature == "" && wc.Secret != "":
		reason = "webhook signature missing"
	case event.Signature != "" && wc.Secret == "":
		reason = "webhook signed but no secret is registered"
	case event.Signature != "" && !Verify(event.Payload, event.Signature, wc.Secret):
		reason = "webhook signature mismatch"
	}
	if reason == "" {
		return cfg, nil
	}
	metrics.WebhookEvents.WithLabelValues(cfg.ConnectorType, "rejected").Inc()
	s.logger.Warn("webhook signature rejected", zap.String("integration", integrationID),
		zap.String("event", event.ID), zap.String("reason", reason))
	audit.Log(ctx, s.audit, s.logger, integrationID, audit.ActionWebhookRejected, map[string]any{
		"eventId": event.ID, "eventType": event.EventType, "reason": reason,
	})
	return cfg, errs.Authentication("%s", reason)
}

// ProcessEvent authenticates event and hands it to the integration's connector.
func (s *Service) ProcessEvent(ctx context.Context, integrationID string, event model.WebhookEvent) (*model.SyncResult, error) {
	cfg, err := s.Authenticate(ctx, integrationID, event)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("integration", integrationID), zap.String("event", event.ID), zap.String("type", event.EventType))

	res, err := s.dispatch(ctx, cfg, event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(cfg.ConnectorType, "failed").Inc()
		log.Warn("webhook processing failed", zap.Error(err))
		if _, cerr := s.integrations.IncrementErrorCount(ctx, integrationID); cerr != nil {
			log.Error("record webhook failure", zap.Error(cerr))
		}
		audit.Log(ctx, s.audit, s.logger, integrationID, audit.ActionWebhookFailed, map[string]any{
			"eventId": event.ID, "eventType": event.EventType, "error": err.Error(),
		})
		return nil, err
	}
	now := s.now().UTC()
	if _, err := s.integrations.ResetErrorCount(ctx, integrationID, &now); err != nil {
		log.Error("record webhook success", zap.Error(err))
	}
	metrics.WebhookEvents.WithLabelValues(cfg.ConnectorType, "processed").Inc()
	audit.Log(ctx, s.audit, s.logger, integrationID, audit.ActionWebhookProcessed, map[string]any{
		"eventId": event.ID, "eventType": event.EventType, "recordsProcessed": res.RecordsProcessed, "success": res.Success,
	})
	log.Info("webhook processed", zap.Int("processed", res.RecordsProcessed))
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, cfg model.IntegrationConfig, event model.WebhookEvent) (*model.SyncResult, error) {
	c, err := s.connectors.CreateConnector(cfg.ConnectorType)
	if err != nil {
		return nil, err
	}
	wc, err := connector.AsWebhookCapable(c)
	if err != nil {
		return nil, err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = c.Disconnect(dctx)
	}()
	ok, err := c.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Connection(nil, "%s connector refused the connection", cfg.ConnectorType)
	}
	mappings, err := s.integrations.ListMappings(ctx, cfg.ID, "")
	if err != nil {
		return nil, err
	}
	res, err := wc.ProcessWebhookEvent(ctx, event, mappings)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = model.NewSyncResult()
	}
	return res, nil
}

// RegisterWebhook registers url with the external system and stores the webhook config in
// the integration's settings once the system acknowledges. An empty secret is generated.
func (s *Service) RegisterWebhook(ctx context.Context, integrationID, url string, events []string, secret string) (model.WebhookConfig, error) {
	if url == "" {
		return model.WebhookConfig{}, errs.Validation("webhook url is required")
	}
	cfg, err := s.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return model.WebhookConfig{}, err
	}
	if secret == "" {
		if secret, err = GenerateSecret(); err != nil {
			return model.WebhookConfig{}, errs.Wrap(err, errs.KindInternal, "generate webhook secret")
		}
	}
	if events == nil {
		events = []string{}
	}
	wc := model.WebhookConfig{
		URL:              url,
		Secret:           secret,
		SubscribedEvents: events,
		RetryPolicy:      model.DefaultWebhookRetryPolicy,
		RegisteredAt:     s.now().UTC(),
	}

	c, err := s.connectors.CreateConnector(cfg.ConnectorType)
	if err != nil {
		return model.WebhookConfig{}, err
	}
	capable, err := connector.AsWebhookCapable(c)
	if err != nil {
		return model.WebhookConfig{}, err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = c.Disconnect(dctx)
	}()
	ok, err := c.Connect(ctx, cfg)
	if err != nil {
		return model.WebhookConfig{}, err
	}
	if !ok {
		return model.WebhookConfig{}, errs.Connection(nil, "%s connector refused the connection", cfg.ConnectorType)
	}
	acked, err := capable.SetupWebhook(ctx, wc)
	if err != nil {
		return model.WebhookConfig{}, err
	}
	if !acked {
		return model.WebhookConfig{}, errs.Validation("%s did not accept the webhook registration", cfg.ConnectorType)
	}

	settings := make(map[string]any, len(cfg.Settings)+1)
	for k, v := range cfg.Settings {
		settings[k] = v
	}
	settings[model.SettingWebhook] = map[string]any{
		"url":              wc.URL,
		"secret":           wc.Secret,
		"subscribedEvents": wc.SubscribedEvents,
		"retryPolicy": map[string]any{
			"maxRetries":        wc.RetryPolicy.MaxRetries,
			"backoffMultiplier": wc.RetryPolicy.BackoffMultiplier,
			"maxDelayMs":        wc.RetryPolicy.MaxDelayMs,
		},
		"registeredAt": wc.RegisteredAt.Format(time.RFC3339),
	}
	if _, err := s.integrations.UpdateIntegration(ctx, integrationID, integration.Patch{Settings: settings}); err != nil {
		return model.WebhookConfig{}, err
	}
	s.logger.Info("webhook registered", zap.String("integration", integrationID), zap.String("url", url))
	audit.Log(ctx, s.audit, s.logger, integrationID, audit.ActionWebhookRegistered, map[string]any{"url": url, "events": events})
	return wc, nil
}

// ValidateWebhookTimestamp reports whether ts is within maxAge of now (DefaultMaxAge when
// zero). Timestamps slightly in the future are tolerated up to the same window.
func (s *Service) ValidateWebhookTimestamp(ts time.Time, maxAge time.Duration) bool {
	return ValidateTimestamp(ts, maxAge, s.now())
}

func ValidateTimestamp(ts time.Time, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	age := now.Sub(ts)
	return age <= maxAge && age >= -maxAge
}

// Handler runs webhook queue jobs.
func (s *Service) Handler() queue.Handler {
	return func(ctx context.Context, job model.Job, progress func(int)) (*model.SyncResult, error) {
		var p model.WebhookJob
		if err := UnmarshalNumbers(job.Payload, &p); err != nil {
			return nil, errs.Validation("decode webhook job: %v", err)
		}
		progress(10)
		return s.ProcessEvent(ctx, p.IntegrationID, p.Event)
	}
}
