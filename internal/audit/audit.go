// Package audit holds the collaborators the integration and webhook services report to:
// an append-only audit log, sync metrics and health alerts.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/model"
)

// Audit actions.
const (
	ActionIntegrationCreated = "integration.created"
	ActionIntegrationUpdated = "integration.updated"
	ActionIntegrationDeleted = "integration.deleted"
	ActionConnectionTested   = "integration.connection_tested"
	ActionSyncCompleted      = "sync.completed"
	ActionSyncFailed         = "sync.failed"
	ActionMappingsSaved      = "mappings.saved"
	ActionWebhookRegistered  = "webhook.registered"
	ActionWebhookProcessed   = "webhook.processed"
	ActionWebhookFailed      = "webhook.failed"
	ActionWebhookRejected    = "webhook.rejected"
	ActionExportCompleted    = "export.completed"
)

// Logger appends audit events.
type Logger interface {
	LogEvent(ctx context.Context, evt model.AuditEvent) error
}

// Lister reads back an integration's most recent events, newest first.
type Lister interface {
	ListEvents(ctx context.Context, integrationID string, limit int) ([]model.AuditEvent, error)
}

// Log records an event stamped now. Failures are logged and swallowed so auditing
// never changes the outcome of the operation being audited.
func Log(ctx context.Context, l Logger, zl *zap.Logger, integrationID, action string, details map[string]any) {
	if l == nil {
		return
	}
	evt := model.AuditEvent{IntegrationID: integrationID, Action: action, Details: details, Timestamp: time.Now().UTC()}
	if err := l.LogEvent(ctx, evt); err != nil && zl != nil {
		zl.Warn("audit write failed", zap.String("integration", integrationID), zap.String("action", action), zap.Error(err))
	}
}

// ZapLogger writes audit events to a zap logger.
type ZapLogger struct {
	logger *zap.Logger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: l.With(zap.String("component", "audit"))}
}

func (z *ZapLogger) LogEvent(_ context.Context, evt model.AuditEvent) error {
	z.logger.Info(evt.Action,
		zap.String("integration", evt.IntegrationID),
		zap.Any("details", evt.Details),
		zap.Time("at", evt.Timestamp))
	return nil
}

// MemoryLog keeps the most recent events per integration.
type MemoryLog struct {
	mu     sync.Mutex
	max    int
	events map[string][]model.AuditEvent
}

// NewMemoryLog keeps at most perIntegration events per integration (500 when zero).
func NewMemoryLog(perIntegration int) *MemoryLog {
	if perIntegration <= 0 {
		perIntegration = 500
	}
	return &MemoryLog{max: perIntegration, events: map[string][]model.AuditEvent{}}
}

func (m *MemoryLog) LogEvent(_ context.Context, evt model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.events[evt.IntegrationID], evt)
	if len(list) > m.max {
		list = list[len(list)-m.max:]
	}
	m.events[evt.IntegrationID] = list
	return nil
}

func (m *MemoryLog) ListEvents(_ context.Context, integrationID string, limit int) ([]model.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.events[integrationID]
	out := make([]model.AuditEvent, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Multi fans events out to several loggers and returns the first error.
type Multi []Logger

func (m Multi) LogEvent(ctx context.Context, evt model.AuditEvent) error {
	var first error
	for _, l := range m {
		if err := l.LogEvent(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ListEvents reads from the first member that can list.
func (m Multi) ListEvents(ctx context.Context, integrationID string, limit int) ([]model.AuditEvent, error) {
	for _, l := range m {
		if ls, ok := l.(Lister); ok {
			return ls.ListEvents(ctx, integrationID, limit)
		}
	}
	return nil, nil
}
