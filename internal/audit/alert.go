package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/metrics"
)

type AlertKind string

const (
	// AlertIntegrationError fires when an integration's error count reaches its max retries.
	AlertIntegrationError AlertKind = "integration_error"
	// AlertIntegrationRestored fires when an integration leaves the error state.
	AlertIntegrationRestored AlertKind = "integration_restored"
)

type Alert struct {
	Kind          AlertKind `json:"kind"`
	IntegrationID string    `json:"integrationId"`
	MerchantID    string    `json:"merchantId"`
	Message       string    `json:"message"`
	ErrorCount    int       `json:"errorCount"`
	At            time.Time `json:"at"`
}

type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter logs alerts and counts them.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(l *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: l.With(zap.String("component", "alerts"))}
}

func (a *LogAlerter) Alert(_ context.Context, al Alert) {
	metrics.Alerts.WithLabelValues(string(al.Kind)).Inc()
	fields := []zap.Field{
		zap.String("kind", string(al.Kind)),
		zap.String("integration", al.IntegrationID),
		zap.String("merchant", al.MerchantID),
		zap.Int("errorCount", al.ErrorCount),
	}
	if al.Kind == AlertIntegrationError {
		a.logger.Error(al.Message, fields...)
		return
	}
	a.logger.Info(al.Message, fields...)
}

// Alerters fans an alert out to every member.
type Alerters []Alerter

func (as Alerters) Alert(ctx context.Context, a Alert) {
	for _, x := range as {
		x.Alert(ctx, a)
	}
}
