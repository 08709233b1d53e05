package model

import (
	"time"
)

// SyncType selects which dataset a sync operation moves.
type SyncType string

const (
	SyncProducts  SyncType = "products"
	SyncInventory SyncType = "inventory"
	SyncPricing   SyncType = "pricing"
	SyncOrders    SyncType = "orders"
	SyncFull      SyncType = "full"
)

// EntitySyncTypes is the order a full sync runs its sub-operations in.
var EntitySyncTypes = []SyncType{SyncProducts, SyncInventory, SyncPricing, SyncOrders}

func (t SyncType) IsValid() bool {
	switch t {
	case SyncProducts, SyncInventory, SyncPricing, SyncOrders, SyncFull:
		return true
	}
	return false
}

// IntegrationStatus is the health state of an integration.
type IntegrationStatus string

const (
	StatusActive   IntegrationStatus = "active"
	StatusInactive IntegrationStatus = "inactive"
	StatusError    IntegrationStatus = "error"
)

func (s IntegrationStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusError:
		return true
	}
	return false
}

const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 5000
)

// IntegrationConfig binds a merchant to one external system through a connector type.
type IntegrationConfig struct {
	ID            string            `json:"id"`
	MerchantID    string            `json:"merchantId"`
	Name          string            `json:"name,omitempty"`
	ConnectorType string            `json:"connectorType"`
	Credentials   map[string]string `json:"credentials,omitempty"`
	Settings      map[string]any    `json:"settings,omitempty"`
	Status        IntegrationStatus `json:"status"`
	ErrorCount    int               `json:"errorCount"`
	MaxRetries    int               `json:"maxRetries"`
	RetryDelayMs  int64             `json:"retryDelayMs"`
	LastSyncAt    *time.Time        `json:"lastSyncAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Setting returns a string setting or "" when absent or not a string.
func (c IntegrationConfig) Setting(key string) string {
	if c.Settings == nil {
		return ""
	}
	s, _ := c.Settings[key].(string)
	return s
}

// Watermark is the lower bound for incremental fetches; zero means fetch everything.
func (c IntegrationConfig) Watermark() time.Time {
	if c.LastSyncAt == nil {
		return time.Time{}
	}
	return *c.LastSyncAt
}

// Redacted returns a copy safe to log or return over the API.
func (c IntegrationConfig) Redacted() IntegrationConfig {
	out := c
	if len(c.Credentials) > 0 {
		out.Credentials = make(map[string]string, len(c.Credentials))
		for k := range c.Credentials {
			out.Credentials[k] = "***"
		}
	}
	if wh, ok := c.Settings[SettingWebhook].(map[string]any); ok {
		settings := make(map[string]any, len(c.Settings))
		for k, v := range c.Settings {
			settings[k] = v
		}
		redacted := make(map[string]any, len(wh))
		for k, v := range wh {
			redacted[k] = v
		}
		if _, has := redacted["secret"]; has {
			redacted["secret"] = "***"
		}
		settings[SettingWebhook] = redacted
		out.Settings = settings
	}
	return out
}

// Settings keys understood by the core.
const (
	SettingWebhook      = "webhook"
	SettingSyncInterval = "syncInterval"
)

// DataMapping maps one source field to one target field.
type DataMapping struct {
	ID             string   `json:"id,omitempty" yaml:"id,omitempty"`
	IntegrationID  string   `json:"integrationId,omitempty" yaml:"integrationId,omitempty"`
	SyncType       SyncType `json:"syncType,omitempty" yaml:"syncType,omitempty"`
	SourceField    string   `json:"sourceField" yaml:"sourceField"`
	TargetField    string   `json:"targetField" yaml:"targetField"`
	Transformation string   `json:"transformation,omitempty" yaml:"transformation,omitempty"`
	DefaultValue   any      `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Required       bool     `json:"required,omitempty" yaml:"required,omitempty"`
}

// Severity of a per-record sync error.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type SyncError struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	RecordID string   `json:"recordId,omitempty"`
	Severity Severity `json:"severity"`
}

// SyncJob is the payload of a sync queue job.
type SyncJob struct {
	IntegrationID  string         `json:"integrationId"`
	SyncType       SyncType       `json:"syncType"`
	Priority       int            `json:"priority,omitempty"`
	SourceVersion  string         `json:"sourceVersion,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// WebhookEvent is an inbound event from an external system.
type WebhookEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebhookJob is the payload of a webhook queue job.
type WebhookJob struct {
	IntegrationID string       `json:"integrationId"`
	Event         WebhookEvent `json:"event"`
}

// ExportJob is the payload of an export queue job.
type ExportJob struct {
	IntegrationID string     `json:"integrationId"`
	Kind          RecordKind `json:"kind"`
	Since         *time.Time `json:"since,omitempty"`
	Version       string     `json:"version,omitempty"`
}

type RetryPolicy struct {
	MaxRetries        int     `json:"maxRetries"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	MaxDelayMs        int64   `json:"maxDelayMs"`
}

// DefaultWebhookRetryPolicy is applied to every registered webhook.
var DefaultWebhookRetryPolicy = RetryPolicy{MaxRetries: 3, BackoffMultiplier: 2, MaxDelayMs: 300000}

type WebhookConfig struct {
	URL              string      `json:"url"`
	Secret           string      `json:"secret"`
	SubscribedEvents []string    `json:"subscribedEvents"`
	RetryPolicy      RetryPolicy `json:"retryPolicy"`
	RegisteredAt     time.Time   `json:"registeredAt"`
}

// RecordKind names a dataset in the platform catalog.
type RecordKind string

const (
	KindProduct   RecordKind = "product"
	KindInventory RecordKind = "inventory"
	KindPrice     RecordKind = "price"
	KindOrder     RecordKind = "order"
)

func (k RecordKind) IsValid() bool {
	switch k {
	case KindProduct, KindInventory, KindPrice, KindOrder:
		return true
	}
	return false
}

// RecordKindFor maps an entity sync type to the catalog kind it writes.
func RecordKindFor(t SyncType) RecordKind {
	switch t {
	case SyncProducts:
		return KindProduct
	case SyncInventory:
		return KindInventory
	case SyncPricing:
		return KindPrice
	case SyncOrders:
		return KindOrder
	}
	return ""
}

// CatalogRecord is a canonical record held by the platform for one merchant.
type CatalogRecord struct {
	Kind       RecordKind     `json:"kind"`
	MerchantID string         `json:"merchantId"`
	Key        string         `json:"key"`
	Data       map[string]any `json:"data"`
	Source     string         `json:"source,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// AuditEvent is one append-only audit entry.
type AuditEvent struct {
	IntegrationID string         `json:"integrationId" bson:"integrationId"`
	Action        string         `json:"action" bson:"action"`
	Details       map[string]any `json:"details,omitempty" bson:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp" bson:"timestamp"`
}
