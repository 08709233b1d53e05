// Package connector defines the adapter contract between the platform's canonical
// sync operations and one external system, plus the registry that builds them.
package connector

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

// Operation names reported in Info.SupportedOperations.
const (
	OpTestConnection = "testConnection"
	OpSyncProducts   = "syncProducts"
	OpSyncInventory  = "syncInventory"
	OpSyncPricing    = "syncPricing"
	OpSyncOrders     = "syncOrders"
	OpWebhooks       = "webhooks"
)

// Info describes a connector type.
type Info struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Version             string   `json:"version"`
	Description         string   `json:"description,omitempty"`
	SupportedOperations []string `json:"supportedOperations"`
	Webhooks            bool     `json:"webhooks"`
}

// Connector adapts one external system. Instances are created per operation and
// must not be shared between concurrent jobs.
type Connector interface {
	Info() Info
	// Connect validates configuration and establishes a session. Credentials arrive decrypted.
	Connect(ctx context.Context, cfg model.IntegrationConfig) (bool, error)
	// Disconnect releases the session; calling it more than once is safe.
	Disconnect(ctx context.Context) error
	// TestConnection probes the external system without side effects.
	TestConnection(ctx context.Context) (bool, error)

	SyncProducts(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error)
	SyncInventory(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error)
	SyncPricing(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error)
	SyncOrders(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error)
}

// WebhookCapable is implemented by connectors that can register and consume webhooks.
type WebhookCapable interface {
	SetupWebhook(ctx context.Context, cfg model.WebhookConfig) (bool, error)
	ProcessWebhookEvent(ctx context.Context, event model.WebhookEvent, mappings []model.DataMapping) (*model.SyncResult, error)
}

// AsWebhookCapable returns the webhook capability or an UnsupportedOperation error.
func AsWebhookCapable(c Connector) (WebhookCapable, error) {
	if wc, ok := c.(WebhookCapable); ok {
		return wc, nil
	}
	return nil, errs.UnsupportedOperation(c.Info().ID, OpWebhooks)
}

// Catalog is the platform-side record store connectors read from and write into.
// GetRecord returns an errs.KindNotFound error when the key is unknown.
type Catalog interface {
	GetRecord(ctx context.Context, kind model.RecordKind, merchantID, key string) (model.CatalogRecord, error)
	UpsertRecord(ctx context.Context, rec model.CatalogRecord) (created bool, err error)
	ListRecords(ctx context.Context, kind model.RecordKind, merchantID string, since time.Time, limit int) ([]model.CatalogRecord, error)
}

// Deps are the shared collaborators handed to every constructor.
// Constructors must only store them; all I/O starts in Connect.
type Deps struct {
	Catalog Catalog
	HTTP    *http.Client
	Engine  *mapping.Engine
	Logger  *zap.Logger
}

// Constructor builds an unconnected connector.
type Constructor func(Deps) Connector

// Sync dispatches one entity sync type to the matching connector method.
func Sync(ctx context.Context, c Connector, t model.SyncType, mappings []model.DataMapping) (*model.SyncResult, error) {
	switch t {
	case model.SyncProducts:
		return c.SyncProducts(ctx, mappings)
	case model.SyncInventory:
		return c.SyncInventory(ctx, mappings)
	case model.SyncPricing:
		return c.SyncPricing(ctx, mappings)
	case model.SyncOrders:
		return c.SyncOrders(ctx, mappings)
	}
	return nil, errs.Configuration("sync type %q is not an entity sync", t)
}
