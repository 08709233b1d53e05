package erp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

var _ connector.WebhookCapable = (*Connector)(nil)

type registration struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// SetupWebhook registers the callback with the ERP. A non-2xx answer is a refusal, not an error.
func (c *Connector) SetupWebhook(ctx context.Context, cfg model.WebhookConfig) (bool, error) {
	if c.api == nil {
		return false, errs.Connection(nil, "erp: not connected")
	}
	path := c.cfg.Setting("webhookPath")
	if path == "" {
		path = "/webhooks"
	}
	status, err := c.api.do(ctx, http.MethodPost, path, nil, registration{
		URL:    cfg.URL,
		Events: cfg.SubscribedEvents,
		Secret: cfg.Secret,
	}, nil)
	if err != nil {
		if errs.IsKind(err, errs.KindValidation) || errs.IsKind(err, errs.KindNotFound) {
			c.logger.Warn("webhook registration refused", zap.String("integration", c.cfg.ID), zap.Int("status", status), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// eventSyncType maps "product.updated", "inventory.changed", "price.updated" or
// "order.status_changed" style event types to the dataset they touch.
func eventSyncType(eventType string) (model.SyncType, bool) {
	entity, _, _ := strings.Cut(strings.ToLower(eventType), ".")
	switch entity {
	case "product", "products":
		return model.SyncProducts, true
	case "inventory", "stock":
		return model.SyncInventory, true
	case "price", "prices", "pricing":
		return model.SyncPricing, true
	case "order", "orders":
		return model.SyncOrders, true
	}
	return "", false
}

// ProcessWebhookEvent applies the records carried by an ERP event to the catalog.
// The payload holds either a single record or a "records" array. Mappings are filtered
// to the event's dataset.
func (c *Connector) ProcessWebhookEvent(ctx context.Context, event model.WebhookEvent, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	t, ok := eventSyncType(event.EventType)
	if !ok {
		return nil, errs.UnsupportedOperation(Type, "event "+event.EventType)
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("erp: no catalog configured")
	}
	if strings.HasSuffix(event.EventType, ".deleted") {
		res := model.NewSyncResult()
		res.Warn(event.ID, "ignored", "deletions are not propagated")
		return res.Finish(start), nil
	}

	var records []map[string]any
	if list, ok := event.Payload["records"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				records = append(records, m)
			}
		}
	} else if len(event.Payload) > 0 {
		records = append(records, event.Payload)
	}

	res, err := connector.RunBatch(ctx, connector.Batch{
		SyncType: t,
		Mappings: mapping.ForSyncType(mappings, t),
		Engine:   c.engine(),
		Target:   c.catalogTarget(t),
		Logger:   c.logger,
		SourceID: connector.StringField("externalId", "id", "sku"),
	}, records)
	if res != nil {
		res.Finish(start)
	}
	return res, err
}
