package shopify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

var _ connector.WebhookCapable = (*Connector)(nil)

var defaultTopics = []string{"products/create", "products/update", "orders/create", "orders/updated"}

// SetupWebhook subscribes the callback URL to each topic. Shopify signs deliveries with
// the app secret, so cfg.Secret is only used by the gateway's own verification.
func (c *Connector) SetupWebhook(ctx context.Context, cfg model.WebhookConfig) (bool, error) {
	if c.api == nil {
		return false, errs.Connection(nil, "shopify: not connected")
	}
	topics := cfg.SubscribedEvents
	if len(topics) == 0 {
		topics = defaultTopics
	}
	for _, topic := range topics {
		if err := c.api.CreateWebhook(ctx, topic, cfg.URL); err != nil {
			if errs.IsKind(err, errs.KindValidation) {
				c.logger.Warn("webhook topic refused", zap.String("integration", c.cfg.ID), zap.String("topic", topic), zap.Error(err))
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// ProcessWebhookEvent applies a products/* or orders/* delivery. A product event refreshes
// the product, stock and price records of every variant it carries.
func (c *Connector) ProcessWebhookEvent(ctx context.Context, event model.WebhookEvent, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("shopify: no catalog configured")
	}
	resource, action, _ := strings.Cut(event.EventType, "/")
	if action == "delete" {
		res := model.NewSyncResult()
		res.Warn(event.ID, "ignored", "deletions are not propagated")
		return res.Finish(start), nil
	}
	switch resource {
	case "products":
		records := c.variants(event.Payload)
		var results []*model.SyncResult
		for _, t := range []model.SyncType{model.SyncProducts, model.SyncInventory, model.SyncPricing} {
			res, err := c.run(ctx, t, mapping.ForSyncType(mappings, t), records, start)
			if err != nil {
				return res, err
			}
			results = append(results, res)
		}
		return model.Aggregate(results...).Finish(start), nil
	case "orders":
		return c.run(ctx, model.SyncOrders, mapping.ForSyncType(mappings, model.SyncOrders), []map[string]any{flattenOrder(event.Payload)}, start)
	}
	return nil, errs.UnsupportedOperation(Type, "topic "+event.EventType)
}
