// Package shopify connects a Shopify store through the Admin REST API.
//
// Products, their variants' stock and prices, and orders are pulled into the platform
// catalog. Every variant is one catalog product keyed by the variant id.
//
// Settings: shopDomain (required), apiVersion, pageSize, currency (fallback when the
// shop does not report one), locationName. Credentials: accessToken, optional apiKey and
// apiSecret for the app.
package shopify

import (
	"context"
	"fmt"
	"strings"
	"time"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"go.uber.org/zap"

	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

const (
	Type    = "shopify"
	version = "1.0.0"

	defaultPageSize = 250
	defaultRetries  = 3
)

// DefaultMappings read the flattened variant and order records built by the connector.
var DefaultMappings = map[model.SyncType][]model.DataMapping{
	model.SyncProducts: {
		{SourceField: "id", TargetField: "externalId", Transformation: "string", Required: true},
		{SourceField: "sku", TargetField: "sku", Transformation: "trim", Required: true},
		{SourceField: "name", TargetField: "name", Required: true},
		{SourceField: "body_html", TargetField: "description"},
		{SourceField: "product_type", TargetField: "category"},
		{SourceField: "vendor", TargetField: "brand"},
		{SourceField: "price", TargetField: "price", Transformation: "decimal", Required: true},
		{SourceField: "currency", TargetField: "currency", Transformation: "uppercase"},
		{SourceField: "active", TargetField: "active"},
	},
	model.SyncInventory: {
		{SourceField: "sku", TargetField: "sku", Transformation: "trim", Required: true},
		{SourceField: "inventory_quantity", TargetField: "quantity", Transformation: "integer", Required: true},
		{SourceField: "location", TargetField: "location"},
	},
	model.SyncPricing: {
		{SourceField: "sku", TargetField: "sku", Transformation: "trim", Required: true},
		{SourceField: "price", TargetField: "price", Transformation: "decimal", Required: true},
		{SourceField: "compare_at_price", TargetField: "compareAtPrice", Transformation: "decimal"},
		{SourceField: "currency", TargetField: "currency", Transformation: "uppercase", Required: true},
	},
	model.SyncOrders: {
		{SourceField: "id", TargetField: "externalId", Transformation: "string", Required: true},
		{SourceField: "financial_status", TargetField: "status", Transformation: "default_if_empty:pending"},
		{SourceField: "total_price", TargetField: "total", Transformation: "decimal", Required: true},
		{SourceField: "currency", TargetField: "currency", Transformation: "uppercase"},
		{SourceField: "email", TargetField: "customerEmail", Transformation: "trim|lowercase"},
		{SourceField: "created_at", TargetField: "placedAt", Transformation: "iso8601"},
		{SourceField: "lines", TargetField: "lines"},
	},
}

// Connector is bound to one shop.
type Connector struct {
	deps   connector.Deps
	logger *zap.Logger
	newAPI func(cfg model.IntegrationConfig) (adminAPI, error)

	cfg      model.IntegrationConfig
	api      adminAPI
	currency string
	location string
	pageSize int
}

func New(deps connector.Deps) connector.Connector {
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Connector{deps: deps, logger: l.With(zap.String("connector", Type)), newAPI: dialREST}
}

func dialREST(cfg model.IntegrationConfig) (adminAPI, error) {
	app := goshopify.App{ApiKey: cfg.Credentials["apiKey"], ApiSecret: cfg.Credentials["apiSecret"]}
	return newRestAPI(app, cfg.Setting("shopDomain"), cfg.Credentials["accessToken"], cfg.Setting("apiVersion"), defaultRetries)
}

func (c *Connector) Info() connector.Info {
	return connector.Info{
		ID:          Type,
		Name:        "Shopify",
		Version:     version,
		Description: "Pulls products, variant stock, prices and orders from a Shopify store.",
		SupportedOperations: []string{
			connector.OpTestConnection, connector.OpSyncProducts, connector.OpSyncInventory,
			connector.OpSyncPricing, connector.OpSyncOrders, connector.OpWebhooks,
		},
		Webhooks: true,
	}
}

func (c *Connector) Connect(ctx context.Context, cfg model.IntegrationConfig) (bool, error) {
	if strings.TrimSpace(cfg.Setting("shopDomain")) == "" {
		return false, errs.Configuration("shopify: settings.shopDomain is required")
	}
	if cfg.Credentials["accessToken"] == "" {
		return false, errs.Configuration("shopify: credentials.accessToken is required")
	}
	api, err := c.newAPI(cfg)
	if err != nil {
		return false, err
	}
	shop, err := api.Shop(ctx)
	if err != nil {
		return false, err
	}
	c.cfg = cfg
	c.api = api
	c.currency, _ = shop["currency"].(string)
	if c.currency == "" {
		c.currency = cfg.Setting("currency")
	}
	c.location = cfg.Setting("locationName")
	c.pageSize = int(settingFloat(cfg.Settings, "pageSize", defaultPageSize))
	if c.pageSize <= 0 || c.pageSize > defaultPageSize {
		c.pageSize = defaultPageSize
	}
	c.logger.Debug("connected", zap.String("integration", cfg.ID), zap.String("shop", cfg.Setting("shopDomain")))
	return true, nil
}

func (c *Connector) Disconnect(context.Context) error {
	c.api = nil
	return nil
}

func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	if c.api == nil {
		return false, errs.Connection(nil, "shopify: not connected")
	}
	if _, err := c.api.Shop(ctx); err != nil {
		if errs.IsKind(err, errs.KindAuthentication) || errs.IsKind(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Connector) SyncProducts(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.pullVariants(ctx, model.SyncProducts, mappings)
}

func (c *Connector) SyncInventory(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.pullVariants(ctx, model.SyncInventory, mappings)
}

func (c *Connector) SyncPricing(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.pullVariants(ctx, model.SyncPricing, mappings)
}

func (c *Connector) pullVariants(ctx context.Context, t model.SyncType, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.api == nil {
		return nil, errs.Connection(nil, "shopify: not connected")
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("shopify: no catalog configured")
	}
	products, err := c.api.Products(ctx, c.cfg.Watermark(), c.pageSize)
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	for _, p := range products {
		records = append(records, c.variants(p)...)
	}
	c.logger.Info("fetched variants", zap.String("integration", c.cfg.ID), zap.String("type", string(t)),
		zap.Int("products", len(products)), zap.Int("variants", len(records)))
	return c.run(ctx, t, mappings, records, start)
}

func (c *Connector) SyncOrders(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.api == nil {
		return nil, errs.Connection(nil, "shopify: not connected")
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("shopify: no catalog configured")
	}
	orders, err := c.api.Orders(ctx, c.cfg.Watermark(), c.pageSize)
	if err != nil {
		return nil, err
	}
	records := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		records = append(records, flattenOrder(o))
	}
	return c.run(ctx, model.SyncOrders, mappings, records, start)
}

func (c *Connector) run(ctx context.Context, t model.SyncType, mappings []model.DataMapping, records []map[string]any, start time.Time) (*model.SyncResult, error) {
	engine := c.deps.Engine
	if engine == nil {
		engine = mapping.NewEngine()
	}
	res, err := connector.RunBatch(ctx, connector.Batch{
		SyncType: t,
		Mappings: mappings,
		Defaults: DefaultMappings[t],
		Engine:   engine,
		Target: connector.CatalogTarget{
			Catalog:    c.deps.Catalog,
			Kind:       model.RecordKindFor(t),
			MerchantID: c.cfg.MerchantID,
			Source:     c.cfg.ID,
		},
		Logger:   c.logger,
		SourceID: connector.StringField("sku", "id", "name"),
	}, records)
	if res != nil {
		res.Finish(start)
	}
	return res, err
}

// variants flattens a product into one record per variant, carrying the product fields
// alongside the variant's own.
func (c *Connector) variants(p map[string]any) []map[string]any {
	vs, _ := p["variants"].([]any)
	out := make([]map[string]any, 0, len(vs))
	title, _ := p["title"].(string)
	status, _ := p["status"].(string)
	for _, v := range vs {
		vm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		rec := map[string]any{
			"product_id":   p["id"],
			"body_html":    p["body_html"],
			"vendor":       p["vendor"],
			"product_type": p["product_type"],
			"handle":       p["handle"],
			"tags":         p["tags"],
			"active":       status == "" || status == "active",
			"currency":     c.currency,
		}
		for k, val := range vm {
			rec[k] = val
		}
		name := title
		if vt, _ := vm["title"].(string); vt != "" && vt != "Default Title" {
			name = fmt.Sprintf("%s - %s", title, vt)
		}
		rec["name"] = name
		if c.location != "" {
			rec["location"] = c.location
		}
		if c.currency == "" {
			delete(rec, "currency")
		}
		out = append(out, rec)
	}
	return out
}

// flattenOrder reshapes line_items into canonical order lines.
func flattenOrder(o map[string]any) map[string]any {
	rec := make(map[string]any, len(o)+1)
	for k, v := range o {
		rec[k] = v
	}
	items, _ := o["line_items"].([]any)
	lines := make([]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		sku, _ := m["sku"].(string)
		if sku == "" {
			sku = fmt.Sprint(m["variant_id"])
		}
		lines = append(lines, map[string]any{"sku": sku, "quantity": m["quantity"], "unitPrice": m["price"]})
	}
	if len(lines) > 0 {
		rec["lines"] = lines
	}
	return rec
}

func settingFloat(settings map[string]any, key string, def float64) float64 {
	switch v := settings[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
