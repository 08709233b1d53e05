// Package erp is the reference connector for ERP systems exposing a JSON REST API.
//
// Products, inventory and prices are pulled from the ERP into the platform catalog.
// Orders flow the other way: platform orders changed since the last sync are pushed.
//
// Settings: baseUrl (required), authType ("bearer" or "apiKey"), pageSize, rateLimit
// (requests per second), timeoutSeconds, healthPath and optional per-type paths under
// "paths". Credentials: token for bearer auth, apiKey for API-key auth.
package erp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

const (
	Type    = "erp-rest"
	version = "1.2.0"

	defaultPageSize  = 100
	defaultRateLimit = 5.0
	defaultTimeout   = 30 * time.Second
)

var defaultPaths = map[model.SyncType]string{
	model.SyncProducts:  "/products",
	model.SyncInventory: "/inventory",
	model.SyncPricing:   "/prices",
	model.SyncOrders:    "/orders",
}

// Connector talks to one ERP tenant.
type Connector struct {
	deps   connector.Deps
	logger *zap.Logger

	cfg      model.IntegrationConfig
	api      *client
	pageSize int
	paths    map[model.SyncType]string
	health   string
}

// New is the connector.Constructor for erp-rest.
func New(deps connector.Deps) connector.Connector {
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Connector{deps: deps, logger: l.With(zap.String("connector", Type))}
}

func (c *Connector) Info() connector.Info {
	return connector.Info{
		ID:          Type,
		Name:        "ERP (REST/JSON)",
		Version:     version,
		Description: "Pulls catalog, stock and prices from an ERP REST API and pushes marketplace orders back.",
		SupportedOperations: []string{
			connector.OpTestConnection, connector.OpSyncProducts, connector.OpSyncInventory,
			connector.OpSyncPricing, connector.OpSyncOrders, connector.OpWebhooks,
		},
		Webhooks: true,
	}
}

func (c *Connector) Connect(ctx context.Context, cfg model.IntegrationConfig) (bool, error) {
	base := strings.TrimSpace(cfg.Setting("baseUrl"))
	if base == "" {
		return false, errs.Configuration("erp: settings.baseUrl is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false, errs.Configuration("erp: settings.baseUrl %q is not an http(s) URL", base)
	}

	auth, err := authenticator(cfg)
	if err != nil {
		return false, err
	}

	rps := settingFloat(cfg.Settings, "rateLimit", defaultRateLimit)
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	timeout := defaultTimeout
	if secs := settingFloat(cfg.Settings, "timeoutSeconds", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	httpClient := c.deps.HTTP
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c.cfg = cfg
	c.pageSize = int(settingFloat(cfg.Settings, "pageSize", defaultPageSize))
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	c.paths = map[model.SyncType]string{}
	for t, p := range defaultPaths {
		c.paths[t] = p
	}
	if custom, ok := cfg.Settings["paths"].(map[string]any); ok {
		for k, v := range custom {
			if s, ok := v.(string); ok && s != "" {
				c.paths[model.SyncType(k)] = s
			}
		}
	}
	c.health = cfg.Setting("healthPath")
	if c.health == "" {
		c.health = "/health"
	}
	c.api = &client{
		base:    u,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		auth:    auth,
		timeout: timeout,
	}

	if _, err := c.api.do(ctx, http.MethodGet, c.health, nil, nil, nil); err != nil {
		c.api = nil
		return false, err
	}
	c.logger.Debug("connected", zap.String("integration", cfg.ID), zap.String("host", u.Host))
	return true, nil
}

func authenticator(cfg model.IntegrationConfig) (func(*http.Request), error) {
	switch strings.ToLower(cfg.Setting("authType")) {
	case "", "bearer":
		token := cfg.Credentials["token"]
		if token == "" {
			return nil, errs.Configuration("erp: credentials.token is required for bearer auth")
		}
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, nil
	case "apikey", "api_key":
		key := cfg.Credentials["apiKey"]
		if key == "" {
			return nil, errs.Configuration("erp: credentials.apiKey is required for apiKey auth")
		}
		header := cfg.Setting("apiKeyHeader")
		if header == "" {
			header = "X-API-Key"
		}
		return func(r *http.Request) { r.Header.Set(header, key) }, nil
	}
	return nil, errs.Configuration("erp: unknown authType %q", cfg.Setting("authType"))
}

func (c *Connector) Disconnect(context.Context) error {
	c.api = nil
	return nil
}

func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	if c.api == nil {
		return false, errs.Connection(nil, "erp: not connected")
	}
	if _, err := c.api.do(ctx, http.MethodGet, c.health, nil, nil, nil); err != nil {
		if errs.IsKind(err, errs.KindAuthentication) || errs.IsKind(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Connector) SyncProducts(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.pull(ctx, model.SyncProducts, mappings)
}

func (c *Connector) SyncInventory(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.pull(ctx, model.SyncInventory, mappings)
}

func (c *Connector) SyncPricing(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.pull(ctx, model.SyncPricing, mappings)
}

// pull fetches changed records of one type from the ERP into the catalog.
func (c *Connector) pull(ctx context.Context, t model.SyncType, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.api == nil {
		return nil, errs.Connection(nil, "erp: not connected")
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("erp: no catalog configured")
	}
	records, err := c.api.list(ctx, c.paths[t], c.cfg.Watermark(), c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("erp: fetch %s: %w", t, err)
	}
	c.logger.Info("fetched records", zap.String("integration", c.cfg.ID), zap.String("type", string(t)), zap.Int("count", len(records)))
	res, err := connector.RunBatch(ctx, connector.Batch{
		SyncType: t,
		Mappings: mappings,
		Engine:   c.engine(),
		Target:   c.catalogTarget(t),
		Logger:   c.logger,
		SourceID: connector.StringField("externalId", "id", "sku", "code"),
	}, records)
	if res != nil {
		res.Finish(start)
	}
	return res, err
}

// SyncOrders pushes platform orders changed since the watermark to the ERP.
func (c *Connector) SyncOrders(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.api == nil {
		return nil, errs.Connection(nil, "erp: not connected")
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("erp: no catalog configured")
	}
	orders, err := c.deps.Catalog.ListRecords(ctx, model.KindOrder, c.cfg.MerchantID, c.cfg.Watermark(), 0)
	if err != nil {
		return nil, fmt.Errorf("erp: load platform orders: %w", err)
	}
	source := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		source = append(source, o.Data)
	}
	res, err := connector.RunBatch(ctx, connector.Batch{
		SyncType: model.SyncOrders,
		Mappings: mappings,
		Engine:   c.engine(),
		Target:   orderTarget{api: c.api, path: c.paths[model.SyncOrders]},
		Logger:   c.logger,
		SourceID: connector.StringField("externalId", "id"),
	}, source)
	if res != nil {
		res.Finish(start)
	}
	return res, err
}

func (c *Connector) engine() *mapping.Engine {
	if c.deps.Engine != nil {
		return c.deps.Engine
	}
	return mapping.NewEngine()
}

func (c *Connector) catalogTarget(t model.SyncType) connector.CatalogTarget {
	return connector.CatalogTarget{
		Catalog:    c.deps.Catalog,
		Kind:       model.RecordKindFor(t),
		MerchantID: c.cfg.MerchantID,
		Source:     c.cfg.ID,
	}
}

// orderTarget writes orders to the ERP order endpoint.
type orderTarget struct {
	api  *client
	path string
}

func (t orderTarget) Exists(ctx context.Context, key string) (bool, error) {
	_, err := t.api.do(ctx, http.MethodGet, t.path+"/"+url.PathEscape(key), nil, nil, nil)
	if err == nil {
		return true, nil
	}
	if errs.IsKind(err, errs.KindNotFound) {
		return false, nil
	}
	return false, err
}

func (t orderTarget) Create(ctx context.Context, _ string, rec map[string]any) error {
	_, err := t.api.do(ctx, http.MethodPost, t.path, nil, rec, nil)
	return err
}

func (t orderTarget) Update(ctx context.Context, key string, rec map[string]any) error {
	_, err := t.api.do(ctx, http.MethodPut, t.path+"/"+url.PathEscape(key), nil, rec, nil)
	return err
}

func settingFloat(settings map[string]any, key string, def float64) float64 {
	switch v := settings[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
