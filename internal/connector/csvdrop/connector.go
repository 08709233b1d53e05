// Package csvdrop exchanges data with systems that can only drop and pick up CSV files
// in a shared directory (an SFTP mount, a synced bucket folder).
//
// products.csv, inventory.csv and pricing.csv are imported into the catalog when they
// changed after the last sync. Platform orders are exported to orders.csv. Every run
// leaves a report-<type>-<timestamp>.csv with the per-record errors next to the data.
package csvdrop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

const (
	Type    = "csv"
	version = "1.0.0"
)

var defaultFiles = map[model.SyncType]string{
	model.SyncProducts:  "products.csv",
	model.SyncInventory: "inventory.csv",
	model.SyncPricing:   "pricing.csv",
	model.SyncOrders:    "orders.csv",
}

// DefaultMappings are used for a sync type when the integration defines none.
var DefaultMappings = map[model.SyncType][]model.DataMapping{
	model.SyncProducts: {
		{SourceField: "id", TargetField: "externalId", Required: true},
		{SourceField: "sku", TargetField: "sku", Transformation: "trim", Required: true},
		{SourceField: "name", TargetField: "name", Required: true},
		{SourceField: "description", TargetField: "description"},
		{SourceField: "category", TargetField: "category"},
		{SourceField: "brand", TargetField: "brand"},
		{SourceField: "price", TargetField: "price", Transformation: "decimal", Required: true},
		{SourceField: "currency", TargetField: "currency", Transformation: "uppercase"},
		{SourceField: "active", TargetField: "active", Transformation: "boolean"},
	},
	model.SyncInventory: {
		{SourceField: "sku", TargetField: "sku", Transformation: "trim", Required: true},
		{SourceField: "quantity", TargetField: "quantity", Transformation: "integer", Required: true},
		{SourceField: "location", TargetField: "location"},
	},
	model.SyncPricing: {
		{SourceField: "sku", TargetField: "sku", Transformation: "trim", Required: true},
		{SourceField: "price", TargetField: "price", Transformation: "decimal", Required: true},
		{SourceField: "compare_at_price", TargetField: "compareAtPrice", Transformation: "decimal"},
		{SourceField: "currency", TargetField: "currency", Transformation: "uppercase", Required: true},
	},
	model.SyncOrders: {
		{SourceField: "externalId", TargetField: "externalId", Required: true},
		{SourceField: "status", TargetField: "status", Required: true},
		{SourceField: "total", TargetField: "total", Required: true},
		{SourceField: "currency", TargetField: "currency"},
		{SourceField: "customerEmail", TargetField: "customerEmail"},
		{SourceField: "lines", TargetField: "lines"},
		{SourceField: "placedAt", TargetField: "placedAt"},
	},
}

// Connector reads and writes one drop directory.
type Connector struct {
	deps   connector.Deps
	logger *zap.Logger
	now    func() time.Time

	cfg       model.IntegrationConfig
	dir       string
	reportDir string
	delimiter rune
	files     map[model.SyncType]string
}

func New(deps connector.Deps) connector.Connector {
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Connector{deps: deps, logger: l.With(zap.String("connector", Type)), now: time.Now}
}

func (c *Connector) Info() connector.Info {
	return connector.Info{
		ID:          Type,
		Name:        "CSV drop folder",
		Version:     version,
		Description: "Imports catalog CSV files from a shared directory and exports orders as CSV.",
		SupportedOperations: []string{
			connector.OpTestConnection, connector.OpSyncProducts, connector.OpSyncInventory,
			connector.OpSyncPricing, connector.OpSyncOrders,
		},
	}
}

func (c *Connector) Connect(_ context.Context, cfg model.IntegrationConfig) (bool, error) {
	dir := strings.TrimSpace(cfg.Setting("directory"))
	if dir == "" {
		return false, errs.Configuration("csv: settings.directory is required")
	}
	if err := checkDir(dir); err != nil {
		return false, err
	}
	delim := ','
	if d := cfg.Setting("delimiter"); d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) || r == '"' || r == '\r' || r == '\n' {
			return false, errs.Configuration("csv: settings.delimiter must be a single character")
		}
		delim = r
	}
	reportDir := cfg.Setting("reportDirectory")
	if reportDir == "" {
		reportDir = dir
	} else if err := checkDir(reportDir); err != nil {
		return false, err
	}

	c.cfg = cfg
	c.dir = dir
	c.reportDir = reportDir
	c.delimiter = delim
	c.files = map[model.SyncType]string{}
	for t, f := range defaultFiles {
		c.files[t] = f
	}
	if custom, ok := cfg.Settings["files"].(map[string]any); ok {
		for k, v := range custom {
			if s, ok := v.(string); ok && s != "" {
				c.files[model.SyncType(k)] = s
			}
		}
	}
	return true, nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.Configuration("csv: directory %s does not exist", dir)
		}
		return errs.Connection(err, "csv: stat %s", dir)
	}
	if !info.IsDir() {
		return errs.Configuration("csv: %s is not a directory", dir)
	}
	return nil
}

func (c *Connector) Disconnect(context.Context) error {
	c.dir = ""
	return nil
}

// TestConnection checks the directory is still there and writable.
func (c *Connector) TestConnection(context.Context) (bool, error) {
	if c.dir == "" {
		return false, errs.Connection(nil, "csv: not connected")
	}
	if err := checkDir(c.dir); err != nil {
		return false, nil
	}
	probe, err := os.CreateTemp(c.dir, ".probe-*")
	if err != nil {
		c.logger.Warn("drop directory not writable", zap.String("dir", c.dir), zap.Error(err))
		return false, nil
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return true, nil
}

func (c *Connector) SyncProducts(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.importFile(ctx, model.SyncProducts, mappings)
}

func (c *Connector) SyncInventory(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.importFile(ctx, model.SyncInventory, mappings)
}

func (c *Connector) SyncPricing(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	return c.importFile(ctx, model.SyncPricing, mappings)
}

func (c *Connector) importFile(ctx context.Context, t model.SyncType, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.dir == "" {
		return nil, errs.Connection(nil, "csv: not connected")
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("csv: no catalog configured")
	}
	path := filepath.Join(c.dir, c.files[t])
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("no file to import", zap.String("file", path))
		return model.NewSyncResult().Finish(start), nil
	}
	if err != nil {
		return nil, errs.Connection(err, "csv: stat %s", path)
	}
	if wm := c.cfg.Watermark(); !wm.IsZero() && !info.ModTime().After(wm) {
		c.logger.Debug("file unchanged since last sync", zap.String("file", path), zap.Time("modified", info.ModTime()))
		return model.NewSyncResult().Finish(start), nil
	}

	rows, err := readRows(path, c.delimiter)
	if err != nil {
		return nil, err
	}
	c.logger.Info("read file", zap.String("integration", c.cfg.ID), zap.String("file", path), zap.Int("rows", len(rows)))
	res, err := connector.RunBatch(ctx, connector.Batch{
		SyncType: t,
		Mappings: mappings,
		Defaults: DefaultMappings[t],
		Engine:   c.engine(),
		Target: connector.CatalogTarget{
			Catalog:    c.deps.Catalog,
			Kind:       model.RecordKindFor(t),
			MerchantID: c.cfg.MerchantID,
			Source:     c.cfg.ID,
		},
		Logger:   c.logger,
		SourceID: connector.StringField("id", "sku"),
	}, rows)
	if res != nil {
		res.Finish(start)
		c.writeReport(t, res)
	}
	return res, err
}

var orderHeader = []string{"externalId", "status", "total", "currency", "customerEmail", "placedAt", "lines"}

// SyncOrders merges platform orders changed since the watermark into orders.csv.
// Rows already in the file are updated in place by externalId.
func (c *Connector) SyncOrders(ctx context.Context, mappings []model.DataMapping) (*model.SyncResult, error) {
	start := time.Now()
	if c.dir == "" {
		return nil, errs.Connection(nil, "csv: not connected")
	}
	if c.deps.Catalog == nil {
		return nil, errs.Configuration("csv: no catalog configured")
	}
	orders, err := c.deps.Catalog.ListRecords(ctx, model.KindOrder, c.cfg.MerchantID, c.cfg.Watermark(), 0)
	if err != nil {
		return nil, fmt.Errorf("csv: load platform orders: %w", err)
	}
	path := filepath.Join(c.dir, c.files[model.SyncOrders])
	existing, err := readRows(path, c.delimiter)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	target := &orderFile{rows: map[string][]string{}}
	for _, row := range existing {
		if id, _ := row["externalId"].(string); id != "" {
			target.rows[id] = rowFromFile(row)
		}
	}

	source := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		source = append(source, o.Data)
	}
	res, err := connector.RunBatch(ctx, connector.Batch{
		SyncType: model.SyncOrders,
		Mappings: mappings,
		Defaults: DefaultMappings[model.SyncOrders],
		Engine:   c.engine(),
		Target:   target,
		Logger:   c.logger,
		SourceID: connector.StringField("externalId", "id"),
	}, source)
	if res == nil {
		return nil, err
	}
	res.Finish(start)
	if res.RecordsCreated+res.RecordsUpdated > 0 {
		if werr := writeRows(path, c.delimiter, orderHeader, target.sorted()); werr != nil {
			return res, errs.Connection(werr, "csv: write %s", path)
		}
	}
	c.writeReport(model.SyncOrders, res)
	return res, err
}

// orderFile is the in-memory image of orders.csv used as the batch target.
type orderFile struct {
	rows map[string][]string
}

func (o *orderFile) Exists(_ context.Context, key string) (bool, error) {
	_, ok := o.rows[key]
	return ok, nil
}

func (o *orderFile) Create(_ context.Context, key string, rec map[string]any) error {
	o.rows[key] = orderRow(rec)
	return nil
}

func (o *orderFile) Update(_ context.Context, key string, rec map[string]any) error {
	o.rows[key] = orderRow(rec)
	return nil
}

func (o *orderFile) sorted() [][]string {
	keys := make([]string, 0, len(o.rows))
	for k := range o.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, o.rows[k])
	}
	return out
}

func rowFromFile(row map[string]any) []string {
	out := make([]string, len(orderHeader))
	for i, h := range orderHeader {
		out[i], _ = row[h].(string)
	}
	return out
}

// orderRow flattens a canonical order. Lines become "sku:quantity:unitPrice" joined by ";".
func orderRow(rec map[string]any) []string {
	var lines []string
	if ls, ok := rec["lines"].([]any); ok {
		for _, l := range ls {
			if m, ok := l.(map[string]any); ok {
				lines = append(lines, fmt.Sprintf("%v:%v:%v", m["sku"], m["quantity"], m["unitPrice"]))
			}
		}
	}
	str := func(k string) string {
		if v, ok := rec[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	return []string{str("externalId"), str("status"), str("total"), str("currency"), str("customerEmail"), str("placedAt"), strings.Join(lines, ";")}
}

// writeReport leaves a per-run error report. Failures are logged, never returned.
func (c *Connector) writeReport(t model.SyncType, res *model.SyncResult) {
	name := fmt.Sprintf("report-%s-%s.csv", t, c.now().UTC().Format("20060102T150405Z"))
	rows := make([][]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		rows = append(rows, []string{e.RecordID, string(e.Severity), e.Kind, e.Message})
	}
	if err := writeRows(filepath.Join(c.reportDir, name), c.delimiter, []string{"record", "severity", "kind", "message"}, rows); err != nil {
		c.logger.Warn("write report failed", zap.String("report", name), zap.Error(err))
	}
}

func (c *Connector) engine() *mapping.Engine {
	if c.deps.Engine != nil {
		return c.deps.Engine
	}
	return mapping.NewEngine()
}
