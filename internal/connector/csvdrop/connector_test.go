package csvdrop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/model"
	"syncgate/internal/store"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func connected(t *testing.T, catalog connector.Catalog, settings map[string]any) (*Connector, string) {
	t.Helper()
	dir := t.TempDir()
	if settings == nil {
		settings = map[string]any{}
	}
	settings["directory"] = dir
	c := New(connector.Deps{Catalog: catalog}).(*Connector)
	c.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	ok, err := c.Connect(context.Background(), model.IntegrationConfig{ID: "int-csv", MerchantID: "m-1", Settings: settings})
	require.NoError(t, err)
	require.True(t, ok)
	return c, dir
}

func TestConnectRequiresDirectory(t *testing.T) {
	c := New(connector.Deps{})
	_, err := c.Connect(context.Background(), model.IntegrationConfig{})
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))

	_, err = c.Connect(context.Background(), model.IntegrationConfig{Settings: map[string]any{"directory": filepath.Join(t.TempDir(), "missing")}})
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))

	_, err = c.Connect(context.Background(), model.IntegrationConfig{Settings: map[string]any{"directory": t.TempDir(), "delimiter": "ab"}})
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}

func TestTestConnection(t *testing.T) {
	c, dir := connected(t, store.NewMemory(), nil)
	ok, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.RemoveAll(dir))
	ok, err = c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImportProductsWithDefaults(t *testing.T) {
	mem := store.NewMemory()
	c, dir := connected(t, mem, nil)
	writeFile(t, dir, "products.csv", "\ufeffid,sku,name,price,currency,active\n"+
		"1, SKU-1 ,Widget,10.50,usd,true\n"+
		"2,SKU-2,,3,usd,false\n"+
		"3,SKU-3,Gizmo,,eur,yes\n")

	res, err := c.SyncProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordsProcessed)
	assert.Equal(t, 1, res.RecordsCreated)
	assert.Equal(t, 2, res.RecordsSkipped, "missing name and missing price")
	_, err = mem.GetRecord(context.Background(), model.KindProduct, "m-1", "3")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	rec, err := mem.GetRecord(context.Background(), model.KindProduct, "m-1", "1")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", rec.Data["sku"])
	assert.Equal(t, "USD", rec.Data["currency"])
	assert.Equal(t, true, rec.Data["active"])

	report, err := os.ReadFile(filepath.Join(dir, "report-products-20260304T050607Z.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "record,severity,kind,message")
	assert.Contains(t, string(report), "name")
	assert.Contains(t, string(report), "price")
}

func TestImportSkipsUnchangedFile(t *testing.T) {
	mem := store.NewMemory()
	dir := t.TempDir()
	writeFile(t, dir, "inventory.csv", "sku,quantity\nA,1\n")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "inventory.csv"), old, old))

	synced := time.Now()
	c := New(connector.Deps{Catalog: mem})
	_, err := c.Connect(context.Background(), model.IntegrationConfig{ID: "i", MerchantID: "m", LastSyncAt: &synced,
		Settings: map[string]any{"directory": dir}})
	require.NoError(t, err)
	res, err := c.SyncInventory(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.RecordsProcessed)
	assert.True(t, res.Success)
}

func TestImportCustomMappingsAndDelimiter(t *testing.T) {
	mem := store.NewMemory()
	c, dir := connected(t, mem, map[string]any{"delimiter": ";", "files": map[string]any{"pricing": "prices.csv"}})
	writeFile(t, dir, "prices.csv", "Artikel;Preis;Waehrung\nA-1;12,50;eur\n")

	mappings := []model.DataMapping{
		{SourceField: "Artikel", TargetField: "sku", Required: true},
		{SourceField: "Preis", TargetField: "price", Transformation: "replace:,:.|decimal", Required: true},
		{SourceField: "Waehrung", TargetField: "currency", Transformation: "uppercase", Required: true},
	}
	res, err := c.SyncPricing(context.Background(), mappings)
	require.NoError(t, err)
	assert.True(t, res.Success)
	rec, err := mem.GetRecord(context.Background(), model.KindPrice, "m-1", "A-1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", rec.Data["price"])
	assert.Equal(t, "EUR", rec.Data["currency"])
}

func TestMissingFileIsEmptySync(t *testing.T) {
	c, _ := connected(t, store.NewMemory(), nil)
	res, err := c.SyncPricing(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.RecordsProcessed)
}

func TestExportOrdersMergesFile(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	c, dir := connected(t, mem, nil)
	writeFile(t, dir, "orders.csv", strings.Join(orderHeader, ",")+"\nO1,open,5,USD,,,\nO9,shipped,1,USD,,,\n")

	_, _ = mem.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindOrder, MerchantID: "m-1", Key: "O1", Data: map[string]any{
		"externalId": "O1", "status": "paid", "total": "5", "currency": "USD",
		"lines": []any{map[string]any{"sku": "A", "quantity": 2, "unitPrice": "2.5"}},
	}})
	_, _ = mem.UpsertRecord(ctx, model.CatalogRecord{Kind: model.KindOrder, MerchantID: "m-1", Key: "O2", Data: map[string]any{
		"externalId": "O2", "status": "open", "total": "1",
	}})

	res, err := c.SyncOrders(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsCreated)
	assert.Equal(t, 1, res.RecordsUpdated)

	rows, err := readRows(filepath.Join(dir, "orders.csv"), ',')
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "O1", rows[0]["externalId"])
	assert.Equal(t, "paid", rows[0]["status"])
	assert.Equal(t, "A:2:2.5", rows[0]["lines"])
	assert.Equal(t, "O2", rows[1]["externalId"])
	assert.Equal(t, "O9", rows[2]["externalId"])
}

func TestReadRowsSkipsBlankLinesAndCells(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.csv", "a,b\n1,\n\n,\n2,3\n")
	rows, err := readRows(filepath.Join(dir, "x.csv"), ',')
	require.NoError(t, err)
	require.Len(t, rows, 2)
	_, hasB := rows[0]["b"]
	assert.False(t, hasB)
	assert.Equal(t, "3", rows[1]["b"])
}
