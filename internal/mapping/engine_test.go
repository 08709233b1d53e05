package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/errs"
	"syncgate/internal/model"
)

func TestApplyNestedPathsAndDefaults(t *testing.T) {
	e := NewEngine()
	rec := map[string]any{
		"item": map[string]any{"code": " ab-1 ", "desc": "Kettle"},
		"cost": map[string]any{"cents": 1999},
		"tags": []any{"kitchen", "steel"},
	}
	maps := []model.DataMapping{
		{SourceField: "item.code", TargetField: "sku", Transformation: "trim|uppercase", Required: true},
		{SourceField: "item.desc", TargetField: "details.name"},
		{SourceField: "cost.cents", TargetField: "price", Transformation: "cents_to_decimal"},
		{SourceField: "item.currency", TargetField: "currency", DefaultValue: "EUR"},
		{SourceField: "tags.1", TargetField: "details.material"},
		{SourceField: "item.missing", TargetField: "ignored"},
	}

	out, warnings, err := e.Apply(rec, maps)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "AB-1", out["sku"])
	assert.Equal(t, "19.99", out["price"])
	assert.Equal(t, "EUR", out["currency"])
	assert.Equal(t, map[string]any{"name": "Kettle", "material": "steel"}, out["details"])
	assert.NotContains(t, out, "ignored")
}

func TestApplyRequiredMissing(t *testing.T) {
	e := NewEngine()
	_, _, err := e.Apply(map[string]any{"name": "x"}, []model.DataMapping{
		{SourceField: "sku", TargetField: "sku", Required: true},
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.Contains(t, err.Error(), "sku")
}

func TestApplyOptionalTransformFailureIsWarning(t *testing.T) {
	e := NewEngine()
	out, warnings, err := e.Apply(map[string]any{"qty": "lots", "sku": "A"}, []model.DataMapping{
		{SourceField: "sku", TargetField: "sku", Required: true},
		{SourceField: "qty", TargetField: "quantity", Transformation: "integer"},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "qty", warnings[0].Field)
	assert.NotContains(t, out, "quantity")
}

func TestApplyRequiredTransformFailureAbortsRecord(t *testing.T) {
	e := NewEngine()
	_, _, err := e.Apply(map[string]any{"qty": "lots"}, []model.DataMapping{
		{SourceField: "qty", TargetField: "quantity", Transformation: "integer", Required: true},
	})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestApplyBlankTransformationPassesValue(t *testing.T) {
	e := NewEngine()
	maps := []model.DataMapping{
		{SourceField: "sku", TargetField: "sku", Transformation: "  ", Required: true},
		{SourceField: "qty", TargetField: "quantity", Transformation: "\t"},
	}
	require.NoError(t, e.Validate(maps))
	out, warnings, err := e.Apply(map[string]any{"sku": "A-1", "qty": 3}, maps)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "A-1", out["sku"])
	assert.Equal(t, 3, out["quantity"])

	fn, err := Compile(" ")
	require.NoError(t, err)
	require.NotNil(t, fn)
	v, err := fn("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestApplyWithoutMappingsCopies(t *testing.T) {
	e := NewEngine()
	in := map[string]any{"sku": "A"}
	out, _, err := e.Apply(in, nil)
	require.NoError(t, err)
	out["sku"] = "B"
	assert.Equal(t, "A", in["sku"])
}

func TestValidateRejectsUnknownTransformation(t *testing.T) {
	e := NewEngine()
	err := e.Validate([]model.DataMapping{{SourceField: "a", TargetField: "b", Transformation: "eval:os.Exit(1)"}})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))

	err = e.Validate([]model.DataMapping{{SourceField: "a", TargetField: ""}})
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}

func TestTransformations(t *testing.T) {
	tests := []struct {
		id   string
		in   any
		want any
	}{
		{"number", "12.50", 12.5},
		{"integer", "7.9", int64(7)},
		{"boolean", "yes", true},
		{"boolean", 0.0, false},
		{"not", "active", false},
		{"string", 3.0, "3"},
		{"string", json.Number("9007199254740993"), "9007199254740993"},
		{"decimal", json.Number("19.90"), "19.9"},
		{"round:2", 3.14159, 3.14},
		{"multiply:1.2", 10, 12.0},
		{"add:-1", "5", 4.0},
		{"prefix:SKU-", 42, "SKU-42"},
		{"suffix:/ea", "box", "box/ea"},
		{"decimal_to_cents", "19.99", int64(1999)},
		{"iso8601", "2024-03-01", "2024-03-01T00:00:00Z"},
		{"unix_to_iso8601", 0, "1970-01-01T00:00:00Z"},
		{"split_comma", "a, b,,c", []any{"a", "b", "c"}},
		{"join_comma", []any{"a", 1}, "a,1"},
		{"default_if_empty:n/a", "  ", "n/a"},
		{"replace:-:_", "a-b-c", "a_b_c"},
		{"abs", -3, 3.0},
		{"lowercase", "ABC", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			fn, err := Compile(tt.id)
			require.NoError(t, err)
			got, err := fn(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileRejectsBadParameters(t *testing.T) {
	for _, id := range []string{"round:x", "multiply:abc", "replace:", "shell:rm", "uppercase|exec"} {
		_, err := Compile(id)
		assert.Error(t, err, id)
	}
}

func TestForSyncType(t *testing.T) {
	all := []model.DataMapping{
		{SourceField: "code", TargetField: "products.sku"},
		{SourceField: "qty", TargetField: "inventory.quantity"},
		{SourceField: "code", TargetField: "sku"},
		{SourceField: "amount", TargetField: "price", SyncType: model.SyncPricing},
		{SourceField: "title", TargetField: "name", SyncType: model.SyncProducts},
	}

	products := ForSyncType(all, model.SyncProducts)
	require.Len(t, products, 3)
	assert.Equal(t, "sku", products[0].TargetField)
	assert.Equal(t, "sku", products[1].TargetField)
	assert.Equal(t, "name", products[2].TargetField)

	pricing := ForSyncType(all, model.SyncPricing)
	require.Len(t, pricing, 2)
	assert.Equal(t, "price", pricing[1].TargetField)

	inventory := ForSyncType(all, model.SyncInventory)
	require.Len(t, inventory, 2)
	assert.Equal(t, "quantity", inventory[0].TargetField)
}

func TestParseFile(t *testing.T) {
	t.Setenv("SG_TEST_CURRENCY", "USD")
	f, err := Parse([]byte(`
integrationId: int-1
mappings:
  - {sourceField: code, targetField: products.sku, required: true}
syncTypes:
  pricing:
    - {sourceField: cents, targetField: price, transformation: cents_to_decimal}
    - {sourceField: cur, targetField: currency, defaultValue: "${SG_TEST_CURRENCY}"}
`))
	require.NoError(t, err)
	flat := f.Flatten("")
	require.Len(t, flat, 3)
	assert.Equal(t, "int-1", flat[0].IntegrationID)
	assert.True(t, flat[0].Required)
	assert.Equal(t, model.SyncPricing, flat[1].SyncType)
	assert.Equal(t, "USD", flat[2].DefaultValue)
}
