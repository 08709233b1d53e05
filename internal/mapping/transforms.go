package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transform is a pure value conversion.
type Transform func(v any) (any, error)

func identity(v any) (any, error) { return v, nil }

// paramTransform builds a Transform from the text after the first colon.
type paramTransform func(arg string) (Transform, error)

var errNotNumeric = errors.New("value is not numeric")

var builtins = map[string]Transform{
	"string":           toString,
	"number":           toNumber,
	"integer":          toInteger,
	"decimal":          toDecimalString,
	"boolean":          toBoolean,
	"trim":             stringOp(strings.TrimSpace),
	"uppercase":        stringOp(strings.ToUpper),
	"lowercase":        stringOp(strings.ToLower),
	"cents_to_decimal": centsToDecimal,
	"decimal_to_cents": decimalToCents,
	"iso8601":          toISO8601,
	"unix_to_iso8601":  unixToISO8601,
	"split_comma":      splitComma,
	"join_comma":       joinComma,
	"not":              not,
	"abs":              absValue,
}

var parameterized = map[string]paramTransform{
	"round":            roundTo,
	"multiply":         decimalOp(func(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }),
	"add":              decimalOp(func(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }),
	"prefix":           func(arg string) (Transform, error) { return stringOp(func(s string) string { return arg + s }), nil },
	"suffix":           func(arg string) (Transform, error) { return stringOp(func(s string) string { return s + arg }), nil },
	"default_if_empty": defaultIfEmpty,
	"replace":          replace,
}

// Names lists every accepted transformation id, parameterized ones with a placeholder.
func Names() []string {
	out := make([]string, 0, len(builtins)+len(parameterized))
	for n := range builtins {
		out = append(out, n)
	}
	for n := range parameterized {
		out = append(out, n+":<arg>")
	}
	return out
}

// Compile resolves a transformation id, which may chain steps with "|", e.g. "trim|uppercase".
// A blank id yields the identity transform.
func Compile(id string) (Transform, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return identity, nil
	}
	var steps []Transform
	for _, part := range strings.Split(id, "|") {
		part = strings.TrimSpace(part)
		name, arg, hasArg := strings.Cut(part, ":")
		if !hasArg {
			fn, ok := builtins[name]
			if !ok {
				return nil, fmt.Errorf("unknown transformation %q", part)
			}
			steps = append(steps, fn)
			continue
		}
		build, ok := parameterized[name]
		if !ok {
			return nil, fmt.Errorf("unknown transformation %q", part)
		}
		fn, err := build(arg)
		if err != nil {
			return nil, fmt.Errorf("transformation %q: %w", part, err)
		}
		steps = append(steps, fn)
	}
	if len(steps) == 1 {
		return steps[0], nil
	}
	return func(v any) (any, error) {
		var err error
		for _, step := range steps {
			if v, err = step(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}, nil
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	case decimal.Decimal:
		return x.String(), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(x), nil
	}
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt(int64(x)), nil
	case uint64:
		return decimal.RequireFromString(strconv.FormatUint(x, 10)), nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", errNotNumeric, x)
		}
		return d, nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(x, ",", ""))
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", errNotNumeric, x)
		}
		return d, nil
	case bool:
		if x {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %T", errNotNumeric, v)
}

func toNumber(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.InexactFloat64(), nil
}

func toInteger(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.Truncate(0).IntPart(), nil
}

func toDecimalString(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.String(), nil
}

func toBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "y", "on", "active", "enabled":
			return true, nil
		case "false", "0", "no", "n", "off", "inactive", "disabled", "":
			return false, nil
		}
		return nil, fmt.Errorf("cannot interpret %q as boolean", x)
	}
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return !d.IsZero(), nil
}

func stringOp(fn func(string) string) Transform {
	return func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return fn(s.(string)), nil
	}
}

func centsToDecimal(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.Shift(-2).StringFixed(2), nil
}

func decimalToCents(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func toISO8601(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339), nil
	}
	s, ok := v.(string)
	if !ok {
		return unixToISO8601(v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func unixToISO8601(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return time.Unix(d.IntPart(), 0).UTC().Format(time.RFC3339), nil
}

func splitComma(v any) (any, error) {
	s, _ := toString(v)
	parts := strings.Split(s.(string), ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func joinComma(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			s, _ := toString(e)
			parts = append(parts, s.(string))
		}
		return strings.Join(parts, ","), nil
	case []string:
		return strings.Join(x, ","), nil
	}
	return toString(v)
}

func not(v any) (any, error) {
	b, err := toBoolean(v)
	if err != nil {
		return nil, err
	}
	return !b.(bool), nil
}

func absValue(v any) (any, error) {
	d, err := asDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.Abs().InexactFloat64(), nil
}

func roundTo(arg string) (Transform, error) {
	places, err := strconv.Atoi(arg)
	if err != nil || places < 0 || places > 12 {
		return nil, fmt.Errorf("round needs 0-12 places, got %q", arg)
	}
	return func(v any) (any, error) {
		d, err := asDecimal(v)
		if err != nil {
			return nil, err
		}
		f := d.Round(int32(places)).InexactFloat64()
		if math.IsInf(f, 0) {
			return nil, fmt.Errorf("value out of range")
		}
		return f, nil
	}, nil
}

func decimalOp(op func(a, b decimal.Decimal) decimal.Decimal) paramTransform {
	return func(arg string) (Transform, error) {
		operand, err := decimal.NewFromString(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("operand %q is not numeric", arg)
		}
		return func(v any) (any, error) {
			d, err := asDecimal(v)
			if err != nil {
				return nil, err
			}
			return op(d, operand).InexactFloat64(), nil
		}, nil
	}
}

func defaultIfEmpty(arg string) (Transform, error) {
	return func(v any) (any, error) {
		if v == nil {
			return arg, nil
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return arg, nil
		}
		return v, nil
	}, nil
}

func replace(arg string) (Transform, error) {
	old, repl, ok := strings.Cut(arg, ":")
	if !ok || old == "" {
		return nil, errors.New("replace needs old:new")
	}
	return stringOp(func(s string) string { return strings.ReplaceAll(s, old, repl) }), nil
}
