package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"syncgate/internal/errs"
)

// Product is the canonical catalog product.
type Product struct {
	ExternalID  string           `json:"externalId" validate:"required"`
	SKU         string           `json:"sku" validate:"required"`
	Name        string           `json:"name" validate:"required"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Brand       string           `json:"brand,omitempty"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
	Currency    string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	Active      *bool            `json:"active,omitempty"`
	Attributes  map[string]any   `json:"attributes,omitempty"`
}

type InventoryLevel struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity *int   `json:"quantity" validate:"required,gte=0"`
	Location string `json:"location,omitempty"`
}

type PriceEntry struct {
	SKU            string           `json:"sku" validate:"required"`
	Price          *decimal.Decimal `json:"price" validate:"required"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice,omitempty"`
	Currency       string           `json:"currency" validate:"required,len=3"`
}

type OrderLine struct {
	SKU       string          `json:"sku" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Order struct {
	ExternalID    string           `json:"externalId" validate:"required"`
	Status        string           `json:"status" validate:"required"`
	Total         *decimal.Decimal `json:"total" validate:"required"`
	Currency      string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	CustomerEmail string           `json:"customerEmail,omitempty" validate:"omitempty,email"`
	Lines         []OrderLine      `json:"lines,omitempty" validate:"dive"`
	PlacedAt      *time.Time       `json:"placedAt,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Canonicalize decodes a mapped record into the canonical type for t, applies domain
// validation and returns the record key with the normalized field map.
func Canonicalize(t SyncType, record map[string]any) (string, map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", nil, errs.Validation("record is not serializable: %v", err)
	}
	var (
		key string
		out any
	)
	switch t {
	case SyncProducts:
		var p Product
		if err := decodeStrict(raw, &p); err != nil {
			return "", nil, err
		}
		if err := checkStruct(&p); err != nil {
			return p.ExternalID, nil, err
		}
		if p.Price.IsNegative() {
			return p.ExternalID, nil, errs.Validation("price must be >= 0")
		}
		key, out = p.ExternalID, p
	case SyncInventory:
		var l InventoryLevel
		if err := decodeStrict(raw, &l); err != nil {
			return "", nil, err
		}
		if err := checkStruct(&l); err != nil {
			return l.SKU, nil, err
		}
		key, out = l.SKU, l
		if l.Location != "" {
			key = l.SKU + "@" + l.Location
		}
	case SyncPricing:
		var p PriceEntry
		if err := decodeStrict(raw, &p); err != nil {
			return "", nil, err
		}
		p.Currency = strings.ToUpper(p.Currency)
		if err := checkStruct(&p); err != nil {
			return p.SKU, nil, err
		}
		if p.Price.IsNegative() {
			return p.SKU, nil, errs.Validation("price must be >= 0")
		}
		key, out = p.SKU, p
	case SyncOrders:
		var o Order
		if err := decodeStrict(raw, &o); err != nil {
			return "", nil, err
		}
		if err := checkStruct(&o); err != nil {
			return o.ExternalID, nil, err
		}
		if o.Total.IsNegative() {
			return o.ExternalID, nil, errs.Validation("total must be >= 0")
		}
		key, out = o.ExternalID, o
	default:
		return "", nil, errs.Configuration("no canonical form for sync type %q", t)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return key, nil, fmt.Errorf("encode canonical %s: %w", t, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return key, nil, fmt.Errorf("decode canonical %s: %w", t, err)
	}
	return key, m, nil
}

func decodeStrict(raw []byte, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errs.Validation("field %s has the wrong type (%s)", typeErr.Field, typeErr.Value)
		}
		return errs.Validation("invalid record: %v", err)
	}
	return nil
}

func checkStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Validation("%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return errs.Validation("invalid fields: %s", strings.Join(fields, ", ")).WithDetail("fields", fields)
}
