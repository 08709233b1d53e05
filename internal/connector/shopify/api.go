package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	goshopify "github.com/bold-commerce/go-shopify/v4"

	"syncgate/internal/errs"
)

// adminAPI is the slice of the Shopify Admin API the connector needs. Resources are
// returned as their JSON maps so the mapping engine sees Shopify's own field names.
type adminAPI interface {
	Shop(ctx context.Context) (map[string]any, error)
	Products(ctx context.Context, since time.Time, pageSize int) ([]map[string]any, error)
	Orders(ctx context.Context, since time.Time, pageSize int) ([]map[string]any, error)
	CreateWebhook(ctx context.Context, topic, address string) error
}

// listOptions is encoded with url tags by go-shopify. A page_info cursor excludes every
// other filter except limit.
type listOptions struct {
	PageInfo     string `url:"page_info,omitempty"`
	Limit        int    `url:"limit,omitempty"`
	UpdatedAtMin string `url:"updated_at_min,omitempty"`
	Status       string `url:"status,omitempty"`
}

const maxPages = 500

type restAPI struct {
	client *goshopify.Client
}

func newRestAPI(app goshopify.App, shop, token, apiVersion string, retries int) (*restAPI, error) {
	opts := []goshopify.Option{goshopify.WithRetry(retries)}
	if apiVersion != "" {
		opts = append(opts, goshopify.WithVersion(apiVersion))
	}
	c, err := goshopify.NewClient(app, shop, token, opts...)
	if err != nil {
		return nil, errs.Configuration("shopify: %v", err)
	}
	return &restAPI{client: c}, nil
}

func (a *restAPI) Shop(ctx context.Context) (map[string]any, error) {
	shop, err := a.client.Shop.Get(ctx, nil)
	if err != nil {
		return nil, classify(err, "get shop")
	}
	return asMap(shop)
}

func (a *restAPI) Products(ctx context.Context, since time.Time, pageSize int) ([]map[string]any, error) {
	opts := listOptions{Limit: pageSize}
	if !since.IsZero() {
		opts.UpdatedAtMin = since.UTC().Format(time.RFC3339)
	}
	var out []map[string]any
	for i := 0; i < maxPages; i++ {
		products, page, err := a.client.Product.ListWithPagination(ctx, opts)
		if err != nil {
			return nil, classify(err, "list products")
		}
		for _, p := range products {
			m, err := asMap(p)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if page == nil || page.NextPageOptions == nil || page.NextPageOptions.PageInfo == "" {
			break
		}
		opts = listOptions{PageInfo: page.NextPageOptions.PageInfo, Limit: pageSize}
	}
	return out, nil
}

func (a *restAPI) Orders(ctx context.Context, since time.Time, pageSize int) ([]map[string]any, error) {
	opts := listOptions{Limit: pageSize, Status: "any"}
	if !since.IsZero() {
		opts.UpdatedAtMin = since.UTC().Format(time.RFC3339)
	}
	var out []map[string]any
	for i := 0; i < maxPages; i++ {
		orders, page, err := a.client.Order.ListWithPagination(ctx, opts)
		if err != nil {
			return nil, classify(err, "list orders")
		}
		for _, o := range orders {
			m, err := asMap(o)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if page == nil || page.NextPageOptions == nil || page.NextPageOptions.PageInfo == "" {
			break
		}
		opts = listOptions{PageInfo: page.NextPageOptions.PageInfo, Limit: pageSize}
	}
	return out, nil
}

func (a *restAPI) CreateWebhook(ctx context.Context, topic, address string) error {
	_, err := a.client.Webhook.Create(ctx, goshopify.Webhook{Topic: topic, Address: address, Format: "json"})
	if err != nil {
		return classify(err, "create webhook "+topic)
	}
	return nil
}

func asMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("shopify: encode resource: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("shopify: decode resource: %w", err)
	}
	return m, nil
}

// classify maps go-shopify response errors onto the gateway's error kinds.
func classify(err error, op string) error {
	var status interface{ GetStatus() int }
	if errors.As(err, &status) {
		code := status.GetStatus()
		switch {
		case code == 401 || code == 403:
			return errs.Wrap(err, errs.KindAuthentication, "shopify: "+op)
		case code == 404:
			return errs.Wrap(err, errs.KindNotFound, "shopify: "+op)
		case code == 429 || code >= 500:
			return errs.Connection(err, "shopify: %s (%d)", op, code)
		case code >= 400:
			return errs.Wrap(err, errs.KindValidation, "shopify: "+op)
		}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errs.Timeout(err, "shopify: %s", op)
	}
	return errs.Connection(err, "shopify: %s", op)
}
