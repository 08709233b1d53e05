package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"syncgate/internal/errs"
)

// client is a small JSON-over-HTTP client with auth headers and rate limiting.
type client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	auth    func(*http.Request)
	timeout time.Duration
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, errs.Timeout(err, "rate limiter wait for %s %s", method, path)
	}
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), rdr)
	if err != nil {
		return 0, errs.Configuration("build request %s: %v", u.Redacted(), err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, classifyTransport(err, method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, errs.Authentication("%s %s rejected credentials (%d)", method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, errs.NotFound("%s %s", method, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		msg := readSnippet(resp.Body)
		return resp.StatusCode, errs.Connection(nil, "%s %s returned %d: %s", method, path, resp.StatusCode, msg).
			WithDetail("status", resp.StatusCode).
			WithDetail("retryAfter", resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 400:
		msg := readSnippet(resp.Body)
		return resp.StatusCode, errs.Validation("%s %s returned %d: %s", method, path, resp.StatusCode, msg).
			WithDetail("status", resp.StatusCode)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, errs.Connection(err, "decode %s %s response", method, path)
		}
	}
	return resp.StatusCode, nil
}

func classifyTransport(err error, method, path string) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errs.Timeout(err, "%s %s timed out", method, path)
	}
	return errs.Connection(err, "%s %s failed", method, path)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

// page is the envelope accepted from list endpoints. Bare arrays are accepted too.
type page struct {
	Data     []map[string]any `json:"data"`
	NextPage *int             `json:"nextPage"`
	bare     bool
}

func (p *page) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		p.bare = true
		return json.Unmarshal(trimmed, &p.Data)
	}
	type alias page
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*p = page(a)
	return nil
}

const maxPages = 1000

// list pages through an endpoint, bounded by the updatedSince watermark.
func (c *client) list(ctx context.Context, path string, since time.Time, pageSize int) ([]map[string]any, error) {
	var out []map[string]any
	next := 1
	for i := 0; i < maxPages; i++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(next))
		q.Set("limit", strconv.Itoa(pageSize))
		if !since.IsZero() {
			q.Set("updatedSince", since.UTC().Format(time.RFC3339))
		}
		var p page
		if _, err := c.do(ctx, http.MethodGet, path, q, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		if len(p.Data) == 0 {
			break
		}
		if !p.bare {
			if p.NextPage == nil {
				break
			}
			next = *p.NextPage
			continue
		}
		if len(p.Data) < pageSize {
			break
		}
		next++
	}
	return out, nil
}
