package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"syncgate/internal/audit"
	"syncgate/internal/metrics"
)

// Notifier posts integration alerts to an operator-configured URL. Deliveries are signed
// with X-Signature when a secret is set and retried with exponential backoff.
type Notifier struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int

	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	pending []*delivery
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

type delivery struct {
	id        string
	eventType string
	body      []byte
	attempts  int
	nextAt    time.Time
	lastErr   string
}

func NewNotifier(url, secret string, maxAttempts int, logger *zap.Logger) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		URL:         url,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		logger:      logger.With(zap.String("component", "notifier")),
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

// Alert implements audit.Alerter by queueing a delivery.
func (n *Notifier) Alert(_ context.Context, al audit.Alert) {
	n.Emit("alert."+string(al.Kind), al)
}

// Emit queues data for delivery under eventType.
func (n *Notifier) Emit(eventType string, data any) {
	id := "evt_" + uuid.NewString()
	payload := map[string]any{
		"id":   id,
		"type": eventType,
		"ts":   n.now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encode notification", zap.Error(err))
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, &delivery{id: id, eventType: eventType, body: body, nextAt: n.now()})
	n.mu.Unlock()
}

// Pending is the number of deliveries not yet sent or abandoned.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func (n *Notifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-n.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				n.ProcessOnce(ctx)
				cancel()
			}
		}
	}()
}

func (n *Notifier) Stop() {
	n.once.Do(func() { close(n.stop) })
	n.wg.Wait()
}

// ProcessOnce attempts every due delivery and returns how many succeeded.
func (n *Notifier) ProcessOnce(ctx context.Context) int {
	now := n.now()
	n.mu.Lock()
	var due []*delivery
	for _, d := range n.pending {
		if !d.nextAt.After(now) {
			due = append(due, d)
		}
	}
	n.mu.Unlock()

	sent := 0
	done := map[*delivery]bool{}
	for _, d := range due {
		err := n.post(ctx, d)
		d.attempts++
		if err == nil {
			sent++
			done[d] = true
			metrics.WebhookEvents.WithLabelValues("notifier", "delivered").Inc()
			continue
		}
		d.lastErr = err.Error()
		if d.attempts >= n.MaxAttempts {
			done[d] = true
			metrics.WebhookEvents.WithLabelValues("notifier", "abandoned").Inc()
			n.logger.Error("notification abandoned", zap.String("id", d.id), zap.Int("attempts", d.attempts), zap.String("error", d.lastErr))
			continue
		}
		d.nextAt = now.Add(nextBackoff(d.attempts))
		n.logger.Warn("notification failed", zap.String("id", d.id), zap.Int("attempts", d.attempts), zap.Error(err))
	}

	if len(done) > 0 {
		n.mu.Lock()
		kept := n.pending[:0]
		for _, d := range n.pending {
			if !done[d] {
				kept = append(kept, d)
			}
		}
		n.pending = kept
		n.mu.Unlock()
	}
	return sent
}

func (n *Notifier) post(ctx context.Context, d *delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(d.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.eventType)
	if n.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(n.Secret, d.body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: status %d", resp.StatusCode)
	}
	return nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
