package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"syncgate/internal/errs"
	"syncgate/internal/metrics"
	"syncgate/internal/model"
	"syncgate/internal/queue"
	"syncgate/internal/webhooks"
)

// Inbound webhook headers. Provider-specific fallbacks are consulted when these are absent.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Webhook-Id"
	HeaderEventType = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

var headerFallbacks = map[string][]string{
	HeaderEventID:   {"X-Shopify-Webhook-Id", "X-Event-Id"},
	HeaderEventType: {"X-Shopify-Topic", "X-Event-Type"},
	HeaderTimestamp: {"X-Shopify-Triggered-At"},
}

type envelope struct {
	ID        string         `json:"id"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
	Timestamp *time.Time     `json:"timestamp"`
}

// receiveWebhook authenticates an event and queues it for asynchronous processing. Any
// well-formed request is answered 202 so senders cannot probe integrations or signatures;
// rejected and stale events are only logged and never reach the queue.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationID")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Unreadable body", err.Error(), r.URL.Path)
		return
	}
	event, err := parseEvent(r, body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	log := s.logger.With(zap.String("integration", integrationID), zap.String("event", event.ID), zap.String("type", event.EventType))
	accepted := func() { writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true}) }

	if !event.Timestamp.IsZero() && !s.webhooks.ValidateWebhookTimestamp(event.Timestamp, s.webhookMaxAge) {
		metrics.WebhookEvents.WithLabelValues("", "stale").Inc()
		log.Warn("stale webhook dropped", zap.Time("timestamp", event.Timestamp))
		accepted()
		return
	}
	if _, err := s.webhooks.Authenticate(r.Context(), integrationID, event); err != nil {
		switch errs.KindOf(err) {
		case errs.KindNotFound:
			log.Warn("webhook for unknown integration dropped", zap.Error(err))
		case errs.KindAuthentication:
			log.Warn("unauthenticated webhook dropped", zap.Error(err))
		default:
			s.writeError(w, r, err)
			return
		}
		accepted()
		return
	}
	job, created, err := s.jobs.AddJob(r.Context(), model.QueueWebhook, model.WebhookJob{IntegrationID: integrationID, Event: event}, queue.JobOptions{})
	if err != nil {
		// The sender retries on 5xx, which is what an unavailable queue needs.
		s.writeError(w, r, err)
		return
	}
	log.Debug("webhook enqueued", zap.String("job", job.ID), zap.Bool("created", created))
	accepted()
}

// parseEvent accepts either an envelope {id, eventType, payload, timestamp} or a bare JSON
// object described by headers.
func parseEvent(r *http.Request, body []byte) (model.WebhookEvent, error) {
	var raw map[string]any
	if err := webhooks.UnmarshalNumbers(body, &raw); err != nil {
		return model.WebhookEvent{}, err
	}
	var ev model.WebhookEvent
	if _, isEnvelope := raw["payload"].(map[string]any); isEnvelope && raw["eventType"] != nil {
		var env envelope
		if err := webhooks.UnmarshalNumbers(body, &env); err != nil {
			return model.WebhookEvent{}, err
		}
		ev = model.WebhookEvent{ID: env.ID, EventType: env.EventType, Payload: env.Payload, Signature: env.Signature}
		if env.Timestamp != nil {
			ev.Timestamp = *env.Timestamp
		}
	} else {
		ev.Payload = raw
	}
	if v := header(r, HeaderEventID); v != "" {
		ev.ID = v
	}
	if v := header(r, HeaderEventType); v != "" {
		ev.EventType = v
	}
	if v := header(r, HeaderSignature); v != "" {
		ev.Signature = v
	}
	if v := header(r, HeaderTimestamp); v != "" {
		if ts, ok := parseTimestamp(v); ok {
			ev.Timestamp = ts
		}
	}
	return ev, nil
}

func header(r *http.Request, name string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	for _, alt := range headerFallbacks[name] {
		if v := r.Header.Get(alt); v != "" {
			return v
		}
	}
	return ""
}

// parseTimestamp accepts RFC3339 or unix seconds.
func parseTimestamp(v string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts, true
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}
