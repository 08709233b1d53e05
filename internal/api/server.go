// Package api serves the admin HTTP API, the inbound webhook endpoint and the live job
// progress stream.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"syncgate/internal/audit"
	"syncgate/internal/auth"
	"syncgate/internal/events"
	"syncgate/internal/integration"
	"syncgate/internal/metrics"
	"syncgate/internal/queue"
	"syncgate/internal/webhooks"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Integrations *integration.Service
	Webhooks     *webhooks.Service
	Jobs         *queue.Service
	Audit        audit.Lister
	Broker       events.Broker
	Auth         *auth.Verifier
	Ready        map[string]Pinger
	Logger       *zap.Logger
	// MaxWebhookBody caps inbound webhook bodies; zero means 1 MiB.
	MaxWebhookBody int64
	// WebhookMaxAge is the freshness window for inbound webhook timestamps.
	WebhookMaxAge time.Duration
}

type Server struct {
	integrations   *integration.Service
	webhooks       *webhooks.Service
	jobs           *queue.Service
	audit          audit.Lister
	broker         events.Broker
	auth           *auth.Verifier
	ready          map[string]Pinger
	logger         *zap.Logger
	maxWebhookBody int64
	webhookMaxAge  time.Duration
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Broker == nil {
		d.Broker = events.Discard{}
	}
	if d.MaxWebhookBody <= 0 {
		d.MaxWebhookBody = 1 << 20
	}
	if d.WebhookMaxAge <= 0 {
		d.WebhookMaxAge = webhooks.DefaultMaxAge
	}
	return &Server{
		integrations:   d.Integrations,
		webhooks:       d.Webhooks,
		jobs:           d.Jobs,
		audit:          d.Audit,
		broker:         d.Broker,
		auth:           d.Auth,
		ready:          d.Ready,
		logger:         d.Logger.With(zap.String("component", "api")),
		maxWebhookBody: d.MaxWebhookBody,
		webhookMaxAge:  d.WebhookMaxAge,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.readyz)
	r.Get("/version", s.version)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Post("/webhooks/{integrationID}", s.receiveWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleViewer))
			r.Get("/connectors", s.listConnectors)
			r.Get("/integrations", s.listIntegrations)
			r.Get("/integrations/{id}", s.getIntegration)
			r.Get("/integrations/{id}/mappings", s.listMappings)
			r.Get("/integrations/{id}/audit", s.listAudit)
			r.Get("/queues", s.queueStats)
			r.Get("/queues/{queue}/jobs", s.listJobs)
			r.Get("/jobs/{jobID}", s.getJob)
			r.Get("/jobs/stream", s.streamJobs)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleOperator))
			r.Post("/integrations", s.createIntegration)
			r.Patch("/integrations/{id}", s.updateIntegration)
			r.Post("/integrations/{id}/test", s.testConnection)
			r.Post("/integrations/{id}/sync", s.enqueueSync)
			r.Post("/integrations/{id}/export", s.enqueueExport)
			r.Put("/integrations/{id}/mappings", s.saveMappings)
			r.Post("/integrations/{id}/webhook", s.registerWebhook)
			r.Post("/jobs/{jobID}/retry", s.retryJob)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleAdmin))
			r.Delete("/integrations/{id}", s.deleteIntegration)
			r.Post("/queues/{queue}/pause", s.pauseQueue)
			r.Post("/queues/{queue}/resume", s.resumeQueue)
			r.Delete("/queues/{queue}/jobs", s.clearQueue)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route, code).Observe(dur.Seconds())
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", dur),
			zap.String("requestId", middleware.GetReqID(r.Context())),
		)
	})
}

func zapRequest(r *http.Request, err error) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("requestId", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
}
