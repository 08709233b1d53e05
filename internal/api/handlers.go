package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"syncgate/internal/buildinfo"
	"syncgate/internal/integration"
	"syncgate/internal/model"
	"syncgate/internal/queue"
	"syncgate/internal/store"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for name, p := range s.ready {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) listConnectors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.integrations.AvailableConnectors()})
}

type createIntegrationRequest struct {
	MerchantID    string            `json:"merchantId" validate:"required"`
	Name          string            `json:"name"`
	ConnectorType string            `json:"connectorType" validate:"required"`
	Credentials   map[string]string `json:"credentials"`
	Settings      map[string]any    `json:"settings"`
	MaxRetries    int               `json:"maxRetries" validate:"gte=0"`
	RetryDelayMs  int64             `json:"retryDelayMs" validate:"gte=0"`
}

func (s *Server) createIntegration(w http.ResponseWriter, r *http.Request) {
	var req createIntegrationRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.integrations.CreateIntegration(r.Context(), model.IntegrationConfig{
		MerchantID:    req.MerchantID,
		Name:          req.Name,
		ConnectorType: req.ConnectorType,
		Credentials:   req.Credentials,
		Settings:      req.Settings,
		MaxRetries:    req.MaxRetries,
		RetryDelayMs:  req.RetryDelayMs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) listIntegrations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.integrations.ListIntegrations(r.Context(), store.IntegrationFilter{
		MerchantID: q.Get("merchantId"),
		Status:     model.IntegrationStatus(q.Get("status")),
		Limit:      intParam(r, "limit", 100),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) getIntegration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.integrations.GetIntegration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Redacted())
}

func (s *Server) updateIntegration(w http.ResponseWriter, r *http.Request) {
	var p integration.Patch
	if err := decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.integrations.UpdateIntegration(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Redacted())
}

func (s *Server) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := s.integrations.DeleteIntegration(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	res, err := s.integrations.TestIntegrationConnection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type syncRequest struct {
	SyncType       model.SyncType `json:"syncType" validate:"required"`
	Priority       int            `json:"priority"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotencyKey"`
	DelayMs        int64          `json:"delayMs" validate:"gte=0"`
}

type enqueueResponse struct {
	Job     model.Job `json:"job"`
	Created bool      `json:"created"`
}

func (s *Server) enqueueSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.integrations.GetIntegration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, created, err := s.jobs.AddJob(r.Context(), model.QueueSync, model.SyncJob{
		IntegrationID:  cfg.ID,
		SyncType:       req.SyncType,
		Priority:       req.Priority,
		SourceVersion:  integration.SourceVersion(cfg),
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	}, queue.JobOptions{Priority: req.Priority, Delay: time.Duration(req.DelayMs) * time.Millisecond})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Created: created})
}

type exportRequest struct {
	Kind  model.RecordKind `json:"kind" validate:"required"`
	Since *time.Time       `json:"since"`
}

func (s *Server) enqueueExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.integrations.GetIntegration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, created, err := s.jobs.AddJob(r.Context(), model.QueueExport, model.ExportJob{
		IntegrationID: cfg.ID,
		Kind:          req.Kind,
		Since:         req.Since,
		Version:       integration.SourceVersion(cfg),
	}, queue.JobOptions{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Created: created})
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	items, err := s.integrations.ListMappings(r.Context(), chi.URLParam(r, "id"), model.SyncType(r.URL.Query().Get("syncType")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type saveMappingsRequest struct {
	SyncType model.SyncType      `json:"syncType"`
	Mappings []model.DataMapping `json:"mappings"`
}

func (s *Server) saveMappings(w http.ResponseWriter, r *http.Request) {
	var req saveMappingsRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.integrations.SaveMappings(r.Context(), chi.URLParam(r, "id"), req.SyncType, req.Mappings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type registerWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wc, err := s.webhooks.RegisterWebhook(r.Context(), chi.URLParam(r, "id"), req.URL, req.Events, req.Secret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The secret is returned once so the caller can configure the sender.
	writeJSON(w, http.StatusCreated, wc)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []model.AuditEvent{}})
		return
	}
	items, err := s.audit.ListEvents(r.Context(), chi.URLParam(r, "id"), intParam(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
