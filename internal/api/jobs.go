package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"syncgate/internal/model"
)

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	state := model.JobState(r.URL.Query().Get("state"))
	if state == "" {
		state = model.JobFailed
	}
	items, err := s.jobs.ListJobs(r.Context(), chi.URLParam(r, "queue"), state, intParam(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.RetryFailed(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) pauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Pause(chi.URLParam(r, "queue")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) resumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Resume(chi.URLParam(r, "queue")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Clear(r.Context(), chi.URLParam(r, "queue")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
