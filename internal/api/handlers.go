package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reviewq/internal/domain"
	"reviewq/internal/usecase"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const idempotencyHeader = "Idempotency-Key"

type updateStatusReq struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	MaxAttempts int    `json:"maxAttempts"`
}

type bulkUpdateStatusReq struct {
	IDs         []string `json:"ids"`
	Status      string   `json:"status"`
	MaxAttempts int      `json:"maxAttempts"`
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := domain.ParseReviewStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	s.enqueue(w, r, domain.UpdateStatus{TargetID: req.ID, NewStatus: status}, req.MaxAttempts)
}

func (s *Server) bulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := domain.ParseReviewStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}
	for _, id := range req.IDs {
		if strings.TrimSpace(id) == "" {
			writeError(w, http.StatusBadRequest, "ids must not contain empty values")
			return
		}
	}

	s.enqueue(w, r, domain.BulkUpdateStatus{TargetIDs: req.IDs, NewStatus: status}, req.MaxAttempts)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, p domain.Payload, maxAttempts int) {
	if maxAttempts < 0 {
		writeError(w, http.StatusBadRequest, "maxAttempts must not be negative")
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	job := s.queue.Enqueue(p, key, maxAttempts)
	hlog.FromRequest(r).Debug().Str("job_id", job.ID).Str("kind", string(p.Kind())).Msg("accepted job")
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job": job})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(chi.URLParam(r, "id"))
	if errors.Is(err, usecase.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": s.queue.Stats()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
