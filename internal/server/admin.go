package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"promobot/internal/storage"
)

type quotaResponse struct {
	MaxAllowed int64 `json:"max_allowed"`
	SentCount  int64 `json:"sent_count"`
}

func (s *Server) handleQuotaGet(w http.ResponseWriter, r *http.Request) {
	q, err := s.store.Quota(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("quota read failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{MaxAllowed: q.MaxAllowed, SentCount: q.SentCount})
}

func (s *Server) handleQuotaSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxAllowed *int64 `json:"max_allowed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxAllowed == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid request"})
		return
	}
	if err := s.store.SetMaxAllowed(r.Context(), *req.MaxAllowed); err != nil {
		if errors.Is(err, storage.ErrNegativeMax) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "max_allowed must be >= 0"})
			return
		}
		s.log.Error().Err(err).Msg("quota update failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	s.log.Info().Int64("max_allowed", *req.MaxAllowed).Msg("quota ceiling updated")

	q, err := s.store.Quota(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{MaxAllowed: q.MaxAllowed, SentCount: q.SentCount})
}
