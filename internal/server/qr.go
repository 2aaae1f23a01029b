package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"promobot/internal/storage"
)

func (s *Server) handleQRStatus(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	rec, err := s.store.GetRecipient(r.Context(), phone)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "not_found", "can_redeem": false})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("phone", phone).Msg("recipient read failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"phone":      rec.Identifier,
		"name":       rec.DisplayName,
		"state":      string(rec.State),
		"can_redeem": rec.State == storage.StateCompleted && rec.RedeemedAt == nil,
	})
}

func (s *Server) handleQRRedeem(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	result, err := s.store.Redeem(r.Context(), phone)
	if err != nil {
		s.log.Error().Err(err).Str("phone", phone).Msg("redeem failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	switch result {
	case storage.RedeemNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
	case storage.RedeemNotEligible:
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "not_eligible"})
	case storage.RedeemAlreadyUsed:
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_redeemed"})
	default:
		s.log.Info().Str("phone", phone).Msg("coupon redeemed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
	}
}
