package handlers

import (
	"io"
	"net/http"

	"telemed/internal/services"
)

// PaystackWebhook accepts processor callbacks. The body must be read raw so
// the signature covers exactly what the processor signed.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	signature := r.Header.Get("x-paystack-signature")
	if err := h.funding.HandleWebhook(r.Context(), body, signature); err != nil {
		switch err {
		case services.ErrInvalidSignature:
			respondError(w, http.StatusUnauthorized, "invalid signature")
		case services.ErrUnknownCustomer:
			respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		default:
			respondError(w, http.StatusInternalServerError, "webhook_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
