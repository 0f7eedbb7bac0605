package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"telemed/internal/auth"
	"telemed/internal/middleware"
	"telemed/internal/services"
	"telemed/internal/websocket"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.users.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": valueToMoney(balance),
	})
}

type fundRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) FundWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amountMinor, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	charge, err := h.funding.Initiate(r.Context(), userID, amountMinor)
	if err != nil {
		switch err {
		case services.ErrInvalidAmount:
			respondError(w, http.StatusBadRequest, "invalid_amount")
		case services.ErrSuspended:
			respondError(w, http.StatusForbidden, "account_suspended")
		default:
			respondError(w, http.StatusBadGateway, "funding_unavailable")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"authorization_url": charge.AuthorizationURL,
		"reference":         charge.Reference,
	})
}

func (h *Handler) VerifyFunding(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		respondError(w, http.StatusBadRequest, "reference is required")
		return
	}
	if err := h.funding.Verify(r.Context(), userID, reference); err != nil {
		switch err {
		case services.ErrChargeUnpaid:
			respondError(w, http.StatusBadRequest, "charge_unpaid")
		case services.ErrUnknownCustomer:
			respondError(w, http.StatusNotFound, "customer_not_found")
		default:
			respondError(w, http.StatusBadGateway, "verification_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	txType := query.Get("type")
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	transactions, err := h.transactions.ListByUser(r.Context(), userID, txType, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(transactions))
	for _, row := range transactions {
		normalized = append(normalized, map[string]any{
			"id":             row.ID,
			"user_id":        row.UserID,
			"doctor_id":      valueToString(row.DoctorID),
			"type":           row.Type,
			"status":         row.Status,
			"escrow_status":  valueToString(row.EscrowStatus),
			"amount":         valueToMoney(row.Amount),
			"account_number": valueToString(row.AccountNumber),
			"bank_name":      valueToString(row.BankName),
			"reference":      valueToString(row.Reference),
			"created_at":     row.CreatedAt,
			"completed_at":   row.CompletedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) TransactionEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	transactionID := chi.URLParam(r, "id")
	txn, err := h.transactions.GetByID(r.Context(), transactionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if txn.UserID != userID {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	events, err := h.events.ListByTransaction(r.Context(), transactionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handler) WSSessions(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
