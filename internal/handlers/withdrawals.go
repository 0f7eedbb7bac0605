package handlers

import (
	"encoding/json"
	"net/http"

	"telemed/internal/middleware"
	"telemed/internal/services"
	"telemed/internal/validator"

	"github.com/go-chi/chi/v5"
)

type withdrawalRequest struct {
	Amount        string `json:"amount"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amountMinor, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	if err := validator.ValidateAccountNumber(req.AccountNumber); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BankName == "" || req.BankCode == "" {
		respondError(w, http.StatusBadRequest, "bank_name and bank_code are required")
		return
	}
	transactionID, err := h.withdrawals.Request(r.Context(), services.WithdrawalRequest{
		UserID:        userID,
		Amount:        amountMinor,
		AccountNumber: req.AccountNumber,
		BankName:      req.BankName,
		BankCode:      req.BankCode,
	})
	if err != nil {
		switch err {
		case services.ErrInvalidAmount:
			respondError(w, http.StatusBadRequest, "invalid_amount")
		case services.ErrInsufficientBalance:
			respondError(w, http.StatusBadRequest, "insufficient_balance")
		case services.ErrNotProvider:
			respondError(w, http.StatusForbidden, "only_providers_can_withdraw")
		case services.ErrSuspended:
			respondError(w, http.StatusForbidden, "account_suspended")
		default:
			respondError(w, http.StatusInternalServerError, "withdrawal_failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"transaction_id": transactionID})
}

type finalizeRequest struct {
	OTP string `json:"otp"`
}

func (h *Handler) FinalizeWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OTP == "" {
		respondError(w, http.StatusBadRequest, "otp is required")
		return
	}
	err := h.withdrawals.Finalize(r.Context(), adminID, chi.URLParam(r, "id"), req.OTP)
	if err != nil {
		switch err {
		case services.ErrTransactionNotFound:
			respondError(w, http.StatusNotFound, "withdrawal not found")
		case services.ErrNotProcessing:
			respondError(w, http.StatusConflict, "not_awaiting_otp")
		case services.ErrInsufficientBalance:
			respondError(w, http.StatusBadRequest, "insufficient_balance")
		case services.ErrTransferFailed:
			respondError(w, http.StatusBadRequest, "transfer_failed")
		case services.ErrStillPending:
			respondJSON(w, http.StatusAccepted, map[string]string{"status": "verification_needed"})
		default:
			respondError(w, http.StatusInternalServerError, "finalize_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
