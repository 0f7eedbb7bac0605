package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"telemed/internal/middleware"
	"telemed/internal/services"
	"telemed/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := h.withdrawals.Approve(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		switch err {
		case services.ErrTransactionNotFound:
			respondError(w, http.StatusNotFound, "withdrawal not found")
		case services.ErrAlreadyProcessed:
			respondError(w, http.StatusConflict, "already_processed")
		case services.ErrInvalidAccount:
			respondError(w, http.StatusBadRequest, "invalid_bank_account")
		case services.ErrTransferFailed:
			respondError(w, http.StatusBadGateway, "transfer_setup_failed")
		default:
			respondError(w, http.StatusInternalServerError, "approval_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "processing"})
}

func (h *Handler) CheckWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := h.withdrawals.CheckStatus(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		switch err {
		case services.ErrTransactionNotFound:
			respondError(w, http.StatusNotFound, "withdrawal not found")
		case services.ErrNotProcessing:
			respondError(w, http.StatusConflict, "no_transfer_to_check")
		case services.ErrStillPending:
			respondJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		default:
			respondError(w, http.StatusBadGateway, "status_check_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	rows, err := h.transactions.ListByStatus(r.Context(), "withdrawal", "pending", limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load withdrawals")
		return
	}
	respondJSON(w, http.StatusOK, withdrawalPayloads(rows))
}

func (h *Handler) ListVerificationNeeded(w http.ResponseWriter, r *http.Request) {
	rows, err := h.transactions.ListVerificationNeeded(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load withdrawals")
		return
	}
	respondJSON(w, http.StatusOK, withdrawalPayloads(rows))
}

type adjustWalletRequest struct {
	Email  string `json:"email"`
	Amount string `json:"amount"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// AdjustWallet credits or debits a wallet directly, recording an adjustment
// transaction and an audit event alongside the balance change.
func (h *Handler) AdjustWallet(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req adjustWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Action != "credit" && req.Action != "debit" {
		respondError(w, http.StatusBadRequest, "action must be credit or debit")
		return
	}
	amountMinor, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	transactionID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if req.Action == "credit" {
			if err := h.users.Credit(r.Context(), tx, user.ID, amountMinor); err != nil {
				return err
			}
		} else {
			affected, err := h.users.Debit(r.Context(), tx, user.ID, amountMinor)
			if err != nil {
				return err
			}
			if affected == 0 {
				return services.ErrInsufficientBalance
			}
		}
		if err := h.transactions.Create(r.Context(), tx, store.TransactionInput{
			ID:     transactionID,
			UserID: user.ID,
			Type:   "wallet_funding",
			Status: "success",
			Amount: amountMinor,
		}); err != nil {
			return err
		}
		detail := "admin " + req.Action
		if req.Reason != "" {
			detail += ": " + req.Reason
		}
		return h.events.Append(r.Context(), tx, transactionID, &adminID, "", "success", detail)
	})
	if err != nil {
		if err == services.ErrInsufficientBalance {
			respondError(w, http.StatusBadRequest, "insufficient_balance")
			return
		}
		respondError(w, http.StatusInternalServerError, "adjustment_failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"transaction_id": transactionID})
}

type suspendRequest struct {
	Email     string `json:"email"`
	Suspended bool   `json:"suspended"`
}

func (h *Handler) SuspendUser(w http.ResponseWriter, r *http.Request) {
	var req suspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		affected, err := h.users.SetSuspended(r.Context(), tx, user.ID, req.Suspended)
		if err != nil {
			return err
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"suspended": req.Suspended})
}

type promoteRequest struct {
	Email string `json:"email"`
}

func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.admin.Promote(r.Context(), tx, user.ID)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to promote admin")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

// MoneyFlow aggregates platform totals per transaction type and status.
func (h *Handler) MoneyFlow(w http.ResponseWriter, r *http.Request) {
	type flowRow struct {
		Type   string `db:"type"`
		Status string `db:"status"`
		Count  int64  `db:"count"`
		Total  int64  `db:"total"`
	}
	var rows []flowRow
	query := `
		SELECT type, status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total
		FROM transactions
		GROUP BY type, status
		ORDER BY type, status
	`
	if err := h.flowDB.SelectContext(r.Context(), &rows, query); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load money flow")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"type":   row.Type,
			"status": row.Status,
			"count":  row.Count,
			"total":  valueToMoney(row.Total),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) UserTransactions(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	user, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 50)
	offset := (page - 1) * limit
	rows, err := h.transactions.ListByUser(r.Context(), user.ID, query.Get("type"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, withdrawalPayloads(rows))
}

func withdrawalPayloads(rows []store.Transaction) []map[string]any {
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"id":             row.ID,
			"user_id":        row.UserID,
			"type":           row.Type,
			"status":         row.Status,
			"escrow_status":  valueToString(row.EscrowStatus),
			"amount":         valueToMoney(row.Amount),
			"account_number": valueToString(row.AccountNumber),
			"bank_name":      valueToString(row.BankName),
			"bank_code":      valueToString(row.BankCode),
			"transfer_code":  valueToString(row.TransferCode),
			"reference":      valueToString(row.Reference),
			"created_at":     row.CreatedAt,
			"completed_at":   row.CompletedAt,
		})
	}
	return normalized
}
