package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"telemed/internal/auth"
	"telemed/internal/middleware"
	"telemed/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type specialtyInput struct {
	Name string `json:"name"`
	Fee  string `json:"fee"`
}

type registerRequest struct {
	Username    string           `json:"username"`
	Email       string           `json:"email"`
	Password    string           `json:"password"`
	Role        string           `json:"role"`
	About       string           `json:"about"`
	Specialties []specialtyInput `json:"specialties"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateUsername(req.Username); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidatePassword(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateRole(req.Role); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	type specialty struct {
		name string
		fee  int64
	}
	specialties := make([]specialty, 0, len(req.Specialties))
	if validator.IsProviderRole(req.Role) {
		for _, item := range req.Specialties {
			fee, err := parseAmountMinor(item.Fee)
			if err != nil || item.Name == "" {
				respondError(w, http.StatusBadRequest, "invalid specialty")
				return
			}
			specialties = append(specialties, specialty{name: item.Name, fee: fee})
		}
	}
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to secure password")
		return
	}
	userID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.users.Create(r.Context(), tx, userID, req.Username, req.Email, passwordHash, req.Role); err != nil {
			return err
		}
		if validator.IsProviderRole(req.Role) {
			if err := h.providers.CreateProfile(r.Context(), tx, userID, req.Role, req.About); err != nil {
				return err
			}
			for _, item := range specialties {
				if err := h.providers.UpsertSpecialty(r.Context(), tx, uuid.NewString(), userID, item.name, item.fee); err != nil {
					return err
				}
			}
		}
		hasAdmin, err := h.admin.HasAnyAdmin(r.Context())
		if err != nil {
			return err
		}
		if !hasAdmin {
			return h.admin.Promote(r.Context(), tx, userID)
		}
		return nil
	})
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			respondError(w, http.StatusConflict, "username or email already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, userID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"token": token,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.IsSuspended {
		respondError(w, http.StatusForbidden, "account_suspended")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token": token,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":             user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"role":           user.Role,
		"wallet_balance": valueToMoney(user.WalletBalance),
		"is_admin":       user.IsAdmin,
		"created_at":     user.CreatedAt,
	})
}
