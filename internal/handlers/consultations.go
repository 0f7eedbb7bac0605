package handlers

import (
	"encoding/json"
	"net/http"

	"telemed/internal/middleware"
	"telemed/internal/services"
	"telemed/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type bookRequest struct {
	DoctorID  string `json:"doctor_id"`
	Specialty string `json:"specialty"`
}

func (h *Handler) BookConsultation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.DoctorID == "" || req.Specialty == "" {
		respondError(w, http.StatusBadRequest, "doctor_id and specialty are required")
		return
	}
	booked, err := h.consultations.Book(r.Context(), services.BookRequest{
		PatientID: userID,
		DoctorID:  req.DoctorID,
		Specialty: req.Specialty,
	})
	if err != nil {
		switch err {
		case services.ErrInsufficientBalance:
			respondError(w, http.StatusBadRequest, "insufficient_balance")
		case services.ErrActiveSessionExists:
			respondError(w, http.StatusConflict, "active_session_exists")
		case services.ErrDoctorUnavailable:
			respondError(w, http.StatusConflict, "doctor_unavailable")
		case services.ErrInvalidFee:
			respondError(w, http.StatusBadRequest, "invalid_specialty")
		case services.ErrSuspended:
			respondError(w, http.StatusForbidden, "account_suspended")
		case services.ErrSessionNotFound:
			respondError(w, http.StatusNotFound, "doctor not found")
		default:
			respondError(w, http.StatusInternalServerError, "booking_failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"session_id":      booked.SessionID,
		"conversation_id": booked.ConversationID,
		"fee":             valueToMoney(booked.Fee),
	})
}

func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	sessions, err := h.consultations.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load consultations")
		return
	}
	normalized := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		normalized = append(normalized, sessionPayload(session))
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) ActiveConsultation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	session, err := h.consultations.MostRecentActive(r.Context(), userID)
	if err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionPayload(session))
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	session, err := h.consultations.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionPayload(session))
}

func (h *Handler) StartConsultation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.consultations.Start(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "in-progress"})
}

func (h *Handler) CompleteConsultation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	status, err := h.consultations.Complete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) CancelConsultation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.consultations.Cancel(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type messageRequest struct {
	Body string `json:"body"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.consultations.SendMessage(r.Context(), userID, chi.URLParam(r, "id"), req.Body); err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "sent"})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 50)
	offset := (page - 1) * limit
	messages, err := h.consultations.Messages(r.Context(), userID, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

type prescribeRequest struct {
	Kind    string `json:"kind"`
	Details string `json:"details"`
}

func (h *Handler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req prescribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Kind != "pharmacy" && req.Kind != "laboratory" {
		respondError(w, http.StatusBadRequest, "kind must be pharmacy or laboratory")
		return
	}
	prescriptionID, err := h.consultations.Prescribe(r.Context(), services.PrescribeRequest{
		DoctorID:  userID,
		SessionID: chi.URLParam(r, "id"),
		Kind:      req.Kind,
		Details:   req.Details,
	})
	if err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"prescription_id": prescriptionID})
}

func (h *Handler) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	prescriptions, err := h.consultations.Prescriptions(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondConsultationError(w, err)
		return
	}
	normalized := make([]map[string]any, 0, len(prescriptions))
	for _, item := range prescriptions {
		normalized = append(normalized, map[string]any{
			"id":         item.ID,
			"session_id": item.SessionID,
			"kind":       item.Kind,
			"status":     item.Status,
			"details":    item.Details,
			"created_at": item.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) CompletePrescription(w http.ResponseWriter, r *http.Request) {
	_, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.consultations.CompletePrescription(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondConsultationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) ListSpecialties(w http.ResponseWriter, r *http.Request) {
	specialties, err := h.providers.ListSpecialties(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load specialties")
		return
	}
	normalized := make([]map[string]any, 0, len(specialties))
	for _, item := range specialties {
		normalized = append(normalized, map[string]any{
			"name": item.Name,
			"fee":  valueToMoney(item.Fee),
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

type setSpecialtiesRequest struct {
	Specialties []specialtyInput `json:"specialties"`
}

func (h *Handler) SetSpecialties(w http.ResponseWriter, r *http.Request) {
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
	if user.Role == "patient" {
		respondError(w, http.StatusForbidden, "providers only")
		return
	}
	var req setSpecialtiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Specialties) == 0 {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	type specialty struct {
		name string
		fee  int64
	}
	parsed := make([]specialty, 0, len(req.Specialties))
	for _, item := range req.Specialties {
		fee, err := parseAmountMinor(item.Fee)
		if err != nil || item.Name == "" {
			respondError(w, http.StatusBadRequest, "invalid specialty")
			return
		}
		parsed = append(parsed, specialty{name: item.Name, fee: fee})
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		for _, item := range parsed {
			if err := h.providers.UpsertSpecialty(r.Context(), tx, uuid.NewString(), userID, item.name, item.fee); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to save specialties")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func sessionPayload(session store.Session) map[string]any {
	return map[string]any{
		"id":                    session.ID,
		"doctor_id":             session.DoctorID,
		"patient_id":            session.PatientID,
		"status":                session.Status,
		"escrow_transaction_id": session.EscrowTransactionID,
		"conversation_id":       session.ConversationID,
		"start_time":            session.StartTime,
		"end_time":              session.EndTime,
	}
}

func respondConsultationError(w http.ResponseWriter, err error) {
	switch err {
	case services.ErrSessionNotFound:
		respondError(w, http.StatusNotFound, "session not found")
	case services.ErrNotParticipant:
		respondError(w, http.StatusForbidden, "access denied")
	case services.ErrAlreadyCompleted:
		respondError(w, http.StatusConflict, "session_closed")
	case services.ErrNotRefundable:
		respondError(w, http.StatusConflict, "not_refundable")
	default:
		respondError(w, http.StatusInternalServerError, "consultation_failed")
	}
}
