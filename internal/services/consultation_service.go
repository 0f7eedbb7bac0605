package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"telemed/internal/db"
	"telemed/internal/money"
	"telemed/internal/store"
	"telemed/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrActiveSessionExists = errors.New("an active session with this doctor already exists")
	ErrDoctorUnavailable   = errors.New("doctor already has an active session")
	ErrInvalidFee          = errors.New("no fee configured for this specialty")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyCompleted    = errors.New("session already completed")
	ErrNotRefundable       = errors.New("session can no longer be cancelled")
	ErrNotParticipant      = errors.New("user is not part of this session")
	ErrSuspended           = errors.New("account is suspended")
)

type SessionStore interface {
	CreateIfAvailable(ctx context.Context, tx store.Execer, input store.SessionInput) (int64, error)
	GetByID(ctx context.Context, sessionID string) (store.Session, error)
	MarkInProgress(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	MarkPending(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	MarkCompleted(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	MarkCancelled(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	ActiveForPair(ctx context.Context, doctorID, patientID string) (bool, error)
	MostRecentActiveForUser(ctx context.Context, userID string) (store.Session, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]store.Session, error)
}

type ConversationStore interface {
	FindOrCreate(ctx context.Context, tx store.Tx, id, patientID, doctorID string) (string, error)
	AddMessage(ctx context.Context, tx store.Execer, id, conversationID string, senderID *string, body string) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]map[string]any, error)
}

type PrescriptionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.PrescriptionInput) error
	HasActiveLab(ctx context.Context, sessionID string) (bool, error)
	UpdateStatus(ctx context.Context, tx store.Execer, prescriptionID, from, to string) (int64, error)
	ListBySession(ctx context.Context, sessionID string) ([]store.Prescription, error)
}

type ProviderStore interface {
	SpecialtyFee(ctx context.Context, providerID, name string) (int64, error)
}

type UserDirectory interface {
	GetByID(ctx context.Context, userID string) (store.User, error)
	Email(ctx context.Context, userID string) (string, error)
}

type Escrow interface {
	HoldFundsTx(ctx context.Context, tx *sqlx.Tx, patientID, doctorID string, amount int64) (string, error)
	ReleaseFundsTx(ctx context.Context, tx *sqlx.Tx, transactionID string) error
	RefundFundsTx(ctx context.Context, tx *sqlx.Tx, transactionID string) error
}

type SessionHub interface {
	Broadcast(userID string, event websocket.SessionEvent)
}

type Notifier interface {
	Enqueue(ctx context.Context, to, subject, body string)
}

// ConsultationService runs the session lifecycle. Booking holds the fee and
// creates the session in one transaction; completing releases the fee to the
// doctor unless laboratory work is still open; cancelling refunds the patient.
type ConsultationService struct {
	txRunner      db.TxRunner
	sessions      SessionStore
	conversations ConversationStore
	prescriptions PrescriptionStore
	providers     ProviderStore
	users         UserDirectory
	escrow        Escrow
	hub           SessionHub
	notifier      Notifier
}

func NewConsultationService(txRunner db.TxRunner, sessions SessionStore, conversations ConversationStore, prescriptions PrescriptionStore, providers ProviderStore, users UserDirectory, escrow Escrow, hub SessionHub, notifier Notifier) *ConsultationService {
	return &ConsultationService{
		txRunner:      txRunner,
		sessions:      sessions,
		conversations: conversations,
		prescriptions: prescriptions,
		providers:     providers,
		users:         users,
		escrow:        escrow,
		hub:           hub,
		notifier:      notifier,
	}
}

type BookRequest struct {
	PatientID string
	DoctorID  string
	Specialty string
}

type BookedSession struct {
	SessionID      string
	ConversationID string
	EscrowID       string
	Fee            int64
}

func (s *ConsultationService) Book(ctx context.Context, req BookRequest) (BookedSession, error) {
	patient, err := s.users.GetByID(ctx, req.PatientID)
	if err != nil {
		return BookedSession{}, err
	}
	if patient.IsSuspended {
		return BookedSession{}, ErrSuspended
	}
	doctor, err := s.users.GetByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BookedSession{}, ErrSessionNotFound
		}
		return BookedSession{}, err
	}
	if doctor.IsSuspended {
		return BookedSession{}, ErrSuspended
	}
	fee, err := s.providers.SpecialtyFee(ctx, req.DoctorID, req.Specialty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BookedSession{}, ErrInvalidFee
		}
		return BookedSession{}, err
	}
	if fee <= 0 {
		return BookedSession{}, ErrInvalidFee
	}
	active, err := s.sessions.ActiveForPair(ctx, req.DoctorID, req.PatientID)
	if err != nil {
		return BookedSession{}, err
	}
	if active {
		return BookedSession{}, ErrActiveSessionExists
	}

	var booked BookedSession
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		escrowID, err := s.escrow.HoldFundsTx(ctx, tx, req.PatientID, req.DoctorID, fee)
		if err != nil {
			return err
		}
		conversationID, err := s.conversations.FindOrCreate(ctx, tx, uuid.NewString(), req.PatientID, req.DoctorID)
		if err != nil {
			return err
		}
		sessionID := uuid.NewString()
		affected, err := s.sessions.CreateIfAvailable(ctx, tx, store.SessionInput{
			ID:                  sessionID,
			DoctorID:            req.DoctorID,
			PatientID:           req.PatientID,
			EscrowTransactionID: escrowID,
			ConversationID:      conversationID,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrDoctorUnavailable
		}
		body := fmt.Sprintf("Consultation scheduled. A fee of %s is held in escrow until the session ends.", money.FormatMinor(fee))
		if err := s.conversations.AddMessage(ctx, tx, uuid.NewString(), conversationID, nil, body); err != nil {
			return err
		}
		booked = BookedSession{SessionID: sessionID, ConversationID: conversationID, EscrowID: escrowID, Fee: fee}
		return nil
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return BookedSession{}, ErrActiveSessionExists
		}
		return BookedSession{}, err
	}

	s.notifySession(ctx, req.PatientID, "Consultation scheduled", "Your consultation has been scheduled and the fee is held in escrow.")
	s.notifySession(ctx, req.DoctorID, "New consultation", "A patient has booked a consultation with you.")
	event := websocket.SessionEvent{SessionID: booked.SessionID, Type: "scheduled", Message: "consultation scheduled"}
	s.hub.Broadcast(req.PatientID, event)
	s.hub.Broadcast(req.DoctorID, event)
	return booked, nil
}

func (s *ConsultationService) Start(ctx context.Context, doctorID, sessionID string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.DoctorID != doctorID {
		return ErrNotParticipant
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.sessions.MarkInProgress(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrAlreadyCompleted
		}
		return nil
	})
	if err != nil {
		return err
	}
	event := websocket.SessionEvent{SessionID: sessionID, Type: "in-progress", Message: "consultation started"}
	s.hub.Broadcast(session.PatientID, event)
	s.hub.Broadcast(session.DoctorID, event)
	return nil
}

// Complete ends a session. With an open laboratory prescription the session
// parks as pending and the escrow stays held; otherwise the session closes
// and the fee moves to the doctor. Calling it again on a parked session after
// the laboratory finishes performs the close.
func (s *ConsultationService) Complete(ctx context.Context, doctorID, sessionID string) (string, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.DoctorID != doctorID {
		return "", ErrNotParticipant
	}
	if session.Status == "completed" || session.Status == "cancelled" {
		return "", ErrAlreadyCompleted
	}

	hasLab, err := s.prescriptions.HasActiveLab(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if hasLab {
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			affected, err := s.sessions.MarkPending(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if affected == 0 {
				return ErrAlreadyCompleted
			}
			return s.conversations.AddMessage(ctx, tx, uuid.NewString(), session.ConversationID, nil,
				"Consultation is pending laboratory results. The fee remains in escrow.")
		})
		if err != nil {
			return "", err
		}
		event := websocket.SessionEvent{SessionID: sessionID, Type: "pending", Message: "awaiting laboratory results"}
		s.hub.Broadcast(session.PatientID, event)
		s.hub.Broadcast(session.DoctorID, event)
		return "pending", nil
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.sessions.MarkCompleted(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrAlreadyCompleted
		}
		if err := s.escrow.ReleaseFundsTx(ctx, tx, session.EscrowTransactionID); err != nil && !errors.Is(err, ErrNotHeld) {
			return err
		}
		return s.conversations.AddMessage(ctx, tx, uuid.NewString(), session.ConversationID, nil,
			"Consultation completed. The fee has been released to the doctor.")
	})
	if err != nil {
		return "", err
	}
	s.notifySession(ctx, session.PatientID, "Consultation completed", "Your consultation has been completed.")
	s.notifySession(ctx, session.DoctorID, "Consultation completed", "The consultation fee has been released to your wallet.")
	event := websocket.SessionEvent{SessionID: sessionID, Type: "completed", Message: "consultation completed"}
	s.hub.Broadcast(session.PatientID, event)
	s.hub.Broadcast(session.DoctorID, event)
	return "completed", nil
}

// Cancel refunds the patient. Only sessions whose fee is still held can be
// cancelled; anything past that returns ErrNotRefundable.
func (s *ConsultationService) Cancel(ctx context.Context, actorID, sessionID string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.PatientID != actorID && session.DoctorID != actorID {
		return ErrNotParticipant
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.sessions.MarkCancelled(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotRefundable
		}
		if err := s.escrow.RefundFundsTx(ctx, tx, session.EscrowTransactionID); err != nil {
			if errors.Is(err, ErrNotHeld) {
				return ErrNotRefundable
			}
			return err
		}
		return s.conversations.AddMessage(ctx, tx, uuid.NewString(), session.ConversationID, nil,
			"Consultation cancelled. The fee has been refunded.")
	})
	if err != nil {
		return err
	}
	s.notifySession(ctx, session.PatientID, "Consultation cancelled", "Your consultation was cancelled and the fee refunded to your wallet.")
	s.notifySession(ctx, session.DoctorID, "Consultation cancelled", "A consultation was cancelled.")
	event := websocket.SessionEvent{SessionID: sessionID, Type: "cancelled", Message: "consultation cancelled"}
	s.hub.Broadcast(session.PatientID, event)
	s.hub.Broadcast(session.DoctorID, event)
	return nil
}

type PrescribeRequest struct {
	DoctorID  string
	SessionID string
	Kind      string
	Details   string
}

func (s *ConsultationService) Prescribe(ctx context.Context, req PrescribeRequest) (string, error) {
	session, err := s.loadSession(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	if session.DoctorID != req.DoctorID {
		return "", ErrNotParticipant
	}
	if session.Status != "scheduled" && session.Status != "in-progress" {
		return "", ErrAlreadyCompleted
	}
	prescriptionID := uuid.NewString()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.prescriptions.Create(ctx, tx, store.PrescriptionInput{
			ID:        prescriptionID,
			SessionID: req.SessionID,
			DoctorID:  req.DoctorID,
			PatientID: session.PatientID,
			Kind:      req.Kind,
			Details:   req.Details,
		}); err != nil {
			return err
		}
		return s.conversations.AddMessage(ctx, tx, uuid.NewString(), session.ConversationID, nil,
			"A "+req.Kind+" prescription was issued.")
	})
	if err != nil {
		return "", err
	}
	return prescriptionID, nil
}

// CompletePrescription is called by the pharmacy or laboratory handling it.
func (s *ConsultationService) CompletePrescription(ctx context.Context, prescriptionID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.prescriptions.UpdateStatus(ctx, tx, prescriptionID, "in-progress", "completed")
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

func (s *ConsultationService) SendMessage(ctx context.Context, senderID, sessionID, body string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.PatientID != senderID && session.DoctorID != senderID {
		return ErrNotParticipant
	}
	if session.Status == "completed" || session.Status == "cancelled" {
		return ErrAlreadyCompleted
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.conversations.AddMessage(ctx, tx, uuid.NewString(), session.ConversationID, &senderID, body)
	})
	if err != nil {
		return err
	}
	recipient := session.PatientID
	if senderID == session.PatientID {
		recipient = session.DoctorID
	}
	s.hub.Broadcast(recipient, websocket.SessionEvent{SessionID: sessionID, Type: "message", Message: body})
	return nil
}

func (s *ConsultationService) Messages(ctx context.Context, userID, sessionID string, limit, offset int) ([]map[string]any, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PatientID != userID && session.DoctorID != userID {
		return nil, ErrNotParticipant
	}
	return s.conversations.ListMessages(ctx, session.ConversationID, limit, offset)
}

func (s *ConsultationService) Get(ctx context.Context, userID, sessionID string) (store.Session, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if session.PatientID != userID && session.DoctorID != userID {
		return store.Session{}, ErrNotParticipant
	}
	return session, nil
}

func (s *ConsultationService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]store.Session, error) {
	return s.sessions.ListByUser(ctx, userID, limit, offset)
}

// MostRecentActive returns the caller's newest open session, so a client can
// resume after a reconnect without listing everything.
func (s *ConsultationService) MostRecentActive(ctx context.Context, userID string) (store.Session, error) {
	session, err := s.sessions.MostRecentActiveForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *ConsultationService) Prescriptions(ctx context.Context, userID, sessionID string) ([]store.Prescription, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PatientID != userID && session.DoctorID != userID {
		return nil, ErrNotParticipant
	}
	return s.prescriptions.ListBySession(ctx, sessionID)
}

func (s *ConsultationService) loadSession(ctx context.Context, sessionID string) (store.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *ConsultationService) notifySession(ctx context.Context, userID, subject, body string) {
	email, err := s.users.Email(ctx, userID)
	if err != nil {
		return
	}
	s.notifier.Enqueue(ctx, email, subject, body)
}
