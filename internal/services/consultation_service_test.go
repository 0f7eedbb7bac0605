package services

import (
	"context"
	"database/sql"
	"testing"

	"telemed/internal/store"

	"github.com/jmoiron/sqlx"
)

type stubSessions struct {
	createFn        func(ctx context.Context, tx store.Execer, input store.SessionInput) (int64, error)
	getByIDFn       func(ctx context.Context, sessionID string) (store.Session, error)
	markPendingFn   func(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	markCompletedFn func(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	markCancelledFn func(ctx context.Context, tx store.Execer, sessionID string) (int64, error)
	activeForPairFn func(ctx context.Context, doctorID, patientID string) (bool, error)
}

func (s stubSessions) CreateIfAvailable(ctx context.Context, tx store.Execer, input store.SessionInput) (int64, error) {
	if s.createFn == nil {
		return 1, nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubSessions) GetByID(ctx context.Context, sessionID string) (store.Session, error) {
	if s.getByIDFn == nil {
		return store.Session{}, sql.ErrNoRows
	}
	return s.getByIDFn(ctx, sessionID)
}

func (s stubSessions) MarkInProgress(context.Context, store.Execer, string) (int64, error) {
	return 1, nil
}

func (s stubSessions) MarkPending(ctx context.Context, tx store.Execer, sessionID string) (int64, error) {
	if s.markPendingFn == nil {
		return 1, nil
	}
	return s.markPendingFn(ctx, tx, sessionID)
}

func (s stubSessions) MarkCompleted(ctx context.Context, tx store.Execer, sessionID string) (int64, error) {
	if s.markCompletedFn == nil {
		return 1, nil
	}
	return s.markCompletedFn(ctx, tx, sessionID)
}

func (s stubSessions) MarkCancelled(ctx context.Context, tx store.Execer, sessionID string) (int64, error) {
	if s.markCancelledFn == nil {
		return 1, nil
	}
	return s.markCancelledFn(ctx, tx, sessionID)
}

func (s stubSessions) ActiveForPair(ctx context.Context, doctorID, patientID string) (bool, error) {
	if s.activeForPairFn == nil {
		return false, nil
	}
	return s.activeForPairFn(ctx, doctorID, patientID)
}

func (s stubSessions) MostRecentActiveForUser(context.Context, string) (store.Session, error) {
	return store.Session{}, sql.ErrNoRows
}

func (s stubSessions) ListByUser(context.Context, string, int, int) ([]store.Session, error) {
	return nil, nil
}

type stubConversations struct {
	messages []string
}

func (s *stubConversations) FindOrCreate(_ context.Context, _ store.Tx, id, _, _ string) (string, error) {
	return "conv-1", nil
}

func (s *stubConversations) AddMessage(_ context.Context, _ store.Execer, _, _ string, _ *string, body string) error {
	s.messages = append(s.messages, body)
	return nil
}

func (s *stubConversations) ListMessages(context.Context, string, int, int) ([]map[string]any, error) {
	return nil, nil
}

type stubPrescriptions struct {
	hasActiveLabFn func(ctx context.Context, sessionID string) (bool, error)
}

func (s stubPrescriptions) Create(context.Context, store.Execer, store.PrescriptionInput) error {
	return nil
}

func (s stubPrescriptions) HasActiveLab(ctx context.Context, sessionID string) (bool, error) {
	if s.hasActiveLabFn == nil {
		return false, nil
	}
	return s.hasActiveLabFn(ctx, sessionID)
}

func (s stubPrescriptions) UpdateStatus(context.Context, store.Execer, string, string, string) (int64, error) {
	return 1, nil
}

func (s stubPrescriptions) ListBySession(context.Context, string) ([]store.Prescription, error) {
	return nil, nil
}

type stubProviders struct {
	fees map[string]int64
}

func (s stubProviders) SpecialtyFee(_ context.Context, _, name string) (int64, error) {
	fee, ok := s.fees[name]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return fee, nil
}

type stubEscrow struct {
	holds    []int64
	released []string
	refunded []string
	holdErr  error
	holdID   string
}

func (s *stubEscrow) HoldFundsTx(_ context.Context, _ *sqlx.Tx, _, _ string, amount int64) (string, error) {
	if s.holdErr != nil {
		return "", s.holdErr
	}
	s.holds = append(s.holds, amount)
	if s.holdID == "" {
		return "escrow-1", nil
	}
	return s.holdID, nil
}

func (s *stubEscrow) ReleaseFundsTx(_ context.Context, _ *sqlx.Tx, transactionID string) error {
	s.released = append(s.released, transactionID)
	return nil
}

func (s *stubEscrow) RefundFundsTx(_ context.Context, _ *sqlx.Tx, transactionID string) error {
	s.refunded = append(s.refunded, transactionID)
	return nil
}

func defaultUsers() stubUsers {
	return stubUsers{users: map[string]store.User{
		"patient-1": {ID: "patient-1", Email: "patient@example.com", Role: "patient", WalletBalance: 5000},
		"doctor-1":  {ID: "doctor-1", Email: "doctor@example.com", Role: "doctor"},
	}}
}

func activeSession(status string) store.Session {
	return store.Session{
		ID: "session-1", DoctorID: "doctor-1", PatientID: "patient-1",
		Status: status, EscrowTransactionID: "escrow-1", ConversationID: "conv-1",
	}
}

func TestBookHoldsFeeAndCreatesSession(t *testing.T) {
	escrow := &stubEscrow{}
	hub := &stubHub{}
	service := NewConsultationService(fakeTxRunner{}, stubSessions{}, &stubConversations{}, stubPrescriptions{},
		stubProviders{fees: map[string]int64{"cardiology": 3000}}, defaultUsers(), escrow, hub, &stubNotifier{})
	booked, err := service.Book(context.Background(), BookRequest{PatientID: "patient-1", DoctorID: "doctor-1", Specialty: "cardiology"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(escrow.holds) != 1 || escrow.holds[0] != 3000 {
		t.Fatalf("expected a single hold of the fee, got %#v", escrow.holds)
	}
	if booked.EscrowID != "escrow-1" || booked.Fee != 3000 {
		t.Fatalf("unexpected booking: %#v", booked)
	}
	if len(hub.events["patient-1"]) != 1 || len(hub.events["doctor-1"]) != 1 {
		t.Fatalf("both parties should be notified: %#v", hub.events)
	}
}

func TestBookRejectsUnknownSpecialty(t *testing.T) {
	escrow := &stubEscrow{}
	service := NewConsultationService(fakeTxRunner{}, stubSessions{}, &stubConversations{}, stubPrescriptions{},
		stubProviders{fees: map[string]int64{}}, defaultUsers(), escrow, &stubHub{}, &stubNotifier{})
	_, err := service.Book(context.Background(), BookRequest{PatientID: "patient-1", DoctorID: "doctor-1", Specialty: "cardiology"})
	if err != ErrInvalidFee {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	if len(escrow.holds) != 0 {
		t.Fatalf("no funds should be held: %#v", escrow.holds)
	}
}

func TestBookRejectsExistingPairSession(t *testing.T) {
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		activeForPairFn: func(context.Context, string, string) (bool, error) { return true, nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{fees: map[string]int64{"cardiology": 3000}}, defaultUsers(), &stubEscrow{}, &stubHub{}, &stubNotifier{})
	_, err := service.Book(context.Background(), BookRequest{PatientID: "patient-1", DoctorID: "doctor-1", Specialty: "cardiology"})
	if err != ErrActiveSessionExists {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}
}

func TestBookBusyDoctorRollsBackHold(t *testing.T) {
	escrow := &stubEscrow{}
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		createFn: func(context.Context, store.Execer, store.SessionInput) (int64, error) { return 0, nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{fees: map[string]int64{"cardiology": 3000}}, defaultUsers(), escrow, &stubHub{}, &stubNotifier{})
	_, err := service.Book(context.Background(), BookRequest{PatientID: "patient-1", DoctorID: "doctor-1", Specialty: "cardiology"})
	if err != ErrDoctorUnavailable {
		t.Fatalf("expected ErrDoctorUnavailable, got %v", err)
	}
}

func TestBookSuspendedPatient(t *testing.T) {
	users := stubUsers{users: map[string]store.User{
		"patient-1": {ID: "patient-1", Role: "patient", IsSuspended: true},
		"doctor-1":  {ID: "doctor-1", Role: "doctor"},
	}}
	service := NewConsultationService(fakeTxRunner{}, stubSessions{}, &stubConversations{}, stubPrescriptions{},
		stubProviders{fees: map[string]int64{"cardiology": 3000}}, users, &stubEscrow{}, &stubHub{}, &stubNotifier{})
	_, err := service.Book(context.Background(), BookRequest{PatientID: "patient-1", DoctorID: "doctor-1", Specialty: "cardiology"})
	if err != ErrSuspended {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
}

func TestCompleteReleasesEscrow(t *testing.T) {
	escrow := &stubEscrow{}
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn: func(context.Context, string) (store.Session, error) { return activeSession("in-progress"), nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{}, defaultUsers(), escrow, &stubHub{}, &stubNotifier{})
	status, err := service.Complete(context.Background(), "doctor-1", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "completed" {
		t.Fatalf("expected completed, got %s", status)
	}
	if len(escrow.released) != 1 || escrow.released[0] != "escrow-1" {
		t.Fatalf("escrow should be released once: %#v", escrow.released)
	}
}

func TestCompleteWithActiveLabParksSession(t *testing.T) {
	escrow := &stubEscrow{}
	parked := false
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn:     func(context.Context, string) (store.Session, error) { return activeSession("in-progress"), nil },
		markPendingFn: func(context.Context, store.Execer, string) (int64, error) { parked = true; return 1, nil },
	}, &stubConversations{}, stubPrescriptions{
		hasActiveLabFn: func(context.Context, string) (bool, error) { return true, nil },
	}, stubProviders{}, defaultUsers(), escrow, &stubHub{}, &stubNotifier{})
	status, err := service.Complete(context.Background(), "doctor-1", "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "pending" || !parked {
		t.Fatalf("session should be parked pending laboratory results")
	}
	if len(escrow.released) != 0 {
		t.Fatalf("escrow must stay held while laboratory work is open: %#v", escrow.released)
	}
}

func TestCompleteClosedSession(t *testing.T) {
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn: func(context.Context, string) (store.Session, error) { return activeSession("completed"), nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{}, defaultUsers(), &stubEscrow{}, &stubHub{}, &stubNotifier{})
	_, err := service.Complete(context.Background(), "doctor-1", "session-1")
	if err != ErrAlreadyCompleted {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestCompleteByNonDoctor(t *testing.T) {
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn: func(context.Context, string) (store.Session, error) { return activeSession("in-progress"), nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{}, defaultUsers(), &stubEscrow{}, &stubHub{}, &stubNotifier{})
	_, err := service.Complete(context.Background(), "patient-1", "session-1")
	if err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestCancelRefundsPatient(t *testing.T) {
	escrow := &stubEscrow{}
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn: func(context.Context, string) (store.Session, error) { return activeSession("scheduled"), nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{}, defaultUsers(), escrow, &stubHub{}, &stubNotifier{})
	if err := service.Cancel(context.Background(), "patient-1", "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(escrow.refunded) != 1 || escrow.refunded[0] != "escrow-1" {
		t.Fatalf("escrow should be refunded once: %#v", escrow.refunded)
	}
}

func TestCancelClosedSessionNotRefundable(t *testing.T) {
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn:       func(context.Context, string) (store.Session, error) { return activeSession("pending"), nil },
		markCancelledFn: func(context.Context, store.Execer, string) (int64, error) { return 0, nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{}, defaultUsers(), &stubEscrow{}, &stubHub{}, &stubNotifier{})
	if err := service.Cancel(context.Background(), "patient-1", "session-1"); err != ErrNotRefundable {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}
}

func TestCancelByStranger(t *testing.T) {
	service := NewConsultationService(fakeTxRunner{}, stubSessions{
		getByIDFn: func(context.Context, string) (store.Session, error) { return activeSession("scheduled"), nil },
	}, &stubConversations{}, stubPrescriptions{},
		stubProviders{}, defaultUsers(), &stubEscrow{}, &stubHub{}, &stubNotifier{})
	if err := service.Cancel(context.Background(), "someone-else", "session-1"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}
