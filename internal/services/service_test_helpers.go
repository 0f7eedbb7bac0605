package services

import (
	"context"
	"database/sql"
	"sync"

	"telemed/internal/payments"
	"telemed/internal/store"
	"telemed/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubWallets struct {
	mu      sync.Mutex
	credits map[string]int64
	debits  map[string]int64
	debitFn func(ctx context.Context, tx store.Execer, userID string, amount int64) (int64, error)
}

func (s *stubWallets) Credit(_ context.Context, _ store.Execer, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credits == nil {
		s.credits = map[string]int64{}
	}
	s.credits[userID] += amount
	return nil
}

func (s *stubWallets) Debit(ctx context.Context, tx store.Execer, userID string, amount int64) (int64, error) {
	if s.debitFn != nil {
		return s.debitFn(ctx, tx, userID, amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debits == nil {
		s.debits = map[string]int64{}
	}
	s.debits[userID] += amount
	return 1, nil
}

type stubEscrowTxStore struct {
	createFn       func(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	getByIDFn      func(ctx context.Context, transactionID string) (store.Transaction, error)
	updateEscrowFn func(ctx context.Context, tx store.Execer, transactionID, from, to string) (int64, error)
}

func (s stubEscrowTxStore) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubEscrowTxStore) GetByID(ctx context.Context, transactionID string) (store.Transaction, error) {
	if s.getByIDFn == nil {
		return store.Transaction{ID: transactionID}, nil
	}
	return s.getByIDFn(ctx, transactionID)
}

func (s stubEscrowTxStore) UpdateEscrowStatus(ctx context.Context, tx store.Execer, transactionID, from, to string) (int64, error) {
	if s.updateEscrowFn == nil {
		return 1, nil
	}
	return s.updateEscrowFn(ctx, tx, transactionID, from, to)
}

type eventRecord struct {
	transactionID string
	fromStatus    string
	toStatus      string
	detail        string
}

type stubEvents struct {
	mu      sync.Mutex
	records []eventRecord
}

func (s *stubEvents) Append(_ context.Context, _ store.Execer, transactionID string, _ *string, fromStatus, toStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, eventRecord{transactionID: transactionID, fromStatus: fromStatus, toStatus: toStatus, detail: detail})
	return nil
}

type stubHub struct {
	mu     sync.Mutex
	events map[string][]websocket.SessionEvent
}

func (s *stubHub) Broadcast(userID string, event websocket.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = map[string][]websocket.SessionEvent{}
	}
	s.events[userID] = append(s.events[userID], event)
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubNotifier) Enqueue(_ context.Context, to, subject, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+": "+subject)
}

type stubUsers struct {
	users map[string]store.User
}

func (s stubUsers) GetByID(_ context.Context, userID string) (store.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s stubUsers) GetByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (s stubUsers) Email(_ context.Context, userID string) (string, error) {
	user, ok := s.users[userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return user.Email, nil
}

func (s stubUsers) Balance(_ context.Context, userID string) (int64, error) {
	user, ok := s.users[userID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return user.WalletBalance, nil
}

type stubProcessor struct {
	validateAccountFn func(ctx context.Context, accountNumber, bankCode string) (string, error)
	submitOTPFn       func(ctx context.Context, otp, transferCode string) payments.OTPResult
	transferStatusFn  func(ctx context.Context, transferCode string) (string, error)
	statusCalls       int
}

func (s *stubProcessor) ValidateAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	if s.validateAccountFn == nil {
		return "ACCOUNT NAME", nil
	}
	return s.validateAccountFn(ctx, accountNumber, bankCode)
}

func (s *stubProcessor) CreateTransferRecipient(context.Context, string, string, string) (string, error) {
	return "RCP_test", nil
}

func (s *stubProcessor) InitiateTransfer(context.Context, int64, string, string) (string, error) {
	return "TRF_test", nil
}

func (s *stubProcessor) SubmitOTP(ctx context.Context, otp, transferCode string) payments.OTPResult {
	if s.submitOTPFn == nil {
		return payments.OTPResult{Outcome: payments.OutcomeSuccess}
	}
	return s.submitOTPFn(ctx, otp, transferCode)
}

func (s *stubProcessor) TransferStatus(ctx context.Context, transferCode string) (string, error) {
	s.statusCalls++
	if s.transferStatusFn == nil {
		return "success", nil
	}
	return s.transferStatusFn(ctx, transferCode)
}
