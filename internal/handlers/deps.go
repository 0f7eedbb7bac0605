package handlers

import (
	"context"

	"telemed/internal/payments"
	"telemed/internal/services"
	"telemed/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash, role string) error
	GetByEmail(ctx context.Context, email string) (store.User, error)
	GetByID(ctx context.Context, userID string) (store.User, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Credit(ctx context.Context, tx store.Execer, userID string, amount int64) error
	Debit(ctx context.Context, tx store.Execer, userID string, amount int64) (int64, error)
	SetSuspended(ctx context.Context, tx store.Execer, userID string, suspended bool) (int64, error)
}

type ProviderStore interface {
	CreateProfile(ctx context.Context, tx store.Execer, userID, kind, about string) error
	UpsertSpecialty(ctx context.Context, tx store.Execer, id, providerID, name string, fee int64) error
	ListSpecialties(ctx context.Context, providerID string) ([]store.Specialty, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByID(ctx context.Context, transactionID string) (store.Transaction, error)
	ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]store.Transaction, error)
	ListByStatus(ctx context.Context, txType, status string, limit int) ([]store.Transaction, error)
	ListVerificationNeeded(ctx context.Context) ([]store.Transaction, error)
}

type EventStore interface {
	Append(ctx context.Context, tx store.Execer, transactionID string, actorID *string, fromStatus, toStatus, detail string) error
	ListByTransaction(ctx context.Context, transactionID string) ([]map[string]any, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	Promote(ctx context.Context, tx store.Execer, userID string) error
	HasAnyAdmin(ctx context.Context) (bool, error)
}

type ConsultationService interface {
	Book(ctx context.Context, req services.BookRequest) (services.BookedSession, error)
	Start(ctx context.Context, doctorID, sessionID string) error
	Complete(ctx context.Context, doctorID, sessionID string) (string, error)
	Cancel(ctx context.Context, actorID, sessionID string) error
	Prescribe(ctx context.Context, req services.PrescribeRequest) (string, error)
	CompletePrescription(ctx context.Context, prescriptionID string) error
	SendMessage(ctx context.Context, senderID, sessionID, body string) error
	Messages(ctx context.Context, userID, sessionID string, limit, offset int) ([]map[string]any, error)
	Get(ctx context.Context, userID, sessionID string) (store.Session, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]store.Session, error)
	MostRecentActive(ctx context.Context, userID string) (store.Session, error)
	Prescriptions(ctx context.Context, userID, sessionID string) ([]store.Prescription, error)
}

type WithdrawalService interface {
	Request(ctx context.Context, req services.WithdrawalRequest) (string, error)
	Approve(ctx context.Context, adminID, transactionID string) error
	Finalize(ctx context.Context, adminID, transactionID, otp string) error
	CheckStatus(ctx context.Context, adminID, transactionID string) error
}

type FundingService interface {
	Initiate(ctx context.Context, userID string, amount int64) (payments.ChargeAuthorization, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	Verify(ctx context.Context, userID, reference string) error
}
