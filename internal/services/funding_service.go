package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"telemed/internal/db"
	"telemed/internal/money"
	"telemed/internal/payments"
	"telemed/internal/store"
	"telemed/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownCustomer  = errors.New("no user for webhook customer email")
	ErrChargeUnpaid     = errors.New("charge has not been paid")
)

type Charger interface {
	Charge(ctx context.Context, email string, amountMinor int64) (payments.ChargeAuthorization, error)
	VerifyCharge(ctx context.Context, reference string) (payments.ChargeVerification, error)
}

type FundingTransactionStore interface {
	CreateFunding(ctx context.Context, tx store.Execer, input store.TransactionInput) (int64, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, userID string) (store.User, error)
	GetByEmail(ctx context.Context, email string) (store.User, error)
}

// FundingService credits wallets from card charges. The processor reference
// is the idempotency key: a webhook and a verify call for the same charge
// credit the wallet once between them.
type FundingService struct {
	txRunner      db.TxRunner
	wallets       WalletStore
	users         UserLookup
	txs           FundingTransactionStore
	events        EventLog
	charger       Charger
	hub           SessionHub
	notifier      Notifier
	webhookSecret string
}

func NewFundingService(txRunner db.TxRunner, wallets WalletStore, users UserLookup, txs FundingTransactionStore, events EventLog, charger Charger, hub SessionHub, notifier Notifier, webhookSecret string) *FundingService {
	return &FundingService{
		txRunner:      txRunner,
		wallets:       wallets,
		users:         users,
		txs:           txs,
		events:        events,
		charger:       charger,
		hub:           hub,
		notifier:      notifier,
		webhookSecret: webhookSecret,
	}
}

func (s *FundingService) Initiate(ctx context.Context, userID string, amount int64) (payments.ChargeAuthorization, error) {
	if amount <= 0 {
		return payments.ChargeAuthorization{}, ErrInvalidAmount
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return payments.ChargeAuthorization{}, err
	}
	if user.IsSuspended {
		return payments.ChargeAuthorization{}, ErrSuspended
	}
	return s.charger.Charge(ctx, user.Email, amount)
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// HandleWebhook processes a processor callback. The raw body is checked
// against the signature header before any parsing.
func (s *FundingService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !payments.VerifySignature(s.webhookSecret, body, signature) {
		return ErrInvalidSignature
	}
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return err
	}
	if event.Event != "charge.success" {
		return nil
	}
	return s.credit(ctx, event.Data.Customer.Email, event.Data.Reference, event.Data.Amount)
}

// Verify confirms a charge from the client redirect. It covers webhooks that
// never arrive; a duplicate of an already-credited reference is a no-op.
func (s *FundingService) Verify(ctx context.Context, userID, reference string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	charge, err := s.charger.VerifyCharge(ctx, reference)
	if err != nil {
		return err
	}
	if !charge.Paid {
		return ErrChargeUnpaid
	}
	return s.credit(ctx, user.Email, reference, charge.Amount)
}

func (s *FundingService) credit(ctx context.Context, email, reference string, amount int64) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnknownCustomer
		}
		return err
	}
	transactionID := uuid.NewString()
	credited := false
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.txs.CreateFunding(ctx, tx, store.TransactionInput{
			ID:        transactionID,
			UserID:    user.ID,
			Amount:    amount,
			Reference: &reference,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		if err := s.wallets.Credit(ctx, tx, user.ID, amount); err != nil {
			return err
		}
		credited = true
		return s.events.Append(ctx, tx, transactionID, nil, "", "success", "wallet funded via card charge")
	})
	if err != nil {
		return err
	}
	if credited {
		s.notifier.Enqueue(ctx, user.Email, "Wallet funded",
			"Your wallet has been credited with "+money.FormatMinor(amount)+".")
		s.hub.Broadcast(user.ID, websocket.SessionEvent{Type: "wallet_funded", Message: money.FormatMinor(amount)})
	}
	return nil
}
