package services

import (
	"context"
	"errors"

	"telemed/internal/db"
	"telemed/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrNotHeld             = errors.New("funds are not held in escrow")
)

type WalletStore interface {
	Credit(ctx context.Context, tx store.Execer, userID string, amount int64) error
	Debit(ctx context.Context, tx store.Execer, userID string, amount int64) (int64, error)
}

type EscrowTransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByID(ctx context.Context, transactionID string) (store.Transaction, error)
	UpdateEscrowStatus(ctx context.Context, tx store.Execer, transactionID, from, to string) (int64, error)
}

type EventLog interface {
	Append(ctx context.Context, tx store.Execer, transactionID string, actorID *string, fromStatus, toStatus, detail string) error
}

// EscrowService moves consultation fees between a patient's wallet and a
// doctor's. A hold debits the patient immediately; the money sits on the
// transaction row until exactly one of release or refund wins the
// escrow-status transition.
type EscrowService struct {
	txRunner db.TxRunner
	wallets  WalletStore
	txs      EscrowTransactionStore
	events   EventLog
}

func NewEscrowService(txRunner db.TxRunner, wallets WalletStore, txs EscrowTransactionStore, events EventLog) *EscrowService {
	return &EscrowService{txRunner: txRunner, wallets: wallets, txs: txs, events: events}
}

func (s *EscrowService) HoldFunds(ctx context.Context, patientID, doctorID string, amount int64) (string, error) {
	var transactionID string
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		transactionID, err = s.HoldFundsTx(ctx, tx, patientID, doctorID, amount)
		return err
	})
	if err != nil {
		return "", err
	}
	return transactionID, nil
}

// HoldFundsTx debits the patient and records the held fee inside the caller's
// transaction, so a failed session booking rolls the debit back too.
func (s *EscrowService) HoldFundsTx(ctx context.Context, tx *sqlx.Tx, patientID, doctorID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	affected, err := s.wallets.Debit(ctx, tx, patientID, amount)
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", ErrInsufficientBalance
	}
	transactionID := uuid.NewString()
	held := "held"
	if err := s.txs.Create(ctx, tx, store.TransactionInput{
		ID:           transactionID,
		UserID:       patientID,
		DoctorID:     &doctorID,
		Type:         "consultation_fee",
		Status:       "success",
		EscrowStatus: &held,
		Amount:       amount,
	}); err != nil {
		return "", err
	}
	if err := s.events.Append(ctx, tx, transactionID, &patientID, "", "held", "consultation fee held in escrow"); err != nil {
		return "", err
	}
	return transactionID, nil
}

func (s *EscrowService) ReleaseFunds(ctx context.Context, transactionID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.ReleaseFundsTx(ctx, tx, transactionID)
	})
}

// ReleaseFundsTx credits the doctor with the held fee. ErrNotHeld comes back
// when the escrow was already released or refunded.
func (s *EscrowService) ReleaseFundsTx(ctx context.Context, tx *sqlx.Tx, transactionID string) error {
	txn, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	affected, err := s.txs.UpdateEscrowStatus(ctx, tx, transactionID, "held", "released")
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotHeld
	}
	if txn.DoctorID == nil {
		return errors.New("escrow transaction has no doctor")
	}
	if err := s.wallets.Credit(ctx, tx, *txn.DoctorID, txn.Amount); err != nil {
		return err
	}
	return s.events.Append(ctx, tx, transactionID, nil, "held", "released", "escrow released to doctor")
}

func (s *EscrowService) RefundFunds(ctx context.Context, transactionID string) error {
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.RefundFundsTx(ctx, tx, transactionID)
	})
}

// RefundFundsTx returns the held fee to the patient.
func (s *EscrowService) RefundFundsTx(ctx context.Context, tx *sqlx.Tx, transactionID string) error {
	txn, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	affected, err := s.txs.UpdateEscrowStatus(ctx, tx, transactionID, "held", "refunded")
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotHeld
	}
	if err := s.wallets.Credit(ctx, tx, txn.UserID, txn.Amount); err != nil {
		return err
	}
	return s.events.Append(ctx, tx, transactionID, nil, "held", "refunded", "escrow refunded to patient")
}
