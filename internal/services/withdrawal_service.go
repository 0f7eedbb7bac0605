package services

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"telemed/internal/db"
	"telemed/internal/money"
	"telemed/internal/payments"
	"telemed/internal/store"
	"telemed/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotProvider         = errors.New("only provider accounts can withdraw")
	ErrAlreadyProcessed    = errors.New("withdrawal already processed")
	ErrNotProcessing       = errors.New("withdrawal is not awaiting finalization")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrStillPending        = errors.New("transfer still pending with the processor")
	ErrInvalidAccount      = errors.New("could not validate bank account")
)

// errSettleInsufficient signals that the wallet no longer covers the payout
// at settlement time; the withdrawal is parked for manual review instead of
// debiting the wallet below zero.
var errSettleInsufficient = errors.New("balance insufficient at settlement")

type WithdrawalTransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByID(ctx context.Context, transactionID string) (store.Transaction, error)
	UpdateStatus(ctx context.Context, tx store.Execer, transactionID, from, to string) (int64, error)
	MarkSuccess(ctx context.Context, tx store.Execer, transactionID, from string) (int64, error)
	SetTransferCodes(ctx context.Context, tx store.Execer, transactionID, transferCode, recipientCode string) error
}

type Processor interface {
	ValidateAccount(ctx context.Context, accountNumber, bankCode string) (string, error)
	CreateTransferRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, amountMinor int64, recipientCode, reason string) (string, error)
	SubmitOTP(ctx context.Context, otp, transferCode string) payments.OTPResult
	TransferStatus(ctx context.Context, transferCode string) (string, error)
}

type WalletReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
	GetByID(ctx context.Context, userID string) (store.User, error)
	Email(ctx context.Context, userID string) (string, error)
}

// WithdrawalService pays wallet balances out to bank accounts. The wallet is
// debited only at settlement, once the processor confirms the transfer, so a
// failed payout never strands money outside the wallet. Processor calls run
// outside database transactions.
type WithdrawalService struct {
	txRunner  db.TxRunner
	wallets   WalletStore
	users     WalletReader
	txs       WithdrawalTransactionStore
	events    EventLog
	processor Processor
	notifier  Notifier
}

func NewWithdrawalService(txRunner db.TxRunner, wallets WalletStore, users WalletReader, txs WithdrawalTransactionStore, events EventLog, processor Processor, notifier Notifier) *WithdrawalService {
	return &WithdrawalService{
		txRunner:  txRunner,
		wallets:   wallets,
		users:     users,
		txs:       txs,
		events:    events,
		processor: processor,
		notifier:  notifier,
	}
}

type WithdrawalRequest struct {
	UserID        string
	Amount        int64
	AccountNumber string
	BankName      string
	BankCode      string
}

func (s *WithdrawalService) Request(ctx context.Context, req WithdrawalRequest) (string, error) {
	if req.Amount <= 0 {
		return "", ErrInvalidAmount
	}
	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	if user.IsSuspended {
		return "", ErrSuspended
	}
	if !validator.IsProviderRole(user.Role) {
		return "", ErrNotProvider
	}
	if user.WalletBalance < req.Amount {
		return "", ErrInsufficientBalance
	}
	transactionID := uuid.NewString()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.txs.Create(ctx, tx, store.TransactionInput{
			ID:            transactionID,
			UserID:        req.UserID,
			Type:          "withdrawal",
			Status:        "pending",
			Amount:        req.Amount,
			AccountNumber: &req.AccountNumber,
			BankName:      &req.BankName,
			BankCode:      &req.BankCode,
		}); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, transactionID, &req.UserID, "", "pending", "withdrawal requested")
	})
	if err != nil {
		return "", err
	}
	s.notifier.Enqueue(ctx, user.Email, "Withdrawal requested",
		"Your withdrawal of "+money.FormatMinor(req.Amount)+" is awaiting approval.")
	return transactionID, nil
}

// Approve claims a pending withdrawal and sets up the transfer with the
// processor. The claim commits before any external call so two admins cannot
// both push the same payout.
func (s *WithdrawalService) Approve(ctx context.Context, adminID, transactionID string) error {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return err
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.txs.UpdateStatus(ctx, tx, transactionID, "pending", "processing")
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrAlreadyProcessed
		}
		return s.events.Append(ctx, tx, transactionID, &adminID, "pending", "processing", "withdrawal approved")
	})
	if err != nil {
		return err
	}

	accountName, err := s.processor.ValidateAccount(ctx, derefOrEmpty(txn.AccountNumber), derefOrEmpty(txn.BankCode))
	if err != nil {
		s.fail(ctx, &adminID, transactionID, "processing", "account validation failed: "+err.Error())
		return ErrInvalidAccount
	}
	recipientCode, err := s.processor.CreateTransferRecipient(ctx, accountName, derefOrEmpty(txn.AccountNumber), derefOrEmpty(txn.BankCode))
	if err != nil {
		s.fail(ctx, &adminID, transactionID, "processing", "recipient creation failed: "+err.Error())
		return ErrTransferFailed
	}
	transferCode, err := s.processor.InitiateTransfer(ctx, txn.Amount, recipientCode, "wallet withdrawal")
	if err != nil {
		s.fail(ctx, &adminID, transactionID, "processing", "transfer initiation failed: "+err.Error())
		return ErrTransferFailed
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.txs.SetTransferCodes(ctx, tx, transactionID, transferCode, recipientCode)
	})
	if err != nil {
		return err
	}
	s.notifyUser(ctx, txn.UserID, "Withdrawal approved",
		"Your withdrawal was approved. Enter the OTP sent to you to complete it.")
	return nil
}

// Finalize submits the transfer OTP on behalf of the approving admin; once a
// withdrawal is processing, only admins or the reconciler can resolve it.
// A clear processor verdict settles or
// fails the withdrawal; an ambiguous one parks it as verification_needed and
// immediately asks the processor for the transfer's real state once.
func (s *WithdrawalService) Finalize(ctx context.Context, adminID, transactionID, otp string) error {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status != "processing" || txn.TransferCode == nil {
		return ErrNotProcessing
	}
	balance, err := s.users.Balance(ctx, txn.UserID)
	if err != nil {
		return err
	}
	if balance < txn.Amount {
		s.fail(ctx, &adminID, transactionID, "processing", "balance no longer covers withdrawal")
		return ErrInsufficientBalance
	}

	result := s.processor.SubmitOTP(ctx, otp, *txn.TransferCode)
	switch result.Outcome {
	case payments.OutcomeSuccess:
		return s.settle(ctx, &adminID, transactionID, "processing")
	case payments.OutcomeFailed:
		s.fail(ctx, &adminID, transactionID, "processing", "otp rejected: "+result.Reason)
		s.notifyUser(ctx, txn.UserID, "Withdrawal failed", "Your withdrawal could not be completed.")
		return ErrTransferFailed
	default:
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := s.txs.UpdateStatus(ctx, tx, transactionID, "processing", "verification_needed"); err != nil {
				return err
			}
			return s.events.Append(ctx, tx, transactionID, &adminID, "processing", "verification_needed",
				"otp outcome unclear: "+result.Reason)
		})
		if err != nil {
			return err
		}
		return s.CheckStatus(ctx, "", transactionID)
	}
}

// CheckStatus asks the processor for the transfer's settled state and applies
// it. An empty adminID means the reconciler is calling. Safe to repeat; an
// already settled withdrawal is left alone.
func (s *WithdrawalService) CheckStatus(ctx context.Context, adminID, transactionID string) error {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status == "success" || txn.Status == "failed" {
		return nil
	}
	if txn.TransferCode == nil {
		return ErrNotProcessing
	}
	var actor *string
	if adminID != "" {
		actor = &adminID
	}
	status, err := s.processor.TransferStatus(ctx, *txn.TransferCode)
	if err != nil {
		return err
	}
	switch status {
	case "success":
		return s.settle(ctx, actor, transactionID, txn.Status)
	case "failed":
		s.fail(ctx, actor, transactionID, txn.Status, "processor reported transfer failed")
		s.notifyUser(ctx, txn.UserID, "Withdrawal failed", "Your withdrawal could not be completed.")
		return nil
	default:
		return ErrStillPending
	}
}

// settle marks the withdrawal successful and debits the wallet in one
// transaction. The status CAS makes settlement exactly-once no matter how
// many paths race to confirm the same transfer.
func (s *WithdrawalService) settle(ctx context.Context, actorID *string, transactionID, fromStatus string) error {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return err
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.txs.MarkSuccess(ctx, tx, transactionID, fromStatus)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		debited, err := s.wallets.Debit(ctx, tx, txn.UserID, txn.Amount)
		if err != nil {
			return err
		}
		if debited == 0 {
			return errSettleInsufficient
		}
		return s.events.Append(ctx, tx, transactionID, actorID, fromStatus, "success", "withdrawal settled")
	})
	if errors.Is(err, errSettleInsufficient) {
		parkErr := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := s.txs.UpdateStatus(ctx, tx, transactionID, fromStatus, "verification_needed"); err != nil {
				return err
			}
			return s.events.Append(ctx, tx, transactionID, actorID, fromStatus, "verification_needed",
				"transfer settled but wallet balance was insufficient")
		})
		if parkErr != nil {
			log.Printf("withdrawal %s: park after insufficient settle: %v", transactionID, parkErr)
		}
		return errSettleInsufficient
	}
	if err != nil {
		return err
	}
	s.notifyUser(ctx, txn.UserID, "Withdrawal complete",
		"Your withdrawal of "+money.FormatMinor(txn.Amount)+" has been paid out.")
	return nil
}

func (s *WithdrawalService) fail(ctx context.Context, actorID *string, transactionID, fromStatus, detail string) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.txs.UpdateStatus(ctx, tx, transactionID, fromStatus, "failed")
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		return s.events.Append(ctx, tx, transactionID, actorID, fromStatus, "failed", detail)
	})
	if err != nil {
		log.Printf("withdrawal %s: mark failed: %v", transactionID, err)
	}
}

func (s *WithdrawalService) load(ctx context.Context, transactionID string) (store.Transaction, error) {
	txn, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Transaction{}, ErrTransactionNotFound
		}
		return store.Transaction{}, err
	}
	if txn.Type != "withdrawal" {
		return store.Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *WithdrawalService) notifyUser(ctx context.Context, userID, subject, body string) {
	email, err := s.users.Email(ctx, userID)
	if err != nil {
		return
	}
	s.notifier.Enqueue(ctx, email, subject, body)
}

func derefOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
