package store

import "context"

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

type Transaction struct {
	ID            string  `db:"id"`
	UserID        string  `db:"user_id"`
	DoctorID      *string `db:"doctor_id"`
	Type          string  `db:"type"`
	Status        string  `db:"status"`
	EscrowStatus  *string `db:"escrow_status"`
	Amount        int64   `db:"amount"`
	AccountNumber *string `db:"account_number"`
	BankName      *string `db:"bank_name"`
	BankCode      *string `db:"bank_code"`
	TransferCode  *string `db:"transfer_code"`
	RecipientCode *string `db:"recipient_code"`
	Reference     *string `db:"reference"`
	CreatedAt     any     `db:"created_at"`
	CompletedAt   any     `db:"completed_at"`
}

type TransactionInput struct {
	ID            string
	UserID        string
	DoctorID      *string
	Type          string
	Status        string
	EscrowStatus  *string
	Amount        int64
	AccountNumber *string
	BankName      *string
	BankCode      *string
	Reference     *string
}

const transactionColumns = `
	id, user_id, doctor_id, type, status, escrow_status, amount,
	account_number, bank_name, bank_code, transfer_code, recipient_code,
	reference, created_at, completed_at
`

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	query := `
		INSERT INTO transactions (id, user_id, doctor_id, type, status, escrow_status, amount, account_number, bank_name, bank_code, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, input.DoctorID, input.Type, input.Status, input.EscrowStatus,
		input.Amount, input.AccountNumber, input.BankName, input.BankCode, input.Reference,
	)
	return err
}

// CreateFunding inserts a wallet-funding transaction keyed by the processor
// reference. A replayed reference inserts nothing and returns zero rows.
func (s *TransactionStore) CreateFunding(ctx context.Context, tx Execer, input TransactionInput) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, status, amount, reference, completed_at)
		VALUES ($1, $2, 'wallet_funding', 'success', $3, $4, NOW())
		ON CONFLICT (reference) DO NOTHING
	`, input.ID, input.UserID, input.Amount, input.Reference)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TransactionStore) GetByID(ctx context.Context, transactionID string) (Transaction, error) {
	var row Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, transactionID)
	return row, err
}

// UpdateStatus moves a transaction from one status to another. Zero affected
// rows means the transaction was not in the expected status.
func (s *TransactionStore) UpdateStatus(ctx context.Context, tx Execer, transactionID, from, to string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1
		WHERE id = $2 AND status = $3
	`, to, transactionID, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkSuccess is the terminal transition; it also stamps completed_at.
func (s *TransactionStore) MarkSuccess(ctx context.Context, tx Execer, transactionID, from string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'success', completed_at = NOW()
		WHERE id = $1 AND status = $2
	`, transactionID, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TransactionStore) UpdateEscrowStatus(ctx context.Context, tx Execer, transactionID, from, to string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET escrow_status = $1
		WHERE id = $2 AND escrow_status = $3 AND type = 'consultation_fee'
	`, to, transactionID, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TransactionStore) SetTransferCodes(ctx context.Context, tx Execer, transactionID, transferCode, recipientCode string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET transfer_code = $1, recipient_code = $2
		WHERE id = $3
	`, transferCode, recipientCode, transactionID)
	return err
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]Transaction, error) {
	var rows []Transaction
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
	`
	args := []any{userID}
	if txType != "" {
		query += ` AND type = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, txType, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListByStatus(ctx context.Context, txType, status string, limit int) ([]Transaction, error) {
	var rows []Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, txType, status, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListVerificationNeeded returns withdrawals parked for reconciliation that
// carry a transfer code the processor can be queried with.
func (s *TransactionStore) ListVerificationNeeded(ctx context.Context) ([]Transaction, error) {
	var rows []Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = 'withdrawal' AND status = 'verification_needed' AND transfer_code IS NOT NULL
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
