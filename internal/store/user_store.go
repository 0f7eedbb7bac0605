package store

import "context"

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

type User struct {
	ID            string `db:"id"`
	Username      string `db:"username"`
	Email         string `db:"email"`
	PasswordHash  string `db:"password_hash"`
	Role          string `db:"role"`
	WalletBalance int64  `db:"wallet_balance"`
	IsAdmin       bool   `db:"is_admin"`
	IsSuspended   bool   `db:"is_suspended"`
	CreatedAt     any    `db:"created_at"`
}

func (s *UserStore) Create(ctx context.Context, tx Execer, id, username, email, passwordHash, role string) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.ExecContext(ctx, query, id, username, email, passwordHash, role)
	return err
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (User, error) {
	var row User
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, email, password_hash, role, wallet_balance, is_admin, is_suspended, created_at
		FROM users
		WHERE email = $1
	`, email)
	return row, err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (User, error) {
	var row User
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, email, password_hash, role, wallet_balance, is_admin, is_suspended, created_at
		FROM users
		WHERE id = $1
	`, userID)
	return row, err
}

func (s *UserStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `SELECT wallet_balance FROM users WHERE id = $1`, userID)
	return balance, err
}

func (s *UserStore) Email(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID)
	return email, err
}

func (s *UserStore) Credit(ctx context.Context, tx Execer, userID string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET wallet_balance = wallet_balance + $1
		WHERE id = $2
	`, amount, userID)
	return err
}

// Debit subtracts amount only when the balance covers it; the caller must
// treat zero affected rows as an insufficient balance.
func (s *UserStore) Debit(ctx context.Context, tx Execer, userID string, amount int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET wallet_balance = wallet_balance - $1
		WHERE id = $2 AND wallet_balance >= $1
	`, amount, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *UserStore) SetSuspended(ctx context.Context, tx Execer, userID string, suspended bool) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET is_suspended = $1
		WHERE id = $2
	`, suspended, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
