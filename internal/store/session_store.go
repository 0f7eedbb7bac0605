package store

import "context"

type SessionStore struct {
	db DB
}

func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

type Session struct {
	ID                  string `db:"id"`
	DoctorID            string `db:"doctor_id"`
	PatientID           string `db:"patient_id"`
	Status              string `db:"status"`
	EscrowTransactionID string `db:"escrow_transaction_id"`
	ConversationID      string `db:"conversation_id"`
	StartTime           any    `db:"start_time"`
	EndTime             any    `db:"end_time"`
}

type SessionInput struct {
	ID                  string
	DoctorID            string
	PatientID           string
	EscrowTransactionID string
	ConversationID      string
}

const sessionColumns = `
	id, doctor_id, patient_id, status, escrow_transaction_id, conversation_id, start_time, end_time
`

// CreateIfAvailable inserts a scheduled session only while the doctor has no
// other active one. Zero affected rows means the doctor is engaged; the
// partial unique index on active (doctor, patient) pairs backs this up.
func (s *SessionStore) CreateIfAvailable(ctx context.Context, tx Execer, input SessionInput) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO consultation_sessions (id, doctor_id, patient_id, status, escrow_transaction_id, conversation_id, start_time)
		SELECT $1, $2, $3, 'scheduled', $4, $5, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM consultation_sessions
			WHERE doctor_id = $2 AND status IN ('scheduled', 'in-progress')
		)
	`, input.ID, input.DoctorID, input.PatientID, input.EscrowTransactionID, input.ConversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	var row Session
	err := s.db.GetContext(ctx, &row, `
		SELECT `+sessionColumns+`
		FROM consultation_sessions
		WHERE id = $1
	`, sessionID)
	return row, err
}

func (s *SessionStore) MarkInProgress(ctx context.Context, tx Execer, sessionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE consultation_sessions
		SET status = 'in-progress'
		WHERE id = $1 AND status = 'scheduled'
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkPending parks a session awaiting laboratory results.
func (s *SessionStore) MarkPending(ctx context.Context, tx Execer, sessionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE consultation_sessions
		SET status = 'pending'
		WHERE id = $1 AND status IN ('scheduled', 'in-progress')
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionStore) MarkCompleted(ctx context.Context, tx Execer, sessionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE consultation_sessions
		SET status = 'completed', end_time = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'in-progress', 'pending')
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionStore) MarkCancelled(ctx context.Context, tx Execer, sessionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE consultation_sessions
		SET status = 'cancelled', end_time = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'in-progress')
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SessionStore) ActiveForPair(ctx context.Context, doctorID, patientID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM consultation_sessions
		WHERE doctor_id = $1 AND patient_id = $2 AND status IN ('scheduled', 'in-progress')
	`, doctorID, patientID)
	return count > 0, err
}

func (s *SessionStore) MostRecentActiveForUser(ctx context.Context, userID string) (Session, error) {
	var row Session
	err := s.db.GetContext(ctx, &row, `
		SELECT `+sessionColumns+`
		FROM consultation_sessions
		WHERE (doctor_id = $1 OR patient_id = $1) AND status IN ('scheduled', 'in-progress', 'pending')
		ORDER BY start_time DESC
		LIMIT 1
	`, userID)
	return row, err
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	var rows []Session
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+`
		FROM consultation_sessions
		WHERE doctor_id = $1 OR patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
