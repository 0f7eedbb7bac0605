package store

import "context"

type PrescriptionStore struct {
	db DB
}

func NewPrescriptionStore(db DB) *PrescriptionStore {
	return &PrescriptionStore{db: db}
}

type Prescription struct {
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	DoctorID  string `db:"doctor_id"`
	PatientID string `db:"patient_id"`
	Kind      string `db:"kind"`
	Status    string `db:"status"`
	Details   string `db:"details"`
	CreatedAt any    `db:"created_at"`
}

type PrescriptionInput struct {
	ID        string
	SessionID string
	DoctorID  string
	PatientID string
	Kind      string
	Details   string
}

func (s *PrescriptionStore) Create(ctx context.Context, tx Execer, input PrescriptionInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO prescriptions (id, session_id, doctor_id, patient_id, kind, status, details)
		VALUES ($1, $2, $3, $4, $5, 'in-progress', $6)
	`, input.ID, input.SessionID, input.DoctorID, input.PatientID, input.Kind, input.Details)
	return err
}

// HasActiveLab reports whether a laboratory prescription for the session is
// still awaiting results; completion parks the session instead of closing it.
func (s *PrescriptionStore) HasActiveLab(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM prescriptions
		WHERE session_id = $1 AND kind = 'laboratory' AND status = 'in-progress'
	`, sessionID)
	return count > 0, err
}

func (s *PrescriptionStore) UpdateStatus(ctx context.Context, tx Execer, prescriptionID, from, to string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE prescriptions
		SET status = $1
		WHERE id = $2 AND status = $3
	`, to, prescriptionID, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PrescriptionStore) ListBySession(ctx context.Context, sessionID string) ([]Prescription, error) {
	var rows []Prescription
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, doctor_id, patient_id, kind, status, details, created_at
		FROM prescriptions
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
