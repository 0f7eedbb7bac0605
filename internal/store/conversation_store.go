package store

import "context"

type ConversationStore struct {
	db DB
}

func NewConversationStore(db DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// FindOrCreate returns the conversation id for a (patient, doctor) pair,
// inserting one when the pair has never talked. The no-op DO UPDATE makes
// RETURNING yield the existing row on conflict.
func (s *ConversationStore) FindOrCreate(ctx context.Context, tx Tx, id, patientID, doctorID string) (string, error) {
	var conversationID string
	err := tx.GetContext(ctx, &conversationID, `
		INSERT INTO conversations (id, patient_id, doctor_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, doctor_id) DO UPDATE SET patient_id = EXCLUDED.patient_id
		RETURNING id
	`, id, patientID, doctorID)
	return conversationID, err
}

func (s *ConversationStore) AddMessage(ctx context.Context, tx Execer, id, conversationID string, senderID *string, body string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body)
		VALUES ($1, $2, $3, $4)
	`, id, conversationID, senderID, body)
	return err
}

type messageRow struct {
	ID             string  `db:"id"`
	ConversationID string  `db:"conversation_id"`
	SenderID       *string `db:"sender_id"`
	Body           string  `db:"body"`
	CreatedAt      any     `db:"created_at"`
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]map[string]any, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	messages := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, map[string]any{
			"id":              row.ID,
			"conversation_id": row.ConversationID,
			"sender_id":       derefStringPtr(row.SenderID),
			"body":            row.Body,
			"created_at":      row.CreatedAt,
		})
	}
	return messages, nil
}
