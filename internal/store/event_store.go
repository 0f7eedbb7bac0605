package store

import "context"

// EventStore persists the append-only status history of transactions.
type EventStore struct {
	db DB
}

type eventRow struct {
	ID            string  `db:"id"`
	TransactionID string  `db:"transaction_id"`
	ActorID       *string `db:"actor_id"`
	FromStatus    string  `db:"from_status"`
	ToStatus      string  `db:"to_status"`
	Detail        string  `db:"detail"`
	CreatedAt     any     `db:"created_at"`
}

func NewEventStore(db DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, tx Execer, transactionID string, actorID *string, fromStatus, toStatus, detail string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transaction_events (id, transaction_id, actor_id, from_status, to_status, detail)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
	`, transactionID, actorID, fromStatus, toStatus, detail)
	return err
}

func (s *EventStore) ListByTransaction(ctx context.Context, transactionID string) ([]map[string]any, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, transaction_id, actor_id, from_status, to_status, detail, created_at
		FROM transaction_events
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	events := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		events = append(events, map[string]any{
			"id":             row.ID,
			"transaction_id": row.TransactionID,
			"actor_id":       derefStringPtr(row.ActorID),
			"from_status":    row.FromStatus,
			"to_status":      row.ToStatus,
			"detail":         row.Detail,
			"created_at":     row.CreatedAt,
		})
	}
	return events, nil
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
