package webhook

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore journals webhook events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed event journal.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert relies on the primary key for dedup: a concurrent delivery of
// the same event inserts exactly one row.
func (p *PostgresStore) Insert(ctx context.Context, e *Event) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, type, intent_id, booking_id, processed, received_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.Type, nullString(e.IntentID), nullString(e.BookingID), e.ReceivedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) Get(ctx context.Context, eventID string) (*Event, error) {
	var e Event
	var intentID, bookingID, errMsg sql.NullString
	var processedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT event_id, type, intent_id, booking_id, processed, error, received_at, processed_at
		FROM webhook_events WHERE event_id = $1`, eventID).Scan(
		&e.EventID, &e.Type, &intentID, &bookingID, &e.Processed, &errMsg, &e.ReceivedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	e.IntentID = intentID.String
	e.BookingID = bookingID.String
	e.Error = errMsg.String
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return &e, nil
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed = TRUE, error = NULL, processed_at = $2
		WHERE event_id = $1`, eventID, time.Now())
	return err
}

func (p *PostgresStore) MarkFailed(ctx context.Context, eventID, errMsg string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_events SET error = $2 WHERE event_id = $1`, eventID, errMsg)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
