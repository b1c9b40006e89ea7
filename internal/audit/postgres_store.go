package audit

import (
	"context"
	"database/sql"
)

// PostgresLogger writes audit entries to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (p *PostgresLogger) Log(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, booking_id, actor_role, actor_id, operation, amount_pence,
			reference, before_state, after_state, detail, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, nullString(e.BookingID), e.ActorRole, nullString(e.ActorID),
		e.Operation, e.AmountPence, nullString(e.Reference),
		nullString(e.BeforeState), nullString(e.AfterState),
		nullString(e.Detail), nullString(e.RequestID), e.CreatedAt,
	)
	return err
}

func (p *PostgresLogger) Query(ctx context.Context, bookingID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, booking_id, actor_role, actor_id, operation, amount_pence,
		       reference, before_state, after_state, detail, request_id, created_at
		FROM audit_log
		WHERE ($1 = '' OR booking_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, bookingID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var bkID, actorID, ref, before, after, detail, reqID sql.NullString
		if err := rows.Scan(
			&e.ID, &bkID, &e.ActorRole, &actorID, &e.Operation, &e.AmountPence,
			&ref, &before, &after, &detail, &reqID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.BookingID = bkID.String
		e.ActorID = actorID.String
		e.Reference = ref.String
		e.BeforeState = before.String
		e.AfterState = after.String
		e.Detail = detail.String
		e.RequestID = reqID.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
