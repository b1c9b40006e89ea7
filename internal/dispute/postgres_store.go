package dispute

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists disputes in PostgreSQL. A partial unique index
// on (booking_id) WHERE status = 'open' enforces one open dispute.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, booking_id, opened_by, reason, status, resolution,
		       refund_pence, notes, resolved_by, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (id, booking_id, opened_by, reason, status, refund_pence, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		d.ID, d.BookingID, d.OpenedBy, d.Reason, string(d.Status), d.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDisputeExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

func (p *PostgresStore) GetOpenByBooking(ctx context.Context, bookingID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE booking_id = $1 AND status = 'open'`, bookingID)
	return scanDispute(row)
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDisputeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Resolve(ctx context.Context, id string, res Resolution, refundPence int64, notes, resolvedBy string, at time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = 'resolved', resolution = $2, refund_pence = $3,
			notes = $4, resolved_by = $5, resolved_at = $6
		WHERE id = $1 AND status = 'open'`,
		id, string(res), refundPence, notes, resolvedBy, at)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row *sql.Row) (*Dispute, error) {
	d, err := scanDisputeRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func scanDisputeRow(r rowScanner) (*Dispute, error) {
	var d Dispute
	var status string
	var resolution, notes, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := r.Scan(
		&d.ID, &d.BookingID, &d.OpenedBy, &d.Reason, &status, &resolution,
		&d.RefundPence, &notes, &resolvedBy, &d.CreatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Resolution = Resolution(resolution.String)
	d.Notes = notes.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return &d, nil
}
