package payment

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists payments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, booking_id, client_id, freelancer_id, intent_id, client_secret,
		       status, escrow_status, amount_pence, platform_fee_pence,
		       refund_id, refunded_amount_pence, refund_status, failure_reason,
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, pm *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, booking_id, client_id, freelancer_id, intent_id, client_secret,
			status, escrow_status, amount_pence, platform_fee_pence,
			refund_id, refunded_amount_pence, refund_status, failure_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`,
		pm.ID, pm.BookingID, pm.ClientID, pm.FreelancerID, pm.IntentID, pm.ClientSecret,
		string(pm.Status), string(pm.EscrowStatus), pm.AmountPence, pm.PlatformFeePence,
		nullString(pm.RefundID), pm.RefundedAmountPence, nullString(pm.RefundStatus),
		nullString(pm.FailureReason), pm.CreatedAt, pm.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (p *PostgresStore) GetByIntent(ctx context.Context, intentID string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE intent_id = $1`, intentID)
	return scanPayment(row)
}

func (p *PostgresStore) GetActiveByBooking(ctx context.Context, bookingID string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1 AND status IN ('initiated', 'succeeded')
		ORDER BY created_at DESC
		LIMIT 1`, bookingID)
	return scanPayment(row)
}

func (p *PostgresStore) MarkSucceeded(ctx context.Context, intentID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = 'succeeded', updated_at = $2
		WHERE intent_id = $1 AND status = 'initiated'`,
		intentID, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) MarkFailed(ctx context.Context, intentID, reason string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE intent_id = $1 AND status = 'initiated'`,
		intentID, reason, time.Now())
	return oneRow(res, err)
}

// ReleaseEscrow is the single effective-transition gate for release: the
// WHERE clause loses for every caller but the first.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET escrow_status = 'released', updated_at = $2
		WHERE id = $1 AND escrow_status = 'held'`,
		id, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) ApplyRefund(ctx context.Context, id, refundID string, amountPence int64, full bool) (bool, error) {
	var res sql.Result
	var err error
	if full {
		res, err = p.db.ExecContext(ctx, `
			UPDATE payments SET
				escrow_status = 'refunded', status = 'refunded',
				refund_id = $2, refunded_amount_pence = refunded_amount_pence + $3,
				refund_status = 'full', updated_at = $4
			WHERE id = $1 AND escrow_status = 'held'`,
			id, refundID, amountPence, time.Now())
	} else {
		res, err = p.db.ExecContext(ctx, `
			UPDATE payments SET
				refund_id = $2, refunded_amount_pence = refunded_amount_pence + $3,
				refund_status = 'partial', updated_at = $4
			WHERE id = $1 AND escrow_status = 'held'
			  AND refunded_amount_pence + $3 <= amount_pence`,
			id, refundID, amountPence, time.Now())
	}
	return oneRow(res, err)
}

func (p *PostgresStore) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'initiated' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Payment
	for rows.Next() {
		pm, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row *sql.Row) (*Payment, error) {
	pm, err := scanPaymentRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pm, err
}

func scanPaymentRow(r rowScanner) (*Payment, error) {
	var pm Payment
	var status, escrowStatus string
	var refundID, refundStatus, failureReason sql.NullString
	if err := r.Scan(
		&pm.ID, &pm.BookingID, &pm.ClientID, &pm.FreelancerID, &pm.IntentID, &pm.ClientSecret,
		&status, &escrowStatus, &pm.AmountPence, &pm.PlatformFeePence,
		&refundID, &pm.RefundedAmountPence, &refundStatus, &failureReason,
		&pm.CreatedAt, &pm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	pm.Status = Status(status)
	pm.EscrowStatus = EscrowStatus(escrowStatus)
	pm.RefundID = refundID.String
	pm.RefundStatus = refundStatus.String
	pm.FailureReason = failureReason.String
	return &pm, nil
}

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
