package payout

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists payouts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed payout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const payoutColumns = `id, booking_id, freelancer_id,
		       service_amount_pence, commission_pence, fixed_fee_pence, net_amount_pence,
		       status, scheduled_for, transfer_id, failure_reason,
		       created_at, updated_at, paid_at`

func (p *PostgresStore) Create(ctx context.Context, po *Payout) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payouts (
			id, booking_id, freelancer_id,
			service_amount_pence, commission_pence, fixed_fee_pence, net_amount_pence,
			status, scheduled_for, transfer_id, failure_reason,
			created_at, updated_at, paid_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14
		)`,
		po.ID, po.BookingID, po.FreelancerID,
		po.ServiceAmountPence, po.CommissionPence, po.FixedFeePence, po.NetAmountPence,
		string(po.Status), po.ScheduledFor, nullString(po.TransferID), nullString(po.FailureReason),
		po.CreatedAt, po.UpdatedAt, po.PaidAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		// unique_violation on booking_id
		return ErrDuplicatePayout
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	return scanPayout(row)
}

func (p *PostgresStore) GetByBooking(ctx context.Context, bookingID string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE booking_id = $1`, bookingID)
	return scanPayout(row)
}

func (p *PostgresStore) ListByFreelancer(ctx context.Context, freelancerID string, limit int) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE freelancer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, freelancerID, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

func (p *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status IN ('pending', 'scheduled') AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

func (p *PostgresStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'scheduled')`,
		id, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id, transferID string) (bool, error) {
	now := time.Now()
	res, err := p.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'paid', transfer_id = $2, failure_reason = NULL,
		       paid_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'`,
		id, transferID, now)
	return oneRow(res, err)
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'processing'`,
		id, reason, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) Reschedule(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'scheduled', scheduled_for = $2, failure_reason = NULL, updated_at = $3
		WHERE id = $1 AND status = 'failed'`,
		id, at, time.Now())
	return oneRow(res, err)
}

func collectPayouts(rows *sql.Rows) ([]*Payout, error) {
	defer func() { _ = rows.Close() }()
	var out []*Payout
	for rows.Next() {
		po, err := scanPayoutRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(row *sql.Row) (*Payout, error) {
	po, err := scanPayoutRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrPayoutNotFound
	}
	return po, err
}

func scanPayoutRow(r rowScanner) (*Payout, error) {
	var po Payout
	var status string
	var transferID, failureReason sql.NullString
	var paidAt sql.NullTime
	if err := r.Scan(
		&po.ID, &po.BookingID, &po.FreelancerID,
		&po.ServiceAmountPence, &po.CommissionPence, &po.FixedFeePence, &po.NetAmountPence,
		&status, &po.ScheduledFor, &transferID, &failureReason,
		&po.CreatedAt, &po.UpdatedAt, &paidAt,
	); err != nil {
		return nil, err
	}
	po.Status = Status(status)
	po.TransferID = transferID.String
	po.FailureReason = failureReason.String
	if paidAt.Valid {
		po.PaidAt = &paidAt.Time
	}
	return &po, nil
}

// PostgresAccountStore persists payout accounts in PostgreSQL.
type PostgresAccountStore struct {
	db *sql.DB
}

// NewPostgresAccountStore creates a PostgreSQL-backed account store.
func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func (p *PostgresAccountStore) Get(ctx context.Context, freelancerID string) (*Account, error) {
	var a Account
	var schedule string
	err := p.db.QueryRowContext(ctx, `
		SELECT freelancer_id, provider_account_id, schedule, enabled, verified, updated_at
		FROM payout_accounts WHERE freelancer_id = $1`, freelancerID).Scan(
		&a.FreelancerID, &a.ProviderAccountID, &schedule, &a.Enabled, &a.Verified, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Schedule = Schedule(schedule)
	return &a, nil
}

func (p *PostgresAccountStore) Upsert(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_accounts (freelancer_id, provider_account_id, schedule, enabled, verified, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (freelancer_id) DO UPDATE SET
			provider_account_id = EXCLUDED.provider_account_id,
			schedule = EXCLUDED.schedule,
			enabled = EXCLUDED.enabled,
			verified = EXCLUDED.verified,
			updated_at = EXCLUDED.updated_at`,
		a.FreelancerID, a.ProviderAccountID, string(a.Schedule), a.Enabled, a.Verified, time.Now())
	return err
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
