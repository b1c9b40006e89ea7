package settings

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists platform settings in PostgreSQL.
// The table holds exactly one row (id = 1).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed settings store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := p.db.QueryRowContext(ctx, `
		SELECT commission_percent, fixed_booking_fee_pence, platform_fee_percent,
		       free_cancel_hours, partial_refund_hours, partial_refund_percent,
		       auto_confirm_grace_hours, pending_timeout_hours,
		       last_minute_cancel_hours, cancel_warn_threshold, cancel_suspend_threshold,
		       updated_at
		FROM platform_settings WHERE id = 1`,
	).Scan(
		&s.CommissionPercent, &s.FixedBookingFeePence, &s.PlatformFeePercent,
		&s.FreeCancelHours, &s.PartialRefundHours, &s.PartialRefundPercent,
		&s.AutoConfirmGraceHours, &s.PendingTimeoutHours,
		&s.LastMinuteCancelHours, &s.CancelWarnThreshold, &s.CancelSuspendThreshold,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Defaults(), nil
	}
	return s, err
}

func (p *PostgresStore) Save(ctx context.Context, s Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO platform_settings (
			id, commission_percent, fixed_booking_fee_pence, platform_fee_percent,
			free_cancel_hours, partial_refund_hours, partial_refund_percent,
			auto_confirm_grace_hours, pending_timeout_hours,
			last_minute_cancel_hours, cancel_warn_threshold, cancel_suspend_threshold,
			updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			commission_percent = EXCLUDED.commission_percent,
			fixed_booking_fee_pence = EXCLUDED.fixed_booking_fee_pence,
			platform_fee_percent = EXCLUDED.platform_fee_percent,
			free_cancel_hours = EXCLUDED.free_cancel_hours,
			partial_refund_hours = EXCLUDED.partial_refund_hours,
			partial_refund_percent = EXCLUDED.partial_refund_percent,
			auto_confirm_grace_hours = EXCLUDED.auto_confirm_grace_hours,
			pending_timeout_hours = EXCLUDED.pending_timeout_hours,
			last_minute_cancel_hours = EXCLUDED.last_minute_cancel_hours,
			cancel_warn_threshold = EXCLUDED.cancel_warn_threshold,
			cancel_suspend_threshold = EXCLUDED.cancel_suspend_threshold,
			updated_at = EXCLUDED.updated_at`,
		s.CommissionPercent, s.FixedBookingFeePence, s.PlatformFeePercent,
		s.FreeCancelHours, s.PartialRefundHours, s.PartialRefundPercent,
		s.AutoConfirmGraceHours, s.PendingTimeoutHours,
		s.LastMinuteCancelHours, s.CancelWarnThreshold, s.CancelSuspendThreshold,
		time.Now(),
	)
	return err
}
