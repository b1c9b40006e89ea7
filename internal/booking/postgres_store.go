package booking

import (
	"context"
	"database/sql"
	"time"

	"github.com/taskvine/taskvine/internal/pricing"
)

// PostgresStore persists bookings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bookingColumns = `id, client_id, freelancer_id, service_id,
		       scheduled_start, scheduled_end, location,
		       base_price_pence, materials_price_pence, travel_price_pence,
		       platform_fee_pence, total_pence,
		       status, payment_status, expires_at, auto_confirm_at,
		       cancelled_by, cancel_reason, cancelled_at, declined_reason,
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, client_id, freelancer_id, service_id,
			scheduled_start, scheduled_end, location,
			base_price_pence, materials_price_pence, travel_price_pence,
			platform_fee_pence, total_pence,
			status, payment_status, expires_at, auto_confirm_at,
			cancelled_by, cancel_reason, cancelled_at, declined_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22
		)`,
		b.ID, b.ClientID, b.FreelancerID, b.ServiceID,
		b.ScheduledStart, b.ScheduledEnd, string(b.Location),
		b.Price.BasePricePence, b.Price.MaterialsPricePence, b.Price.TravelPricePence,
		b.Price.PlatformFeePence, b.Price.TotalPence,
		string(b.Status), string(b.PaymentStatus), b.ExpiresAt, b.AutoConfirmAt,
		nullString(b.CancelledBy), nullString(b.CancelReason), b.CancelledAt, nullString(b.DeclinedReason),
		b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (p *PostgresStore) HasOverlap(ctx context.Context, freelancerID string, start, end time.Time) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM bookings
		WHERE freelancer_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_start < $3 AND scheduled_end > $2`,
		freelancerID, start, end).Scan(&n)
	return n > 0, err
}

func (p *PostgresStore) Accept(ctx context.Context, id string, autoConfirmAt time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status = 'confirmed', expires_at = NULL,
			auto_confirm_at = CASE WHEN payment_status = 'paid' THEN $2 ELSE NULL END,
			updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, autoConfirmAt, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) MarkCancelled(ctx context.Context, id string, from Status, actorRole, reason string, declined bool) (bool, error) {
	now := time.Now()
	declinedReason := sql.NullString{}
	if declined {
		declinedReason = nullString(reason)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = 'cancelled', expires_at = NULL, auto_confirm_at = NULL,
			cancelled_by = $3, cancel_reason = $4, cancelled_at = $5,
			declined_reason = $6, updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, string(from), actorRole, reason, now, declinedReason)
	return oneRow(res, err)
}

func (p *PostgresStore) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status = 'expired', expires_at = NULL, auto_confirm_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2`,
		id, now, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) MarkCompleted(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status = 'completed', auto_confirm_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'confirmed'`,
		id, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id string, autoConfirmAt time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET payment_status = 'paid',
			auto_confirm_at = CASE WHEN status = 'confirmed' THEN $2 ELSE NULL END,
			updated_at = $3
		WHERE id = $1 AND payment_status <> 'paid'`,
		id, autoConfirmAt, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET payment_status = 'payment_failed', updated_at = $2
		WHERE id = $1 AND payment_status <> 'paid'`,
		id, time.Now())
	return oneRow(res, err)
}

func (p *PostgresStore) SetPaymentStatus(ctx context.Context, id string, ps PaymentStatus) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET payment_status = $2, updated_at = $3 WHERE id = $1`,
		id, string(ps), time.Now())
	return err
}

func (p *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (p *PostgresStore) ListAutoConfirmDue(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed' AND payment_status = 'paid' AND auto_confirm_at <= $1
		ORDER BY auto_confirm_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (p *PostgresStore) RecordFreelancerCancellation(ctx context.Context, freelancerID, bookingID string, hoursBefore float64, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO freelancer_cancellations (freelancer_id, booking_id, hours_before, cancelled_at)
		VALUES ($1, $2, $3, $4)`,
		freelancerID, bookingID, hoursBefore, at)
	return err
}

func (p *PostgresStore) CountLastMinuteCancellations(ctx context.Context, freelancerID string, since time.Time, maxHoursBefore float64) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM freelancer_cancellations
		WHERE freelancer_id = $1 AND cancelled_at >= $2 AND hours_before < $3`,
		freelancerID, since, maxHoursBefore).Scan(&n)
	return n, err
}

func collectBookings(rows *sql.Rows) ([]*Booking, error) {
	defer func() { _ = rows.Close() }()
	var out []*Booking
	for rows.Next() {
		b, err := scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row *sql.Row) (*Booking, error) {
	b, err := scanBookingRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func scanBookingRow(r rowScanner) (*Booking, error) {
	var b Booking
	var location, status, paymentStatus string
	var expiresAt, autoConfirmAt, cancelledAt sql.NullTime
	var cancelledBy, cancelReason, declinedReason sql.NullString
	if err := r.Scan(
		&b.ID, &b.ClientID, &b.FreelancerID, &b.ServiceID,
		&b.ScheduledStart, &b.ScheduledEnd, &location,
		&b.Price.BasePricePence, &b.Price.MaterialsPricePence, &b.Price.TravelPricePence,
		&b.Price.PlatformFeePence, &b.Price.TotalPence,
		&status, &paymentStatus, &expiresAt, &autoConfirmAt,
		&cancelledBy, &cancelReason, &cancelledAt, &declinedReason,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Location = pricing.LocationType(location)
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(paymentStatus)
	if expiresAt.Valid {
		b.ExpiresAt = &expiresAt.Time
	}
	if autoConfirmAt.Valid {
		b.AutoConfirmAt = &autoConfirmAt.Time
	}
	if cancelledAt.Valid {
		b.CancelledAt = &cancelledAt.Time
	}
	b.CancelledBy = cancelledBy.String
	b.CancelReason = cancelReason.String
	b.DeclinedReason = declinedReason.String
	return &b, nil
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
