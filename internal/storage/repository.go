// Package storage persists bookings, transactions, and their supporting
// rows. Writers use narrow, targeted field updates; a zero-rows result on a
// conditional update is an expected race outcome, not an error.
package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hangtight/bookingd/libs/db"

	"github.com/hangtight/bookingd/internal/model"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const bookingColumns = `
	id::text, COALESCE(customer_id::text, ''), customer_name, COALESCE(customer_email, ''), COALESCE(customer_phone, ''),
	service_id::text, address, zip, scheduled_at, duration_minutes,
	status, payment_status, COALESCE(payment_intent_id, ''), COALESCE(worker_id::text, ''), archived,
	created_at, updated_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var status, paymentStatus string
	err := row.Scan(
		&b.ID,
		&b.CustomerID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.ServiceID,
		&b.Address,
		&b.Zip,
		&b.ScheduledAt,
		&b.DurationMinutes,
		&status,
		&paymentStatus,
		&b.PaymentIntentID,
		&b.WorkerID,
		&b.Archived,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.PaymentStatus = model.PaymentStatus(paymentStatus)
	return b, nil
}

func (r *Repository) CreateBooking(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(customer_id, customer_name, customer_email, customer_phone, service_id, address, zip,
			 scheduled_at, duration_minutes, status, payment_status, worker_id)
		VALUES (NULLIF($1, '')::uuid, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, NULLIF($12, '')::uuid)
		RETURNING id
	`, b.CustomerID, b.CustomerName, b.CustomerEmail, b.CustomerPhone, b.ServiceID, b.Address, b.Zip,
		b.ScheduledAt, b.DurationMinutes, string(b.Status), string(b.PaymentStatus), b.WorkerID).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *Repository) GetBookingForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Booking, error) {
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	return scanBooking(row)
}

func (r *Repository) SetBookingIntent(ctx context.Context, id, intentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET payment_intent_id = $2, updated_at = now()
		WHERE id = $1
	`, id, intentID)
	return err
}

// SetBookingPaymentState writes the status pair. Callers are expected to have
// validated the transition against the allowed-transition table.
func (r *Repository) SetBookingPaymentState(ctx context.Context, id string, st model.BookingStatus, ps model.PaymentStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET status = $2, payment_status = $3, updated_at = now()
		WHERE id = $1
	`, id, string(st), string(ps))
	return err
}

// AssignWorker sets the worker only if the booking is still unassigned.
// Returns false when another worker won the race.
func (r *Repository) AssignWorker(ctx context.Context, bookingID, workerID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET worker_id = $2, updated_at = now()
		WHERE id = $1 AND worker_id IS NULL
	`, bookingID, workerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// HasScheduleConflict reports whether the worker already has a non-cancelled
// booking overlapping [start, start+duration).
func (r *Repository) HasScheduleConflict(ctx context.Context, workerID string, start time.Time, duration time.Duration) (bool, error) {
	var conflict bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE worker_id = $1
				AND status NOT IN ('cancelled', 'failed')
				AND scheduled_at < $3
				AND scheduled_at + make_interval(mins => duration_minutes) > $2
		)
	`, workerID, start, start.Add(duration)).Scan(&conflict)
	return conflict, err
}

func (r *Repository) ListStaleBookings(ctx context.Context, statuses []model.BookingStatus, cutoff time.Time, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = ANY($1)
			AND NOT archived
			AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, statusStrings(statuses), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

// MarkBookingExpired cancels an abandoned booking, conditional on it still
// being in a sweepable status. Returns false when the row already moved on.
func (r *Repository) MarkBookingExpired(ctx context.Context, id string, statuses []model.BookingStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled', payment_status = 'expired', updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`, id, statusStrings(statuses))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListBookingsForReconcile returns bookings with a live payment intent whose
// state may have drifted, skipping rows touched within the grace window.
func (r *Repository) ListBookingsForReconcile(ctx context.Context, olderThan time.Duration, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment_intent_id IS NOT NULL
			AND payment_status IN ('pending', 'authorized')
			AND NOT archived
			AND updated_at < now() - $1::interval
		ORDER BY updated_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (r *Repository) ArchiveBooking(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET archived = true, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func statusStrings(statuses []model.BookingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
