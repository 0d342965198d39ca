package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type LineItem struct {
	BookingID   string
	ServiceID   string
	Name        string
	AmountCents int64
}

func (r *Repository) InsertLineItem(ctx context.Context, tx pgx.Tx, item LineItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_services (booking_id, service_id, name, amount_cents)
		VALUES ($1, $2, $3, $4)
	`, item.BookingID, item.ServiceID, item.Name, item.AmountCents)
	return err
}

func (r *Repository) ListLineItems(ctx context.Context, bookingID string) ([]LineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT booking_id::text, service_id::text, name, amount_cents
		FROM booking_services
		WHERE booking_id = $1
		ORDER BY created_at
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.BookingID, &it.ServiceID, &it.Name, &it.AmountCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// EnsureLineItems repairs a booking that lost its line items by synthesizing
// one from the booking's service and its latest transaction amount. Returns
// true when a row was inserted.
func (r *Repository) EnsureLineItems(ctx context.Context, bookingID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO booking_services (booking_id, service_id, name, amount_cents)
		SELECT b.id, b.service_id, 'service ' || b.service_id::text,
			COALESCE((
				SELECT t.amount_cents FROM transactions t
				WHERE t.booking_id = b.id
				ORDER BY t.created_at DESC
				LIMIT 1
			), 0)
		FROM bookings b
		WHERE b.id = $1
			AND NOT EXISTS (SELECT 1 FROM booking_services s WHERE s.booking_id = b.id)
	`, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
