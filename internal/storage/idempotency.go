package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRecord mirrors a row in booking_idempotency_keys. A record with
// StatusCode zero was claimed but never finalized, usually by a request that
// crashed mid-flight.
type IdempotencyRecord struct {
	CustomerKey     string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

// LockIdempotencyKey claims the key inside the caller's transaction. The
// returned bool is true when a prior request already holds the key; the row
// stays locked FOR UPDATE either way, serializing concurrent retries.
func (r *Repository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, customerKey, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, customerKey, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (customer_key, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (customer_key, idempotency_key) DO NOTHING
	`, customerKey, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, customerKey, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *Repository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, customerKey, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE customer_key = $1 AND idempotency_key = $2
	`, customerKey, key, bookingID, statusCode, response)
	return err
}

func (r *Repository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, customerKey, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT customer_key,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE customer_key = $1 AND idempotency_key = $2
		FOR UPDATE
	`, customerKey, key).Scan(
		&rec.CustomerKey,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
