package storage

import (
	"context"
	"errors"

	"github.com/hangtight/bookingd/internal/model"
)

// ErrStatePrecondition means a transaction-status write was refused because
// the owning booking was not in a status that permits it.
var ErrStatePrecondition = errors.New("booking status does not permit transaction update")

func (r *Repository) CreateTransaction(ctx context.Context, t model.Transaction) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO transactions (booking_id, payment_intent_id, kind, status, amount_cents, currency)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, ''), $3, $4, $5, $6)
		RETURNING id
	`, t.BookingID, t.PaymentIntentID, string(t.Kind), string(t.Status), t.AmountCents, t.Currency).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTransactionByIntent returns the most recent transaction row for an
// intent. Capture and refund append rows, so latest reflects current state.
func (r *Repository) GetTransactionByIntent(ctx context.Context, intentID string) (model.Transaction, error) {
	var t model.Transaction
	var kind, status string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, COALESCE(booking_id::text, ''), COALESCE(payment_intent_id, ''), kind, status, amount_cents, currency, created_at, updated_at
		FROM transactions
		WHERE payment_intent_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, intentID).Scan(&t.ID, &t.BookingID, &t.PaymentIntentID, &kind, &status, &t.AmountCents, &t.Currency, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Transaction{}, err
	}
	t.Kind = model.TransactionKind(kind)
	t.Status = model.TransactionStatus(status)
	return t, nil
}

// UpdateTransactionStatusByIntent moves the latest transaction for the intent
// to the given status, but only while the owning booking sits in a status
// that makes the transaction state coherent. The precondition rides in the
// same statement so there is no window between check and write. Pre-booking
// holds have no owning booking and carry no precondition.
func (r *Repository) UpdateTransactionStatusByIntent(ctx context.Context, intentID string, st model.TransactionStatus) error {
	allowed := model.BookingStatusesForTransaction(st)
	if len(allowed) == 0 {
		return ErrStatePrecondition
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions t
		SET status = $2, updated_at = now()
		WHERE t.id = (
			SELECT id FROM transactions
			WHERE payment_intent_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		)
		AND (t.booking_id IS NULL OR EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.id = t.booking_id AND b.status = ANY($3)
		))
	`, intentID, string(st), statusStrings(allowed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatePrecondition
	}
	return nil
}
