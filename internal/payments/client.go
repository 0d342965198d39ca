// Package payments wraps the external card processor behind a small client
// interface plus the authorize/capture/cancel orchestration the booking flow
// uses.
package payments

import "context"

// Intent is the subset of the external payment intent this service acts on.
type Intent struct {
	ID                    string
	Status                string
	ClientSecret          string
	AmountCents           int64
	AmountCapturableCents int64
	AmountReceivedCents   int64
}

// AuthorizeParams creates a manual-capture hold.
type AuthorizeParams struct {
	AmountCents   int64
	Currency      string
	PaymentMethod string
	BookingID     string // metadata only; empty for pre-booking holds
}

// Client is the processor-facing surface. All calls are suspension points
// and must be wrapped with the shared intent-call timeout by the caller.
type Client interface {
	Authorize(ctx context.Context, p AuthorizeParams) (Intent, error)
	Capture(ctx context.Context, intentID string, amountCents int64) (Intent, error)
	IncrementAuthorization(ctx context.Context, intentID string, newAmountCents int64) (Intent, error)
	Cancel(ctx context.Context, intentID string) (Intent, error)
	Refund(ctx context.Context, intentID string) error
	Get(ctx context.Context, intentID string) (Intent, error)
}
