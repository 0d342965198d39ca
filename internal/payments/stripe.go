package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

// StripeClient drives PaymentIntents with manual capture so funds are held
// at booking time and captured after the job.
type StripeClient struct{}

func NewStripeClient(secretKey string) *StripeClient {
	stripe.Key = strings.TrimSpace(secretKey)
	return &StripeClient{}
}

func (c *StripeClient) Authorize(ctx context.Context, p AuthorizeParams) (Intent, error) {
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "usd"
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if pm := strings.TrimSpace(p.PaymentMethod); pm != "" {
		params.PaymentMethod = stripe.String(pm)
	}
	if p.BookingID != "" {
		params.AddMetadata("booking_id", p.BookingID)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

func (c *StripeClient) Capture(ctx context.Context, intentID string, amountCents int64) (Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if amountCents > 0 {
		params.AmountToCapture = stripe.Int64(amountCents)
	}
	pi, err := paymentintent.Capture(intentID, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

func (c *StripeClient) IncrementAuthorization(ctx context.Context, intentID string, newAmountCents int64) (Intent, error) {
	params := &stripe.PaymentIntentIncrementAuthorizationParams{
		Amount: stripe.Int64(newAmountCents),
	}
	params.Context = ctx
	pi, err := paymentintent.IncrementAuthorization(intentID, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

func (c *StripeClient) Cancel(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := paymentintent.Cancel(intentID, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

func (c *StripeClient) Refund(ctx context.Context, intentID string) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	_, err := refund.New(params)
	return err
}

func (c *StripeClient) Get(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

func fromStripeIntent(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:                    pi.ID,
		Status:                string(pi.Status),
		ClientSecret:          pi.ClientSecret,
		AmountCents:           pi.Amount,
		AmountCapturableCents: pi.AmountCapturable,
		AmountReceivedCents:   pi.AmountReceived,
	}
}

// IsTerminalStateErr reports whether the processor rejected the call because
// the intent is already in a terminal state for that operation (already
// captured, already cancelled). Callers treat these as benign no-ops so
// sweeps stay idempotent.
func IsTerminalStateErr(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == stripe.ErrorCodePaymentIntentUnexpectedState
}

// retryableExternalErr reports whether the failure is a transient processor
// or network fault worth retrying within the call budget.
func retryableExternalErr(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 {
			return true
		}
		return se.Type == stripe.ErrorTypeAPI
	}
	return false
}
