// Package reconcile converges locally stored booking/transaction status onto
// the external payment processor's state, which is authoritative. Local rows
// are a cache that drifts when webhooks are missed or a flow dies
// mid-transition.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hangtight/bookingd/internal/model"
	"github.com/hangtight/bookingd/internal/payments"
)

var (
	ErrNoPaymentIntent      = errors.New("booking has no payment intent to reconcile")
	ErrUnknownExternalState = errors.New("unknown external payment state")
)

// IntentFetcher reads the authoritative intent state. Satisfied by
// payments.Client.
type IntentFetcher interface {
	Get(ctx context.Context, intentID string) (payments.Intent, error)
}

// Store is the persistence surface. Satisfied by *storage.Repository.
//
// UpdateTransactionStatusByIntent is preconditioned on the booking already
// holding a compatible status, which is why ApplyOutcome always writes the
// booking row first.
type Store interface {
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	SetBookingPaymentState(ctx context.Context, id string, st model.BookingStatus, ps model.PaymentStatus) error
	GetTransactionByIntent(ctx context.Context, intentID string) (model.Transaction, error)
	UpdateTransactionStatusByIntent(ctx context.Context, intentID string, st model.TransactionStatus) error
}

type Result struct {
	Consistent    bool                `json:"consistent"`
	FixesApplied  []string            `json:"fixes_applied"`
	BookingStatus model.BookingStatus `json:"booking_status"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
}

type Coordinator struct {
	intents IntentFetcher
	store   Store
	logger  *slog.Logger
}

func NewCoordinator(intents IntentFetcher, store Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{intents: intents, store: store, logger: logger}
}

// Reconcile fetches the external intent state for a booking and applies the
// canonical mapping, writing only fields that differ. Running it twice with
// no external change produces zero writes and Consistent=true.
func (c *Coordinator) Reconcile(ctx context.Context, bookingID, intentID string) (Result, error) {
	if err := model.ValidateBookingID(bookingID); err != nil {
		return Result{}, err
	}
	booking, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if intentID == "" {
		intentID = booking.PaymentIntentID
	}
	if intentID == "" {
		return Result{}, ErrNoPaymentIntent
	}

	var intent payments.Intent
	res := payments.Call(ctx, c.logger, "payment_intent.get", payments.IntentCallTimeout, payments.DefaultMaxAttempts, func(ctx context.Context) error {
		var err error
		intent, err = c.intents.Get(ctx, intentID)
		return err
	})
	if !res.OK() {
		return Result{}, fmt.Errorf("fetch intent %s: %w", intentID, res.Err)
	}

	out, ok := model.MapIntentStatus(intent.Status)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownExternalState, intent.Status)
	}

	fixes, applied, err := c.applyOutcome(ctx, booking, intentID, out)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Consistent:    len(fixes) == 0,
		FixesApplied:  fixes,
		BookingStatus: applied.Status,
		PaymentStatus: applied.PaymentStatus,
	}
	if !result.Consistent {
		c.logger.Info("reconciliation applied fixes",
			"booking_id", bookingID,
			"payment_intent_id", intentID,
			"external_status", intent.Status,
			"fixes", fixes,
		)
	}
	return result, nil
}

func (c *Coordinator) applyOutcome(ctx context.Context, booking model.Booking, intentID string, out model.IntentOutcome) ([]string, model.Booking, error) {
	fixes := []string{}

	bookingDiffers := booking.Status != out.Booking || booking.PaymentStatus != out.Payment
	if bookingDiffers {
		if model.CanTransitionBooking(booking.Status, out.Booking) && model.CanTransitionPayment(booking.PaymentStatus, out.Payment) {
			// Booking first: the transaction write below is rejected unless
			// the booking already holds a compatible status.
			if err := c.store.SetBookingPaymentState(ctx, booking.ID, out.Booking, out.Payment); err != nil {
				return nil, booking, err
			}
			if booking.Status != out.Booking {
				fixes = append(fixes, fmt.Sprintf("booking_status: %s -> %s", booking.Status, out.Booking))
			}
			if booking.PaymentStatus != out.Payment {
				fixes = append(fixes, fmt.Sprintf("payment_status: %s -> %s", booking.PaymentStatus, out.Payment))
			}
			booking.Status = out.Booking
			booking.PaymentStatus = out.Payment
		} else {
			// The booking has progressed past what the mapping would set
			// (e.g. completed while the intent reads succeeded). Never
			// regress; leave it alone.
			c.logger.Debug("skipping booking regression",
				"booking_id", booking.ID,
				"stored", booking.Status,
				"mapped", out.Booking,
			)
		}
	}

	tx, err := c.store.GetTransactionByIntent(ctx, intentID)
	if err != nil {
		// No ledger row is drift the other way; nothing to converge here.
		c.logger.Warn("no transaction for intent during reconcile", "payment_intent_id", intentID, "err", err)
		return fixes, booking, nil
	}
	if tx.Status != out.Transaction && model.CanTransitionTransaction(tx.Status, out.Transaction) {
		if err := c.store.UpdateTransactionStatusByIntent(ctx, intentID, out.Transaction); err != nil {
			return nil, booking, err
		}
		fixes = append(fixes, fmt.Sprintf("transaction_status: %s -> %s", tx.Status, out.Transaction))
	}

	return fixes, booking, nil
}
