package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hangtight/bookingd/internal/model"
)

// Charge bounds; anything outside is a validation error, never retried.
const (
	MinChargeCents = 50
	MaxChargeCents = 1_000_000 // $10,000
)

var (
	ErrInvalidAmount = errors.New("amount out of range")

	// ErrStillProcessing means the processor did not answer within the call
	// budget; the true state is unknown and reconciliation will converge it.
	ErrStillProcessing = errors.New("payment is taking longer than expected")

	ErrNoPaymentIntent = errors.New("booking has no payment authorization")
)

// StateConflictError reports an operation that the booking's current payment
// state does not permit.
type StateConflictError struct {
	Op            string
	PaymentStatus model.PaymentStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s payment in state %s", e.Op, e.PaymentStatus)
}

// Store is the persistence surface the lifecycle needs. Satisfied by
// *storage.Repository.
type Store interface {
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	SetBookingIntent(ctx context.Context, id, intentID string) error
	SetBookingPaymentState(ctx context.Context, id string, st model.BookingStatus, ps model.PaymentStatus) error
	CreateTransaction(ctx context.Context, tx model.Transaction) (string, error)
	UpdateTransactionStatusByIntent(ctx context.Context, intentID string, st model.TransactionStatus) error
}

// Notifier sends the customer-facing emails the payment flow triggers.
type Notifier interface {
	CaptureIncreaseEmail(ctx context.Context, b model.Booking, newTotalCents int64) error
}

type Lifecycle struct {
	client   Client
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

func NewLifecycle(client Client, store Store, notifier Notifier, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{client: client, store: store, notifier: notifier, logger: logger}
}

type AuthorizeResult struct {
	PaymentIntentID string
	ClientSecret    string
	TransactionID   string
}

// Authorize creates a manual-capture hold and mirrors it onto a local
// transaction row. bookingID may be empty for pre-booking holds.
func (l *Lifecycle) Authorize(ctx context.Context, bookingID string, amountCents int64, currency, paymentMethod string) (AuthorizeResult, error) {
	if amountCents < MinChargeCents || amountCents > MaxChargeCents {
		return AuthorizeResult{}, fmt.Errorf("%w: %d cents", ErrInvalidAmount, amountCents)
	}

	var booking model.Booking
	if bookingID != "" {
		if err := model.ValidateBookingID(bookingID); err != nil {
			return AuthorizeResult{}, err
		}
		var err error
		booking, err = l.store.GetBooking(ctx, bookingID)
		if err != nil {
			return AuthorizeResult{}, err
		}
		if booking.PaymentStatus == model.PaymentCaptured || booking.PaymentStatus == model.PaymentCompleted {
			return AuthorizeResult{}, &StateConflictError{Op: "authorize", PaymentStatus: booking.PaymentStatus}
		}
	}

	var intent Intent
	res := Call(ctx, l.logger, "payment_intent.create", IntentCallTimeout, DefaultMaxAttempts, func(ctx context.Context) error {
		var err error
		intent, err = l.client.Authorize(ctx, AuthorizeParams{
			AmountCents:   amountCents,
			Currency:      currency,
			PaymentMethod: paymentMethod,
			BookingID:     bookingID,
		})
		return err
	})
	if res.Outcome == OutcomeTimeout {
		return AuthorizeResult{}, ErrStillProcessing
	}
	if !res.OK() {
		return AuthorizeResult{}, res.Err
	}

	txStatus := model.TxPending
	if out, ok := model.MapIntentStatus(intent.Status); ok {
		txStatus = out.Transaction
	}
	txID, err := l.store.CreateTransaction(ctx, model.Transaction{
		BookingID:       bookingID,
		PaymentIntentID: intent.ID,
		Kind:            model.TxKindAuthorize,
		Status:          txStatus,
		AmountCents:     amountCents,
		Currency:        currency,
	})
	if err != nil {
		return AuthorizeResult{}, err
	}

	if bookingID != "" {
		if err := l.store.SetBookingIntent(ctx, bookingID, intent.ID); err != nil {
			return AuthorizeResult{}, err
		}
		if out, ok := model.MapIntentStatus(intent.Status); ok {
			if model.CanTransitionBooking(booking.Status, out.Booking) {
				if err := l.store.SetBookingPaymentState(ctx, bookingID, out.Booking, out.Payment); err != nil {
					return AuthorizeResult{}, err
				}
			}
		}
	}

	return AuthorizeResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		TransactionID:   txID,
	}, nil
}

type CaptureResult struct {
	AmountCapturedCents int64
	NoOp                bool
}

// Capture captures the booking's held authorization. amountCents == 0
// captures the full capturable amount; an amount above the original
// authorization increments the hold first and emails the customer the new
// total. Capturing an already-captured payment is a benign no-op.
func (l *Lifecycle) Capture(ctx context.Context, bookingID string, amountCents int64) (CaptureResult, error) {
	if err := model.ValidateBookingID(bookingID); err != nil {
		return CaptureResult{}, err
	}
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return CaptureResult{}, err
	}
	if booking.PaymentIntentID == "" {
		return CaptureResult{}, ErrNoPaymentIntent
	}
	if booking.PaymentStatus == model.PaymentCaptured || booking.PaymentStatus == model.PaymentCompleted {
		l.logger.Info("capture requested on already-captured payment", "booking_id", bookingID)
		return CaptureResult{NoOp: true}, nil
	}
	if booking.PaymentStatus != model.PaymentAuthorized {
		return CaptureResult{}, &StateConflictError{Op: "capture", PaymentStatus: booking.PaymentStatus}
	}

	intent, err := l.client.Get(ctx, booking.PaymentIntentID)
	if err != nil {
		return CaptureResult{}, err
	}

	if amountCents > intent.AmountCapturableCents && intent.AmountCapturableCents > 0 {
		incRes := Call(ctx, l.logger, "payment_intent.increment", IntentCallTimeout, DefaultMaxAttempts, func(ctx context.Context) error {
			var err error
			intent, err = l.client.IncrementAuthorization(ctx, booking.PaymentIntentID, amountCents)
			return err
		})
		if incRes.Outcome == OutcomeTimeout {
			return CaptureResult{}, ErrStillProcessing
		}
		if !incRes.OK() {
			return CaptureResult{}, incRes.Err
		}
		if l.notifier != nil {
			if err := l.notifier.CaptureIncreaseEmail(ctx, booking, amountCents); err != nil {
				l.logger.Warn("capture increase email failed", "booking_id", bookingID, "err", err)
			}
		}
	}

	captured := intent
	capRes := Call(ctx, l.logger, "payment_intent.capture", IntentCallTimeout, DefaultMaxAttempts, func(ctx context.Context) error {
		var err error
		captured, err = l.client.Capture(ctx, booking.PaymentIntentID, amountCents)
		return err
	})
	if capRes.Outcome == OutcomeTimeout {
		return CaptureResult{}, ErrStillProcessing
	}
	if !capRes.OK() {
		if IsTerminalStateErr(capRes.Err) {
			// Raced with a webhook or another caller; already captured.
			l.logger.Info("capture no-op, intent already terminal", "booking_id", bookingID, "err", capRes.Err)
			return CaptureResult{NoOp: true}, nil
		}
		return CaptureResult{}, capRes.Err
	}

	amount := captured.AmountReceivedCents
	if amount == 0 {
		amount = amountCents
	}

	// Booking first: the transaction write is preconditioned on it.
	if err := l.store.SetBookingPaymentState(ctx, bookingID, model.BookingConfirmed, model.PaymentCaptured); err != nil {
		return CaptureResult{}, err
	}
	if _, err := l.store.CreateTransaction(ctx, model.Transaction{
		BookingID:       bookingID,
		PaymentIntentID: booking.PaymentIntentID,
		Kind:            model.TxKindCapture,
		Status:          model.TxCompleted,
		AmountCents:     amount,
		Currency:        "usd",
	}); err != nil {
		return CaptureResult{}, err
	}

	return CaptureResult{AmountCapturedCents: amount}, nil
}

type CancelResult struct {
	Refunded bool
	NoOp     bool
}

// CancelAuthorization reverses an uncaptured hold, or refunds a captured
// one. Terminal-state rejections are tolerated so cleanup sweeps stay
// idempotent.
func (l *Lifecycle) CancelAuthorization(ctx context.Context, bookingID string) (CancelResult, error) {
	if err := model.ValidateBookingID(bookingID); err != nil {
		return CancelResult{}, err
	}
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return CancelResult{}, err
	}
	if booking.PaymentIntentID == "" {
		return CancelResult{NoOp: true}, nil
	}

	if booking.PaymentStatus == model.PaymentCaptured || booking.PaymentStatus == model.PaymentCompleted {
		var refundedCents int64
		if intent, err := l.client.Get(ctx, booking.PaymentIntentID); err == nil {
			refundedCents = intent.AmountReceivedCents
		}
		res := Call(ctx, l.logger, "refund.create", IntentCallTimeout, DefaultMaxAttempts, func(ctx context.Context) error {
			return l.client.Refund(ctx, booking.PaymentIntentID)
		})
		if res.Outcome == OutcomeTimeout {
			return CancelResult{}, ErrStillProcessing
		}
		if !res.OK() {
			return CancelResult{}, res.Err
		}
		if err := l.store.SetBookingPaymentState(ctx, bookingID, model.BookingCancelled, model.PaymentRefunded); err != nil {
			return CancelResult{}, err
		}
		if _, err := l.store.CreateTransaction(ctx, model.Transaction{
			BookingID:       bookingID,
			PaymentIntentID: booking.PaymentIntentID,
			Kind:            model.TxKindRefund,
			Status:          model.TxRefunded,
			AmountCents:     refundedCents,
			Currency:        "usd",
		}); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{Refunded: true}, nil
	}

	res := Call(ctx, l.logger, "payment_intent.cancel", IntentCallTimeout, DefaultMaxAttempts, func(ctx context.Context) error {
		_, err := l.client.Cancel(ctx, booking.PaymentIntentID)
		return err
	})
	if res.Outcome == OutcomeTimeout {
		return CancelResult{}, ErrStillProcessing
	}
	if !res.OK() {
		if IsTerminalStateErr(res.Err) {
			l.logger.Info("cancel no-op, intent already terminal", "booking_id", bookingID, "err", res.Err)
			return CancelResult{NoOp: true}, nil
		}
		return CancelResult{}, res.Err
	}

	if model.CanTransitionPayment(booking.PaymentStatus, model.PaymentCancelled) {
		if err := l.store.SetBookingPaymentState(ctx, bookingID, model.BookingCancelled, model.PaymentCancelled); err != nil {
			return CancelResult{}, err
		}
	}
	if err := l.store.UpdateTransactionStatusByIntent(ctx, booking.PaymentIntentID, model.TxCancelled); err != nil {
		l.logger.Warn("cancel transaction update failed", "booking_id", bookingID, "err", err)
	}
	return CancelResult{}, nil
}

// ReleaseHold voids the booking's external authorization without touching
// local state. The cleanup sweep pairs it with its own conditional expiry
// write, so a failed release leaves the row eligible for the next pass and
// the payment status ends up expired rather than cancelled.
func (l *Lifecycle) ReleaseHold(ctx context.Context, bookingID string) (released bool, err error) {
	if err := model.ValidateBookingID(bookingID); err != nil {
		return false, err
	}
	booking, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if booking.PaymentIntentID == "" {
		return false, nil
	}
	if booking.PaymentStatus == model.PaymentCaptured || booking.PaymentStatus == model.PaymentCompleted {
		return false, &StateConflictError{Op: "release", PaymentStatus: booking.PaymentStatus}
	}

	res := Call(ctx, l.logger, "payment_intent.cancel", IntentCallTimeout, DefaultMaxAttempts, func(ctx context.Context) error {
		_, err := l.client.Cancel(ctx, booking.PaymentIntentID)
		return err
	})
	if res.Outcome == OutcomeTimeout {
		return false, ErrStillProcessing
	}
	if !res.OK() {
		if IsTerminalStateErr(res.Err) {
			l.logger.Info("release no-op, intent already terminal", "booking_id", bookingID, "err", res.Err)
			return false, nil
		}
		return false, res.Err
	}
	return true, nil
}
