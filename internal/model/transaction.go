package model

import "time"

// TransactionStatus mirrors the external payment intent's lifecycle on the
// local ledger row.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxAuthorized TransactionStatus = "authorized"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxCancelled  TransactionStatus = "cancelled"
	TxRefunded   TransactionStatus = "refunded"
)

// TransactionKind distinguishes ledger rows for the same booking.
type TransactionKind string

const (
	TxKindAuthorize TransactionKind = "authorize"
	TxKindCapture   TransactionKind = "capture"
	TxKindRefund    TransactionKind = "refund"
	TxKindCancel    TransactionKind = "cancel"
)

type Transaction struct {
	ID              string
	BookingID       string // empty for pre-booking holds
	PaymentIntentID string
	Kind            TransactionKind
	Status          TransactionStatus
	AmountCents     int64
	Currency        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var txTransitions = map[TransactionStatus][]TransactionStatus{
	TxPending:    {TxAuthorized, TxCompleted, TxFailed, TxCancelled},
	TxAuthorized: {TxCompleted, TxFailed, TxCancelled},
	TxCompleted:  {TxRefunded},
	TxFailed:     {},
	TxCancelled:  {},
	TxRefunded:   {},
}

func CanTransitionTransaction(cur, next TransactionStatus) bool {
	if cur == next {
		return true
	}
	for _, s := range txTransitions[cur] {
		if s == next {
			return true
		}
	}
	return false
}

// BookingStatusesForTransaction returns the booking statuses a booking must
// already hold before a transaction may be moved to st. The persistence layer
// enforces this precondition, which is why reconciliation writes the booking
// row before the transaction row.
func BookingStatusesForTransaction(st TransactionStatus) []BookingStatus {
	switch st {
	case TxPending:
		return []BookingStatus{BookingPending, BookingPaymentPending}
	case TxAuthorized:
		return []BookingStatus{BookingPaymentAuthorized, BookingConfirmed}
	case TxCompleted:
		return []BookingStatus{BookingConfirmed, BookingCompleted}
	case TxFailed:
		return []BookingStatus{BookingFailed, BookingCancelled}
	case TxCancelled, TxRefunded:
		return []BookingStatus{BookingCancelled, BookingConfirmed, BookingCompleted}
	default:
		return nil
	}
}
