package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the booking lifecycle status. The value set is part of the
// stored-data contract and must not change.
type BookingStatus string

const (
	BookingPending           BookingStatus = "pending"
	BookingPaymentPending    BookingStatus = "payment_pending"
	BookingPaymentAuthorized BookingStatus = "payment_authorized"
	BookingConfirmed         BookingStatus = "confirmed"
	BookingCompleted         BookingStatus = "completed"
	BookingCancelled         BookingStatus = "cancelled"
	BookingFailed            BookingStatus = "failed"
)

// PaymentStatus tracks the booking's payment side independently of its
// scheduling lifecycle.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentExpired    PaymentStatus = "expired"
	PaymentFailed     PaymentStatus = "failed"
)

type Booking struct {
	ID              string
	CustomerID      string // empty for guest bookings
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ServiceID       string
	Address         string
	Zip             string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          BookingStatus
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	WorkerID        string // empty until assigned
	Archived        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:           {BookingPaymentPending, BookingPaymentAuthorized, BookingConfirmed, BookingCancelled, BookingFailed},
	BookingPaymentPending:    {BookingPaymentAuthorized, BookingConfirmed, BookingCancelled, BookingFailed},
	BookingPaymentAuthorized: {BookingConfirmed, BookingCompleted, BookingCancelled, BookingFailed},
	BookingConfirmed:         {BookingCompleted, BookingCancelled, BookingFailed},
	BookingCompleted:         {},
	BookingCancelled:         {},
	BookingFailed:            {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentAuthorized, PaymentCaptured, PaymentCompleted, PaymentCancelled, PaymentExpired, PaymentFailed},
	PaymentAuthorized: {PaymentCaptured, PaymentCompleted, PaymentCancelled, PaymentExpired, PaymentFailed},
	PaymentCaptured:   {PaymentCompleted, PaymentRefunded},
	PaymentCompleted:  {PaymentRefunded},
	PaymentRefunded:   {},
	PaymentCancelled:  {},
	PaymentExpired:    {},
	PaymentFailed:     {},
}

// CanTransitionBooking reports whether moving a booking from cur to next is
// allowed. A same-status write is always allowed (no-op).
func CanTransitionBooking(cur, next BookingStatus) bool {
	if cur == next {
		return true
	}
	for _, s := range bookingTransitions[cur] {
		if s == next {
			return true
		}
	}
	return false
}

func CanTransitionPayment(cur, next PaymentStatus) bool {
	if cur == next {
		return true
	}
	for _, s := range paymentTransitions[cur] {
		if s == next {
			return true
		}
	}
	return false
}

// TerminalBooking reports whether a booking status admits no further
// transitions.
func TerminalBooking(s BookingStatus) bool {
	return len(bookingTransitions[s]) == 0
}

// ConfirmedFamily reports whether a booking status is in the confirmed or
// later happy-path family. A captured payment must always leave the booking
// in one of these.
func ConfirmedFamily(s BookingStatus) bool {
	return s == BookingConfirmed || s == BookingCompleted
}

var ErrInvalidBookingID = errors.New("invalid booking id")

// Placeholder ids from test fixtures and demos must never reach a live
// payment call.
var syntheticBookingIDs = map[string]struct{}{
	"00000000-0000-0000-0000-000000000000": {},
	"11111111-1111-1111-1111-111111111111": {},
	"ffffffff-ffff-ffff-ffff-ffffffffffff": {},
}

// ValidateBookingID rejects non-UUID and known placeholder booking ids.
func ValidateBookingID(id string) error {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ErrInvalidBookingID
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidBookingID
	}
	if _, ok := syntheticBookingIDs[id]; ok {
		return ErrInvalidBookingID
	}
	return nil
}
