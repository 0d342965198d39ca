package model

import "testing"

func TestCanTransitionBooking(t *testing.T) {
	if !CanTransitionBooking(BookingPending, BookingPaymentPending) {
		t.Fatalf("pending -> payment_pending should be allowed")
	}
	if !CanTransitionBooking(BookingPaymentPending, BookingPaymentAuthorized) {
		t.Fatalf("payment_pending -> payment_authorized should be allowed")
	}
	if !CanTransitionBooking(BookingPaymentAuthorized, BookingConfirmed) {
		t.Fatalf("payment_authorized -> confirmed should be allowed")
	}
	if CanTransitionBooking(BookingCompleted, BookingPending) {
		t.Fatalf("completed is terminal, cannot regress to pending")
	}
	if CanTransitionBooking(BookingCancelled, BookingConfirmed) {
		t.Fatalf("cancelled is terminal")
	}
	if !CanTransitionBooking(BookingConfirmed, BookingConfirmed) {
		t.Fatalf("same-status write must be a permitted no-op")
	}
}

func TestCanTransitionPayment(t *testing.T) {
	if !CanTransitionPayment(PaymentPending, PaymentAuthorized) {
		t.Fatalf("pending -> authorized should be allowed")
	}
	if !CanTransitionPayment(PaymentAuthorized, PaymentCaptured) {
		t.Fatalf("authorized -> captured should be allowed")
	}
	if !CanTransitionPayment(PaymentCaptured, PaymentRefunded) {
		t.Fatalf("captured -> refunded should be allowed")
	}
	if CanTransitionPayment(PaymentCaptured, PaymentPending) {
		t.Fatalf("captured cannot regress to pending")
	}
	if CanTransitionPayment(PaymentRefunded, PaymentCaptured) {
		t.Fatalf("refunded is terminal")
	}
}

func TestMapIntentStatus_CapturedImpliesConfirmedFamily(t *testing.T) {
	out, ok := MapIntentStatus("succeeded")
	if !ok {
		t.Fatalf("succeeded must map")
	}
	if !ConfirmedFamily(out.Booking) {
		t.Fatalf("a captured payment must leave the booking confirmed-family, got %s", out.Booking)
	}
	if out.Payment != PaymentCompleted {
		t.Fatalf("expected payment_status completed, got %s", out.Payment)
	}
}

func TestMapIntentStatus_Table(t *testing.T) {
	out, ok := MapIntentStatus("requires_capture")
	if !ok || out.Transaction != TxAuthorized || out.Booking != BookingPaymentAuthorized || out.Payment != PaymentAuthorized {
		t.Fatalf("requires_capture mapped to %+v", out)
	}
	out, ok = MapIntentStatus("canceled")
	if !ok || out.Transaction != TxFailed || out.Booking != BookingFailed || out.Payment != PaymentFailed {
		t.Fatalf("canceled mapped to %+v", out)
	}
	out, ok = MapIntentStatus("processing")
	if !ok || out.Transaction != TxPending || out.Booking != BookingPaymentPending || out.Payment != PaymentPending {
		t.Fatalf("processing mapped to %+v", out)
	}
	if _, ok := MapIntentStatus("definitely_not_a_status"); ok {
		t.Fatalf("unknown external status must not map")
	}
}

func TestValidateBookingID(t *testing.T) {
	if err := ValidateBookingID("3e0d2f8a-1b5c-4c7d-9f3e-6a0b1c2d3e4f"); err != nil {
		t.Fatalf("valid uuid rejected: %v", err)
	}
	if err := ValidateBookingID("not-a-uuid"); err == nil {
		t.Fatalf("non-uuid id must be rejected")
	}
	if err := ValidateBookingID(""); err == nil {
		t.Fatalf("empty id must be rejected")
	}
	// Placeholder values from test fixtures must never reach a payment call.
	if err := ValidateBookingID("00000000-0000-0000-0000-000000000000"); err == nil {
		t.Fatalf("placeholder id must be rejected")
	}
}

func TestBookingStatusesForTransaction(t *testing.T) {
	got := BookingStatusesForTransaction(TxAuthorized)
	found := false
	for _, s := range got {
		if s == BookingPaymentAuthorized {
			found = true
		}
	}
	if !found {
		t.Fatalf("authorized transaction must be compatible with payment_authorized booking, got %v", got)
	}
	for _, s := range BookingStatusesForTransaction(TxPending) {
		if TerminalBooking(s) {
			t.Fatalf("pending transaction must not pair with terminal booking status %s", s)
		}
	}
}
