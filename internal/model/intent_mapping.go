package model

// IntentOutcome is the canonical local triple derived from an external
// payment intent status. The external processor is the source of truth; local
// rows are a cache converged onto these values.
type IntentOutcome struct {
	Transaction TransactionStatus
	Booking     BookingStatus
	Payment     PaymentStatus
}

// MapIntentStatus maps a Stripe payment-intent status string to the canonical
// local triple. An intent holding funds ("requires_capture") maps to the
// distinct payment_authorized booking status; "confirmed" is reserved for
// captured payments.
func MapIntentStatus(external string) (IntentOutcome, bool) {
	switch external {
	case "requires_capture":
		return IntentOutcome{
			Transaction: TxAuthorized,
			Booking:     BookingPaymentAuthorized,
			Payment:     PaymentAuthorized,
		}, true
	case "succeeded":
		return IntentOutcome{
			Transaction: TxCompleted,
			Booking:     BookingConfirmed,
			Payment:     PaymentCompleted,
		}, true
	case "canceled", "failed":
		return IntentOutcome{
			Transaction: TxFailed,
			Booking:     BookingFailed,
			Payment:     PaymentFailed,
		}, true
	case "processing", "requires_action", "requires_confirmation", "requires_payment_method":
		return IntentOutcome{
			Transaction: TxPending,
			Booking:     BookingPaymentPending,
			Payment:     PaymentPending,
		}, true
	default:
		return IntentOutcome{}, false
	}
}
