package outbox

import (
	"encoding/json"
	"time"

	"github.com/hangtight/bookingd/internal/model"
)

// Topic names. The Kafka topic equals the event type, one event per topic.
const (
	TopicBookingChanged = "booking.changed.v1"
	TopicPaymentChanged = "payment.changed.v1"
	TopicCoverageOffer  = "coverage.offer.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type bookingChangedPayload struct {
	BookingID     string    `json:"booking_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	WorkerID      string    `json:"worker_id,omitempty"`
	Zip           string    `json:"zip"`
	ChangedAt     time.Time `json:"changed_at"`
}

func BookingChanged(b model.Booking) Event {
	payload, _ := json.Marshal(bookingChangedPayload{
		BookingID:     b.ID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		WorkerID:      b.WorkerID,
		Zip:           b.Zip,
		ChangedAt:     time.Now().UTC(),
	})
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     TopicBookingChanged,
		Payload:       payload,
	}
}

type paymentChangedPayload struct {
	BookingID     string    `json:"booking_id"`
	IntentID      string    `json:"payment_intent_id"`
	PaymentStatus string    `json:"payment_status"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

func PaymentChanged(b model.Booking, amountCents int64) Event {
	payload, _ := json.Marshal(paymentChangedPayload{
		BookingID:     b.ID,
		IntentID:      b.PaymentIntentID,
		PaymentStatus: string(b.PaymentStatus),
		AmountCents:   amountCents,
		ChangedAt:     time.Now().UTC(),
	})
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     TopicPaymentChanged,
		Payload:       payload,
	}
}

type coverageOfferPayload struct {
	BookingID string    `json:"booking_id"`
	Zip       string    `json:"zip"`
	Offers    int       `json:"offers"`
	ChangedAt time.Time `json:"changed_at"`
}

func CoverageOffered(b model.Booking, offers int) Event {
	payload, _ := json.Marshal(coverageOfferPayload{
		BookingID: b.ID,
		Zip:       b.Zip,
		Offers:    offers,
		ChangedAt: time.Now().UTC(),
	})
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     TopicCoverageOffer,
		Payload:       payload,
	}
}
