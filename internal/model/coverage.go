package model

import "time"

// WorkerServiceArea is a named ZIP-code set a worker accepts bookings from.
type WorkerServiceArea struct {
	ID        string
	WorkerID  string
	Name      string
	Zipcodes  []string
	Active    bool
	CreatedAt time.Time
}

// Offer priority tiers. Lower is closer.
const (
	PriorityDirectArea = 1
	PriorityNearby     = 2
	PriorityRegional   = 3
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// CoverageOffer is an ephemeral booking offer to an out-of-area worker when
// no direct-area worker is available. First accept wins.
type CoverageOffer struct {
	ID        string
	BookingID string
	WorkerID  string
	Priority  int
	Status    OfferStatus
	CreatedAt time.Time
}
