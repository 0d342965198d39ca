// Package assign picks a worker for a new booking, or falls back to offering
// the booking to out-of-area workers when nobody covers the ZIP directly.
package assign

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hangtight/bookingd/internal/coverage"
	"github.com/hangtight/bookingd/internal/model"
)

// NoWorkersMessage is surfaced verbatim to the customer when nobody is
// eligible. The booking is still created; this is a degraded outcome, not
// an error.
const NoWorkersMessage = "no workers currently available for this area"

type CandidateSource interface {
	CandidatesForZip(ctx context.Context, zip string) ([]coverage.Candidate, error)
}

type OfferStore interface {
	CreateOffers(ctx context.Context, bookingID string, candidates []coverage.Candidate) (int, error)
}

// BookingStore persists the assignment. AssignWorker is conditional on the
// booking still being unassigned and reports whether this caller won.
type BookingStore interface {
	AssignWorker(ctx context.Context, bookingID, workerID string) (bool, error)
	HasScheduleConflict(ctx context.Context, workerID string, start time.Time, duration time.Duration) (bool, error)
}

type Result struct {
	AssignedWorkers []string             `json:"assigned_workers"`
	Candidates      []coverage.Candidate `json:"candidates,omitempty"`
	OffersSent      int                  `json:"offers_sent"`
	Message         string               `json:"message,omitempty"`
}

type Assigner struct {
	source   CandidateSource
	bookings BookingStore
	offers   OfferStore
	logger   *slog.Logger
}

func NewAssigner(source CandidateSource, bookings BookingStore, offers OfferStore, logger *slog.Logger) *Assigner {
	return &Assigner{source: source, bookings: bookings, offers: offers, logger: logger}
}

// Rank orders candidates by priority tier, then worker id for a stable
// result. It does not touch storage.
func Rank(candidates []coverage.Candidate) []coverage.Candidate {
	out := make([]coverage.Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].WorkerID < out[j].WorkerID
	})
	return out
}

// Assign resolves eligible workers for the booking and either assigns the
// best direct-area worker or dispatches offers to out-of-area tiers.
//
// Eligibility is coverage minus schedule conflicts. A direct-area worker
// (tier 1) is assigned immediately; when only tier 2/3 workers exist, each
// gets a pending offer and the booking stays unassigned until one accepts.
func (a *Assigner) Assign(ctx context.Context, b model.Booking) (Result, error) {
	candidates, err := a.source.CandidatesForZip(ctx, b.Zip)
	if err != nil {
		return Result{}, err
	}

	duration := time.Duration(b.DurationMinutes) * time.Minute
	eligible := make([]coverage.Candidate, 0, len(candidates))
	for _, c := range candidates {
		conflict, err := a.bookings.HasScheduleConflict(ctx, c.WorkerID, b.ScheduledAt, duration)
		if err != nil {
			return Result{}, err
		}
		if conflict {
			continue
		}
		eligible = append(eligible, c)
	}
	eligible = Rank(eligible)

	if len(eligible) == 0 {
		a.logger.Info("no eligible workers", "booking_id", b.ID, "zip", b.Zip)
		return Result{AssignedWorkers: []string{}, Message: NoWorkersMessage}, nil
	}

	if eligible[0].Priority == model.PriorityDirectArea {
		for _, c := range eligible {
			if c.Priority != model.PriorityDirectArea {
				break
			}
			won, err := a.bookings.AssignWorker(ctx, b.ID, c.WorkerID)
			if err != nil {
				return Result{}, err
			}
			if won {
				return Result{AssignedWorkers: []string{c.WorkerID}, Candidates: eligible}, nil
			}
			// Lost the race to another writer; the booking is taken.
			return Result{AssignedWorkers: []string{}, Candidates: eligible, Message: "booking already assigned"}, nil
		}
	}

	sent, err := a.offers.CreateOffers(ctx, b.ID, eligible)
	if err != nil {
		return Result{}, err
	}
	a.logger.Info("coverage offers dispatched", "booking_id", b.ID, "zip", b.Zip, "offers", sent)
	return Result{
		AssignedWorkers: []string{},
		Candidates:      eligible,
		OffersSent:      sent,
		Message:         "booking offered to nearby workers",
	}, nil
}

// AcceptOffer resolves a coverage offer in the worker's favor and, when the
// offer wins, assigns them to the booking. Late accepts are no-ops.
func (a *Assigner) AcceptOffer(ctx context.Context, offers *coverage.Repository, offerID string) (coverage.OfferResult, error) {
	offer, err := offers.GetOffer(ctx, offerID)
	if err != nil {
		return coverage.OfferResult{}, err
	}
	res, err := offers.AcceptOffer(ctx, offerID)
	if err != nil || !res.Applied {
		return res, err
	}
	won, err := a.bookings.AssignWorker(ctx, offer.BookingID, offer.WorkerID)
	if err != nil {
		return res, err
	}
	res.Assigned = won
	if !won {
		a.logger.Warn("offer accepted but booking already assigned", "offer_id", offerID, "booking_id", offer.BookingID)
	}
	return res, nil
}
