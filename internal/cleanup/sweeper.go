// Package cleanup expires bookings stuck in an unpaid or abandoned state,
// releasing any outstanding card authorization.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hangtight/bookingd/internal/model"
)

// Age thresholds. Fully-unpaid abandoned bookings are cut quickly; bookings
// that at least reached a payment attempt get the longer janitor window.
const (
	AbandonedAfter      = 30 * time.Minute
	PaymentPendingAfter = 3 * time.Hour
)

// Store is the persistence surface. MarkExpired must be conditional on the
// row still being in a sweepable status so re-running the sweep over the
// same window never double-cancels.
type Store interface {
	ListStaleBookings(ctx context.Context, statuses []model.BookingStatus, cutoff time.Time, limit int) ([]model.Booking, error)
	MarkBookingExpired(ctx context.Context, id string, statuses []model.BookingStatus) (bool, error)
	ExpireStaleOffers(ctx context.Context, cutoff time.Time) (int, error)
	InsertAudit(ctx context.Context, action, entityID string, details map[string]any) error
}

// Canceller voids an outstanding external authorization without writing any
// local booking state; the sweep owns the expiry write so its status
// precondition keeps holding. released reports whether a live hold was
// actually voided, as opposed to a tolerated no-op (no hold, already
// terminal). Any error fails that row only.
type Canceller interface {
	ReleaseHold(ctx context.Context, bookingID string) (released bool, err error)
}

type Report struct {
	CleanedUp       int `json:"cleaned_up"`
	CanceledIntents int `json:"canceled_intents"`
	FailedCount     int `json:"failed_count"`
	ExpiredOffers   int `json:"expired_offers"`
}

type Sweeper struct {
	store     Store
	canceller Canceller
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	// name distinguishes the abandoned sweep from the janitor in logs and
	// audit rows.
	name     string
	maxAge   time.Duration
	statuses []model.BookingStatus
}

type SweeperConfig struct {
	Name      string
	MaxAge    time.Duration
	Statuses  []model.BookingStatus
	Interval  time.Duration
	BatchSize int
}

func NewSweeper(store Store, canceller Canceller, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = []model.BookingStatus{model.BookingPending, model.BookingPaymentPending}
	}
	return &Sweeper{
		store:     store,
		canceller: canceller,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		name:      cfg.Name,
		maxAge:    cfg.MaxAge,
		statuses:  cfg.Statuses,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("cleanup sweep failed", "sweep", s.name, "err", err)
			}
		}
	}
}

// SweepOnce runs one pass. It is safely re-entrant: candidates are selected
// by status, and the expiry write is conditional on that status still
// holding, so a second pass over the same window finds nothing to do.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report
	cutoff := time.Now().UTC().Add(-s.maxAge)

	stale, err := s.store.ListStaleBookings(ctx, s.statuses, cutoff, s.batchSize)
	if err != nil {
		return report, err
	}

	for _, b := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if b.PaymentIntentID != "" {
			released, err := s.canceller.ReleaseHold(ctx, b.ID)
			if err != nil {
				s.logger.Warn("cleanup: release hold failed", "sweep", s.name, "booking_id", b.ID, "err", err)
				report.FailedCount++
				continue
			}
			if released {
				report.CanceledIntents++
			}
		}

		done, err := s.store.MarkBookingExpired(ctx, b.ID, s.statuses)
		if err != nil {
			s.logger.Warn("cleanup: expire failed", "sweep", s.name, "booking_id", b.ID, "err", err)
			report.FailedCount++
			continue
		}
		if !done {
			// Raced with a payment completing or another sweep; expected.
			continue
		}
		report.CleanedUp++

		if err := s.store.InsertAudit(ctx, "booking.expired."+s.name, b.ID, map[string]any{
			"status":    string(b.Status),
			"age_limit": s.maxAge.String(),
		}); err != nil {
			s.logger.Warn("cleanup: audit insert failed", "sweep", s.name, "booking_id", b.ID, "err", err)
		}
	}

	// Pending coverage offers older than a day can never be accepted
	// usefully; expire them so the booking can be re-offered.
	expired, err := s.store.ExpireStaleOffers(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn("cleanup: offer expiry failed", "sweep", s.name, "err", err)
	} else {
		report.ExpiredOffers = expired
	}

	if report.CleanedUp > 0 || report.FailedCount > 0 {
		s.logger.Info("cleanup sweep finished",
			"sweep", s.name,
			"cleaned_up", report.CleanedUp,
			"canceled_intents", report.CanceledIntents,
			"failed", report.FailedCount,
		)
	}
	return report, nil
}
