package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/hangtight/bookingd/libs/db"

	"github.com/hangtight/bookingd/internal/model"
)

// SweepStore lists bookings whose payment state may have drifted.
type SweepStore interface {
	ListBookingsForReconcile(ctx context.Context, olderThan time.Duration, limit int) ([]model.Booking, error)
}

// Sweeper periodically reconciles every booking still holding a live
// authorization, catching transitions missed by both the inline checks and
// the webhook. Only one instance runs at a time via a pg advisory lock.
type Sweeper struct {
	pool        *db.Pool
	coord       *Coordinator
	store       SweepStore
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	grace       time.Duration
	advisoryKey int64
}

type SweeperConfig struct {
	Interval        time.Duration
	BatchSize       int
	Grace           time.Duration // skip bookings touched more recently than this
	AdvisoryLockKey int64
}

func NewSweeper(pool *db.Pool, coord *Coordinator, store SweepStore, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Minute
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 7731002
	}
	return &Sweeper{
		pool:        pool,
		coord:       coord,
		store:       store,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		grace:       cfg.Grace,
		advisoryKey: cfg.AdvisoryLockKey,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, s.advisoryKey).Scan(&locked); err != nil {
			s.logger.Error("reconcile sweep: advisory lock query failed", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			s.logger.Info("reconcile sweep: lock held by another instance", "lock_key", s.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		defer func() {
			_, _ = s.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, s.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately so downtime drift is repaired without waiting a tick.
	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	bookings, err := s.store.ListBookingsForReconcile(ctx, s.grace, s.batchSize)
	if err != nil {
		s.logger.Error("reconcile sweep: list failed", "err", err)
		return
	}
	for _, b := range bookings {
		if ctx.Err() != nil {
			return
		}
		res, err := s.coord.Reconcile(ctx, b.ID, b.PaymentIntentID)
		if err != nil {
			s.logger.Warn("reconcile sweep: booking failed", "booking_id", b.ID, "err", err)
			continue
		}
		if !res.Consistent {
			s.logger.Info("reconcile sweep: repaired drift", "booking_id", b.ID, "fixes", res.FixesApplied)
		}
	}
}
