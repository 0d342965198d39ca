package coverage

import (
	"context"
	"time"

	"github.com/hangtight/bookingd/internal/model"
)

// OfferResult is what Accept and Decline report back. Late calls against an
// already-resolved offer come back with Applied=false and the status that
// won; callers treat that as a no-op, not an error.
type OfferResult struct {
	Applied  bool              `json:"applied"`
	Status   model.OfferStatus `json:"status"`
	Assigned bool              `json:"assigned"`
}

func (r *Repository) CreateOffers(ctx context.Context, bookingID string, candidates []Candidate) (int, error) {
	created := 0
	for _, c := range candidates {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO coverage_notifications (booking_id, worker_id, priority, status)
			VALUES ($1, $2, $3, 'pending')
			ON CONFLICT (booking_id, worker_id) DO NOTHING
		`, bookingID, c.WorkerID, c.Priority)
		if err != nil {
			return created, err
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *Repository) GetOffer(ctx context.Context, offerID string) (model.CoverageOffer, error) {
	var o model.CoverageOffer
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, booking_id::text, worker_id::text, priority, status, created_at
		FROM coverage_notifications
		WHERE id = $1
	`, offerID).Scan(&o.ID, &o.BookingID, &o.WorkerID, &o.Priority, &status, &o.CreatedAt)
	if err != nil {
		return model.CoverageOffer{}, err
	}
	o.Status = model.OfferStatus(status)
	return o, nil
}

// AcceptOffer resolves an offer in the accepting worker's favor if it is
// still pending. First accept wins: the status flip and the sibling
// decline both condition on 'pending', so only one worker gets Applied.
func (r *Repository) AcceptOffer(ctx context.Context, offerID string) (OfferResult, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE coverage_notifications
		SET status = 'accepted', resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`, offerID)
	if err != nil {
		return OfferResult{}, err
	}
	if tag.RowsAffected() == 0 {
		return r.lateResult(ctx, offerID)
	}

	// Siblings lose: any other pending offer for the booking is closed out.
	_, err = r.pool.Exec(ctx, `
		UPDATE coverage_notifications
		SET status = 'declined', resolved_at = now()
		WHERE booking_id = (SELECT booking_id FROM coverage_notifications WHERE id = $1)
			AND id <> $1
			AND status = 'pending'
	`, offerID)
	if err != nil {
		return OfferResult{}, err
	}
	return OfferResult{Applied: true, Status: model.OfferAccepted}, nil
}

func (r *Repository) DeclineOffer(ctx context.Context, offerID string) (OfferResult, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE coverage_notifications
		SET status = 'declined', resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`, offerID)
	if err != nil {
		return OfferResult{}, err
	}
	if tag.RowsAffected() == 0 {
		return r.lateResult(ctx, offerID)
	}
	return OfferResult{Applied: true, Status: model.OfferDeclined}, nil
}

func (r *Repository) lateResult(ctx context.Context, offerID string) (OfferResult, error) {
	o, err := r.GetOffer(ctx, offerID)
	if err != nil {
		return OfferResult{}, err
	}
	return OfferResult{Applied: false, Status: o.Status}, nil
}

// ExpireStaleOffers closes out pending offers older than the cutoff.
func (r *Repository) ExpireStaleOffers(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE coverage_notifications
		SET status = 'expired', resolved_at = now()
		WHERE status = 'pending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
