package coverage

import (
	"context"
	"time"

	"github.com/hangtight/bookingd/internal/cache"
)

// CachedCandidates fronts CandidatesForZip with a short TTL cache. Service
// areas change rarely next to booking volume, and concurrent bookings for
// the same ZIP share one lookup.
type CachedCandidates struct {
	repo  *Repository
	cache *cache.Cache
}

func NewCachedCandidates(repo *Repository, ttl time.Duration) *CachedCandidates {
	return &CachedCandidates{repo: repo, cache: cache.New(ttl)}
}

func (c *CachedCandidates) CandidatesForZip(ctx context.Context, zip string) ([]Candidate, error) {
	v, err := c.cache.GetOrLoad(ctx, zip, func(ctx context.Context) (any, error) {
		return c.repo.CandidatesForZip(ctx, zip)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candidate), nil
}

// Invalidate drops a ZIP's cached candidates, for callers that just changed
// a service area covering it.
func (c *CachedCandidates) Invalidate(zip string) {
	c.cache.Invalidate(zip)
}
