package storage

import (
	"context"
	"errors"
)

// ErrDuplicateProviderEvent means the webhook event id was already recorded;
// the delivery is a retry and must not be processed again.
var ErrDuplicateProviderEvent = errors.New("provider event already processed")

// InsertProviderEvent records a webhook delivery by its provider event id.
func (r *Repository) InsertProviderEvent(ctx context.Context, eventID, eventType string, payload []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
	`, eventID, eventType, payload)
	if IsDuplicate(err) {
		return ErrDuplicateProviderEvent
	}
	return err
}
