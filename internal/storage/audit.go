package storage

import (
	"context"
	"encoding/json"
)

// InsertAudit appends an audit_log row. Audit writes are best-effort at call
// sites; the error is returned so callers can decide whether to log or fail.
func (r *Repository) InsertAudit(ctx context.Context, action, entityID string, details map[string]any) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (action, entity_id, details)
		VALUES ($1, NULLIF($2, '')::uuid, $3)
	`, action, entityID, payload)
	return err
}
