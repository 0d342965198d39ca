// Package coverage maps ZIP codes to the workers whose service areas reach
// them, and manages booking offers to out-of-area workers.
package coverage

import (
	"context"

	"github.com/hangtight/bookingd/libs/db"

	"github.com/hangtight/bookingd/internal/model"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Candidate is a worker eligible for a ZIP, tagged with how close their
// declared area is to it.
type Candidate struct {
	WorkerID string `json:"worker_id"`
	AreaName string `json:"area_name"`
	Priority int    `json:"priority"`
}

// CandidatesForZip returns active workers whose service areas reach the ZIP,
// best tier per worker. Tier 1 means the ZIP is declared in an area, tier 2
// a ZIP sharing the three-digit sectional prefix, tier 3 the wider
// single-digit region. The prefix tiers come from ZIP structure, not
// geometry, so they stay cheap enough to run on every booking.
func (r *Repository) CandidatesForZip(ctx context.Context, zip string) ([]Candidate, error) {
	if len(zip) != 5 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT a.worker_id::text, a.name,
			MIN(CASE
				WHEN z.zip = $1 THEN 1
				WHEN left(z.zip, 3) = left($1, 3) THEN 2
				ELSE 3
			END) AS priority
		FROM worker_service_areas a
		CROSS JOIN LATERAL unnest(a.zipcodes) AS z(zip)
		WHERE a.active
			AND left(z.zip, 1) = left($1, 1)
		GROUP BY a.worker_id, a.name
		ORDER BY priority, a.worker_id
	`, zip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	seen := map[string]bool{}
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.WorkerID, &c.AreaName, &c.Priority); err != nil {
			return nil, err
		}
		// A worker with several areas appears once, at their best tier.
		if seen[c.WorkerID] {
			continue
		}
		seen[c.WorkerID] = true
		out = append(out, c)
	}
	return out, rows.Err()
}

// ZipSummary reports, for one ZIP, how many active workers cover it and
// whether the asking worker is among them.
type ZipSummary struct {
	Zip         string `json:"zip"`
	WorkerCount int    `json:"worker_count"`
	Mine        bool   `json:"mine"`
}

// SummaryForZips aggregates declared coverage over a resolved ZIP set,
// relative to the given worker. ZIPs nobody covers come back with a zero
// count so the caller can show coverage gaps.
func (r *Repository) SummaryForZips(ctx context.Context, workerID string, zips []string) ([]ZipSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT q.zip,
			COUNT(DISTINCT a.worker_id),
			bool_or(a.worker_id::text = $2)
		FROM unnest($1::text[]) AS q(zip)
		LEFT JOIN worker_service_areas a
			ON a.active AND q.zip = ANY(a.zipcodes)
		GROUP BY q.zip
		ORDER BY q.zip
	`, zips, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ZipSummary
	for rows.Next() {
		var s ZipSummary
		var mine *bool
		if err := rows.Scan(&s.Zip, &s.WorkerCount, &mine); err != nil {
			return nil, err
		}
		if mine != nil {
			s.Mine = *mine
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) CreateArea(ctx context.Context, area *model.WorkerServiceArea) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO worker_service_areas (worker_id, name, zipcodes, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, area.WorkerID, area.Name, area.Zipcodes, area.Active).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) SetAreaActive(ctx context.Context, areaID string, active bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE worker_service_areas SET active = $2 WHERE id = $1
	`, areaID, active)
	return err
}
