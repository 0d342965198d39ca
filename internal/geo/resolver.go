package geo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/peterstace/simplefeatures/geom"
)

var (
	// ErrDatasetUnavailable means the ZCTA reference dataset could not be
	// loaded; no partial results are ever returned.
	ErrDatasetUnavailable = errors.New("zcta dataset unavailable")

	// ErrInvalidPolygon covers too few vertices and self-intersecting rings.
	ErrInvalidPolygon = errors.New("invalid polygon")

	ErrInvalidZip = errors.New("invalid zip code")
)

// DefaultMinAreaRatio excludes ZCTAs whose overlap with the query polygon is
// below a tenth of the ZCTA's own area.
const DefaultMinAreaRatio = 0.1

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// Point is a polygon vertex in latitude/longitude order, matching the wire
// format the map UI sends.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Resolver struct {
	store *Store
}

func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// ZipsForPolygon returns the sorted set of ZCTA codes whose reference
// geometry intersects the polygon described by vertices. The ring is closed
// automatically. minAreaRatio > 0 drops ZCTAs whose intersection area is
// below that fraction of the ZCTA area.
func (r *Resolver) ZipsForPolygon(ctx context.Context, vertices []Point, minAreaRatio float64) ([]string, error) {
	query, err := PolygonFromVertices(vertices)
	if err != nil {
		return nil, err
	}

	ds, err := r.store.Dataset(ctx)
	if err != nil {
		return nil, err
	}

	var zips []string
	for zip, region := range ds.regions {
		if !geom.Intersects(query, region) {
			continue
		}
		if minAreaRatio > 0 {
			ratio, err := intersectionRatio(query, region)
			if err != nil {
				return nil, fmt.Errorf("intersection for zcta %s: %w", zip, err)
			}
			if ratio < minAreaRatio {
				continue
			}
		}
		zips = append(zips, zip)
	}
	sort.Strings(zips)
	return zips, nil
}

// KnownZips filters the input to codes present in the reference dataset,
// deduplicated and sorted.
func (r *Resolver) KnownZips(ctx context.Context, zips []string) ([]string, error) {
	ds, err := r.store.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(zips))
	var out []string
	for _, z := range zips {
		z = strings.TrimSpace(z)
		if !zipPattern.MatchString(z) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidZip, z)
		}
		if _, dup := seen[z]; dup {
			continue
		}
		seen[z] = struct{}{}
		if ds.Has(z) {
			out = append(out, z)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ValidZip reports whether s looks like a 5-digit ZIP code.
func ValidZip(s string) bool {
	return zipPattern.MatchString(strings.TrimSpace(s))
}

// PolygonFromVertices builds a validated polygon from lat/lng vertices. The
// ring is closed automatically; fewer than 3 distinct vertices or a
// self-intersecting ring is rejected.
func PolygonFromVertices(vertices []Point) (geom.Geometry, error) {
	distinct := make([]Point, 0, len(vertices))
	for i, v := range vertices {
		if i > 0 && v == vertices[i-1] {
			continue
		}
		distinct = append(distinct, v)
	}
	// Drop an explicit closing vertex so the count check sees real corners.
	if len(distinct) > 1 && distinct[0] == distinct[len(distinct)-1] {
		distinct = distinct[:len(distinct)-1]
	}
	if len(distinct) < 3 {
		return geom.Geometry{}, fmt.Errorf("%w: need at least 3 vertices, got %d", ErrInvalidPolygon, len(distinct))
	}

	var sb strings.Builder
	sb.WriteString("POLYGON((")
	for i, v := range distinct {
		if i > 0 {
			sb.WriteString(",")
		}
		// WKT is lon lat.
		fmt.Fprintf(&sb, "%g %g", v.Lng, v.Lat)
	}
	fmt.Fprintf(&sb, ",%g %g))", distinct[0].Lng, distinct[0].Lat)

	g, err := geom.UnmarshalWKT(sb.String())
	if err != nil {
		// Validation failures here are kinks (self-intersecting edges).
		return geom.Geometry{}, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}
	return g, nil
}

func intersectionRatio(query, region geom.Geometry) (float64, error) {
	regionArea := region.Area()
	if regionArea == 0 {
		return 0, nil
	}
	overlap, err := geom.Intersection(query, region)
	if err != nil {
		return 0, err
	}
	return overlap.Area() / regionArea, nil
}
