// Package geo resolves ZIP codes and drawn polygons against the ZCTA (ZIP
// Code Tabulation Area) reference polygon dataset.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/peterstace/simplefeatures/geom"
	"golang.org/x/sync/singleflight"
)

// Dataset is the immutable ZCTA reference geometry, keyed by 5-digit code.
type Dataset struct {
	regions map[string]geom.Geometry
}

func (d *Dataset) Has(zip string) bool {
	_, ok := d.regions[zip]
	return ok
}

func (d *Dataset) Len() int {
	return len(d.regions)
}

// zip property keys emitted by the various census ZCTA vintages.
var zipPropertyKeys = []string{"ZCTA5CE20", "ZCTA5CE10", "GEOID20", "zcta", "zip", "zipcode"}

// ParseDataset decodes a GeoJSON FeatureCollection of ZCTA polygons.
func ParseDataset(raw []byte) (*Dataset, error) {
	var fc geom.GeoJSONFeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("decode zcta feature collection: %w", err)
	}
	regions := make(map[string]geom.Geometry, len(fc))
	for _, f := range fc {
		zip := zipFromProperties(f.Properties)
		if zip == "" {
			continue
		}
		regions[zip] = f.Geometry
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("zcta dataset contains no usable features")
	}
	return &Dataset{regions: regions}, nil
}

// NewDatasetFromWKT builds a dataset from zip -> WKT geometry strings.
func NewDatasetFromWKT(shapes map[string]string) (*Dataset, error) {
	regions := make(map[string]geom.Geometry, len(shapes))
	for zip, wkt := range shapes {
		g, err := geom.UnmarshalWKT(wkt)
		if err != nil {
			return nil, fmt.Errorf("zcta %s: %w", zip, err)
		}
		regions[zip] = g
	}
	return &Dataset{regions: regions}, nil
}

func zipFromProperties(props map[string]interface{}) string {
	for _, key := range zipPropertyKeys {
		if v, ok := props[key]; ok {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// Store lazily loads the dataset once per process. Concurrent callers
// awaiting the first load share one in-flight load; a failed load is not
// memoized, so a later query retries it.
type Store struct {
	load func(context.Context) ([]byte, error)

	mu    sync.RWMutex
	ds    *Dataset
	group singleflight.Group
}

func NewStore(load func(context.Context) ([]byte, error)) *Store {
	return &Store{load: load}
}

// NewFileStore reads the dataset from a GeoJSON file on first use.
func NewFileStore(path string) *Store {
	return NewStore(func(context.Context) ([]byte, error) {
		return os.ReadFile(path)
	})
}

func (s *Store) Dataset(ctx context.Context) (*Dataset, error) {
	s.mu.RLock()
	ds := s.ds
	s.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}

	v, err, _ := s.group.Do("dataset", func() (any, error) {
		s.mu.RLock()
		ds := s.ds
		s.mu.RUnlock()
		if ds != nil {
			return ds, nil
		}
		raw, err := s.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatasetUnavailable, err)
		}
		ds, err = ParseDataset(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatasetUnavailable, err)
		}
		s.mu.Lock()
		s.ds = ds
		s.mu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dataset), nil
}
