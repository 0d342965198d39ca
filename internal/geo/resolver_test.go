package geo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testStore(t *testing.T, shapes map[string]string) *Store {
	t.Helper()
	ds, err := NewDatasetFromWKT(shapes)
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	s := NewStore(func(context.Context) ([]byte, error) { return nil, errors.New("unused") })
	s.ds = ds
	return s
}

// Square query polygon from the booking UI: lat 29.9..30.0, lng -97.0..-96.9.
var queryVertices = []Point{
	{Lat: 30.0, Lng: -97.0},
	{Lat: 30.0, Lng: -96.9},
	{Lat: 29.9, Lng: -96.9},
	{Lat: 29.9, Lng: -97.0},
}

func TestZipsForPolygon_InsideAndOutside(t *testing.T) {
	store := testStore(t, map[string]string{
		// Fully inside the query square.
		"78701": "POLYGON((-96.97 29.93,-96.93 29.93,-96.93 29.97,-96.97 29.97,-96.97 29.93))",
		// Entirely outside.
		"75001": "POLYGON((-95.1 31.0,-95.0 31.0,-95.0 31.1,-95.1 31.1,-95.1 31.0))",
	})
	r := NewResolver(store)

	zips, err := r.ZipsForPolygon(context.Background(), queryVertices, DefaultMinAreaRatio)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(zips) != 1 || zips[0] != "78701" {
		t.Fatalf("expected [78701], got %v", zips)
	}
}

func TestZipsForPolygon_MinAreaRatio(t *testing.T) {
	store := testStore(t, map[string]string{
		// Sliver overlap: only 5% of this ZCTA lies inside the query square.
		"78640": "POLYGON((-97.095 29.92,-96.995 29.92,-96.995 29.98,-97.095 29.98,-97.095 29.92))",
	})
	r := NewResolver(store)

	zips, err := r.ZipsForPolygon(context.Background(), queryVertices, DefaultMinAreaRatio)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(zips) != 0 {
		t.Fatalf("expected sliver overlap filtered out, got %v", zips)
	}

	zips, err = r.ZipsForPolygon(context.Background(), queryVertices, 0)
	if err != nil {
		t.Fatalf("resolve without ratio: %v", err)
	}
	if len(zips) != 1 || zips[0] != "78640" {
		t.Fatalf("expected [78640] without ratio filter, got %v", zips)
	}
}

func TestZipsForPolygon_Deterministic(t *testing.T) {
	store := testStore(t, map[string]string{
		"78701": "POLYGON((-96.97 29.93,-96.93 29.93,-96.93 29.97,-96.97 29.97,-96.97 29.93))",
		"78702": "POLYGON((-96.99 29.91,-96.91 29.91,-96.91 29.99,-96.99 29.99,-96.99 29.91))",
	})
	r := NewResolver(store)

	first, err := r.ZipsForPolygon(context.Background(), queryVertices, DefaultMinAreaRatio)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.ZipsForPolygon(context.Background(), queryVertices, DefaultMinAreaRatio)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result set changed across runs: %v vs %v", first, again)
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("result set changed across runs: %v vs %v", first, again)
			}
		}
	}
}

func TestPolygonFromVertices_Rejections(t *testing.T) {
	if _, err := PolygonFromVertices([]Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}); !errors.Is(err, ErrInvalidPolygon) {
		t.Fatalf("expected invalid polygon for 2 vertices, got %v", err)
	}

	// Bowtie: edges cross, ring has a kink.
	kinked := []Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}, {Lat: 0, Lng: 1}}
	if _, err := PolygonFromVertices(kinked); !errors.Is(err, ErrInvalidPolygon) {
		t.Fatalf("expected invalid polygon for self-intersecting ring, got %v", err)
	}

	// An explicitly closed ring still needs 3 distinct corners.
	closedPair := []Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 0, Lng: 0}}
	if _, err := PolygonFromVertices(closedPair); !errors.Is(err, ErrInvalidPolygon) {
		t.Fatalf("expected invalid polygon for closed 2-corner ring, got %v", err)
	}
}

func TestKnownZips(t *testing.T) {
	store := testStore(t, map[string]string{
		"78701": "POLYGON((-96.97 29.93,-96.93 29.93,-96.93 29.97,-96.97 29.97,-96.97 29.93))",
	})
	r := NewResolver(store)

	zips, err := r.KnownZips(context.Background(), []string{"78701", "78701", "99999"})
	if err != nil {
		t.Fatalf("known zips: %v", err)
	}
	if len(zips) != 1 || zips[0] != "78701" {
		t.Fatalf("expected deduped [78701], got %v", zips)
	}

	if _, err := r.KnownZips(context.Background(), []string{"abcde"}); !errors.Is(err, ErrInvalidZip) {
		t.Fatalf("expected invalid zip error, got %v", err)
	}
}

func TestStore_ConcurrentLoadShared(t *testing.T) {
	var loads int64
	raw := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"ZCTA5CE20":"78216"},
		 "geometry":{"type":"Polygon","coordinates":[[[-98.5,29.5],[-98.4,29.5],[-98.4,29.6],[-98.5,29.6],[-98.5,29.5]]]}}]}`)
	store := NewStore(func(context.Context) ([]byte, error) {
		atomic.AddInt64(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return raw, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ds, err := store.Dataset(context.Background())
			if err != nil {
				t.Errorf("dataset: %v", err)
				return
			}
			if !ds.Has("78216") {
				t.Errorf("dataset missing 78216")
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&loads); n != 1 {
		t.Fatalf("expected one shared dataset load, got %d", n)
	}
}

func TestStore_LoadFailureNotMemoized(t *testing.T) {
	var calls int64
	store := NewStore(func(context.Context) ([]byte, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, errors.New("fetch failed")
		}
		return []byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{"zip":"78216"},
			 "geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}]}`), nil
	})

	if _, err := store.Dataset(context.Background()); !errors.Is(err, ErrDatasetUnavailable) {
		t.Fatalf("expected dataset unavailable, got %v", err)
	}
	ds, err := store.Dataset(context.Background())
	if err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
	if !ds.Has("78216") {
		t.Fatalf("expected 78216 after successful retry")
	}
}
