package assign

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hangtight/bookingd/internal/coverage"
	"github.com/hangtight/bookingd/internal/model"
)

type fakeSource struct {
	candidates []coverage.Candidate
}

func (f *fakeSource) CandidatesForZip(ctx context.Context, zip string) ([]coverage.Candidate, error) {
	return f.candidates, nil
}

type fakeBookings struct {
	conflicts map[string]bool
	assigned  map[string]string
}

func (f *fakeBookings) AssignWorker(ctx context.Context, bookingID, workerID string) (bool, error) {
	if f.assigned == nil {
		f.assigned = map[string]string{}
	}
	if _, taken := f.assigned[bookingID]; taken {
		return false, nil
	}
	f.assigned[bookingID] = workerID
	return true, nil
}

func (f *fakeBookings) HasScheduleConflict(ctx context.Context, workerID string, start time.Time, duration time.Duration) (bool, error) {
	return f.conflicts[workerID], nil
}

type fakeOffers struct {
	created []coverage.Candidate
}

func (f *fakeOffers) CreateOffers(ctx context.Context, bookingID string, candidates []coverage.Candidate) (int, error) {
	f.created = append(f.created, candidates...)
	return len(candidates), nil
}

func testAssigner(src *fakeSource, bk *fakeBookings, off *fakeOffers) *Assigner {
	return NewAssigner(src, bk, off, slog.New(slog.DiscardHandler))
}

func testBooking() model.Booking {
	return model.Booking{
		ID:              "b1",
		Zip:             "78216",
		ScheduledAt:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 90,
	}
}

func TestAssign_DirectAreaWorkerWins(t *testing.T) {
	src := &fakeSource{candidates: []coverage.Candidate{
		{WorkerID: "w2", Priority: model.PriorityNearby},
		{WorkerID: "w1", Priority: model.PriorityDirectArea},
	}}
	bk := &fakeBookings{}
	off := &fakeOffers{}

	res, err := testAssigner(src, bk, off).Assign(context.Background(), testBooking())
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(res.AssignedWorkers) != 1 || res.AssignedWorkers[0] != "w1" {
		t.Fatalf("assigned = %v, want [w1]", res.AssignedWorkers)
	}
	if len(off.created) != 0 {
		t.Fatalf("offers created for direct assignment: %v", off.created)
	}
}

func TestAssign_NoWorkersIsDegradedNotError(t *testing.T) {
	res, err := testAssigner(&fakeSource{}, &fakeBookings{}, &fakeOffers{}).Assign(context.Background(), testBooking())
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if res.Message != NoWorkersMessage {
		t.Fatalf("message = %q, want %q", res.Message, NoWorkersMessage)
	}
	if res.AssignedWorkers == nil || len(res.AssignedWorkers) != 0 {
		t.Fatalf("assigned = %v, want empty non-nil slice", res.AssignedWorkers)
	}
}

func TestAssign_ScheduleConflictExcludesWorker(t *testing.T) {
	src := &fakeSource{candidates: []coverage.Candidate{
		{WorkerID: "w1", Priority: model.PriorityDirectArea},
		{WorkerID: "w2", Priority: model.PriorityDirectArea},
	}}
	bk := &fakeBookings{conflicts: map[string]bool{"w1": true}}

	res, err := testAssigner(src, bk, &fakeOffers{}).Assign(context.Background(), testBooking())
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(res.AssignedWorkers) != 1 || res.AssignedWorkers[0] != "w2" {
		t.Fatalf("assigned = %v, want [w2]", res.AssignedWorkers)
	}
}

func TestAssign_OnlyOutOfAreaDispatchesOffers(t *testing.T) {
	src := &fakeSource{candidates: []coverage.Candidate{
		{WorkerID: "w3", Priority: model.PriorityRegional},
		{WorkerID: "w2", Priority: model.PriorityNearby},
	}}
	bk := &fakeBookings{}
	off := &fakeOffers{}

	res, err := testAssigner(src, bk, off).Assign(context.Background(), testBooking())
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(res.AssignedWorkers) != 0 {
		t.Fatalf("assigned = %v, want none", res.AssignedWorkers)
	}
	if res.OffersSent != 2 || len(off.created) != 2 {
		t.Fatalf("offers sent = %d, want 2", res.OffersSent)
	}
	if off.created[0].WorkerID != "w2" {
		t.Fatalf("offers not ranked: first = %s, want w2", off.created[0].WorkerID)
	}
}

func TestRank_StableByPriorityThenWorker(t *testing.T) {
	ranked := Rank([]coverage.Candidate{
		{WorkerID: "w9", Priority: 3},
		{WorkerID: "w2", Priority: 1},
		{WorkerID: "w1", Priority: 1},
	})
	want := []string{"w1", "w2", "w9"}
	for i, w := range want {
		if ranked[i].WorkerID != w {
			t.Fatalf("ranked[%d] = %s, want %s", i, ranked[i].WorkerID, w)
		}
	}
}
