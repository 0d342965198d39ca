package payments

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeNetErr struct {
	timeout bool
}

func (e fakeNetErr) Error() string   { return "conn reset" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return true }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCall_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	res := Call(context.Background(), discardLogger(), "op", time.Second, 3, func(context.Context) error {
		calls++
		return nil
	})
	if !res.OK() || res.Attempts != 1 || calls != 1 {
		t.Fatalf("expected single successful attempt, got %+v calls=%d", res, calls)
	}
}

func TestCall_HardFailureNotRetried(t *testing.T) {
	calls := 0
	res := Call(context.Background(), discardLogger(), "op", time.Second, 3, func(context.Context) error {
		calls++
		return errors.New("card declined")
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected hard failure, got %+v", res)
	}
	if calls != 1 {
		t.Fatalf("hard failures must not be retried, got %d calls", calls)
	}
}

func TestCall_TransientRetriedThenSuccess(t *testing.T) {
	calls := 0
	res := Call(context.Background(), discardLogger(), "op", time.Second, 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return fakeNetErr{}
		}
		return nil
	})
	if !res.OK() {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCall_TimeoutOutcome(t *testing.T) {
	res := Call(context.Background(), discardLogger(), "op", 10*time.Millisecond, 2, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout outcome, got %+v", res)
	}
	if res.Attempts != 2 {
		t.Fatalf("timeouts retry within budget, expected 2 attempts, got %d", res.Attempts)
	}
}

func TestCall_TransientExhaustedIsFailed(t *testing.T) {
	res := Call(context.Background(), discardLogger(), "op", time.Second, 2, func(context.Context) error {
		return fakeNetErr{}
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("explicit failures after retries surface as failed, got %+v", res)
	}
	if res.Err == nil {
		t.Fatalf("expected last error to be reported")
	}
}
