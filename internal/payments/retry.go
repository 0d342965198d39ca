package payments

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// IntentCallTimeout is the shared per-attempt budget for every
// payment-intent-class call.
const IntentCallTimeout = 15 * time.Second

// DefaultMaxAttempts bounds retries of transient failures.
const DefaultMaxAttempts = 3

const retryBaseDelay = 500 * time.Millisecond

// Outcome discriminates how an external call ended. Timeout means the true
// state is unknown and must be reconciled later; Failed is an explicit
// rejection.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeFailed
)

type CallResult struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

func (r CallResult) OK() bool { return r.Outcome == OutcomeSuccess }

// Call runs op with a per-attempt timeout, retrying transient and ambiguous
// failures up to maxAttempts. Exhausted timeouts yield OutcomeTimeout so
// callers can report "taking longer than expected" instead of a hard failure
// and leave convergence to reconciliation.
func Call(ctx context.Context, logger *slog.Logger, name string, timeout time.Duration, maxAttempts int, op func(context.Context) error) CallResult {
	if timeout <= 0 {
		timeout = IntentCallTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	sawTimeout := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return CallResult{Outcome: OutcomeSuccess, Attempts: attempt}
		}
		lastErr = err

		switch {
		case isTimeout(err):
			sawTimeout = true
		case retryableExternalErr(err) || isNetworkErr(err):
			// transient, retry below
		default:
			return CallResult{Outcome: OutcomeFailed, Attempts: attempt, Err: err}
		}

		if logger != nil {
			logger.Warn("external call retrying", "call", name, "attempt", attempt, "err", err)
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return CallResult{Outcome: OutcomeTimeout, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}
	}

	outcome := OutcomeFailed
	if sawTimeout {
		outcome = OutcomeTimeout
	}
	return CallResult{Outcome: outcome, Attempts: maxAttempts, Err: lastErr}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetworkErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}
