package delivery

import (
	"context"
	"time"

	"github.com/tap-labs/tap-go"
)

// DefaultRetryCap and DefaultRetryBase are the Open Question resolution
// from section 7's retry policy: three attempts, 250ms exponential base.
const (
	DefaultRetryCap  = 3
	DefaultRetryBase = 250 * time.Millisecond
)

// Attempter performs one delivery attempt (an HTTPS POST, a return-path
// hand-off) and reports its outcome: httpStatus is 0 when the transport
// itself failed before getting a response.
type Attempter func(ctx context.Context) (httpStatus int, err error)

// Retry drives up to cap attempts of fn against the record identified by
// id, sleeping base*2^n between attempts, updating the tracker after each
// one. It stops at the first success, cancellation, or once the cap is
// exhausted, leaving the record terminally Failed in the latter two cases.
func (t *Tracker) Retry(ctx context.Context, id int64, maxAttempts int, base time.Duration, fn Attempter) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryCap
	}
	if base <= 0 {
		base = DefaultRetryBase
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := base * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return t.failCancelled(id)
			case <-time.After(delay):
			}
		}

		select {
		case <-ctx.Done():
			return t.failCancelled(id)
		default:
		}

		status, err := fn(ctx)
		if err == nil {
			success := StatusSuccess
			_ = t.Update(id, Patch{Status: &success, LastHTTPStatus: &status, Delivered: true})
			return nil
		}

		msg := err.Error()
		if attempt == maxAttempts-1 {
			failed := StatusFailed
			_ = t.Update(id, Patch{Status: &failed, LastHTTPStatus: &status, Error: &msg, IncrementRetry: true, Delivered: true})
			return tap.NewDeliveryError("", "", "unreachable", status, err)
		}
		_ = t.Update(id, Patch{LastHTTPStatus: &status, Error: &msg, IncrementRetry: true})
	}
	return nil
}

func (t *Tracker) failCancelled(id int64) error {
	failed := StatusFailed
	cancelled := "cancelled"
	_ = t.Update(id, Patch{Status: &failed, Error: &cancelled, Delivered: true})
	return tap.NewDeliveryError("", "", "cancelled", 0, context.Canceled)
}
