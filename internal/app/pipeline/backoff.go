package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ghalamif/TraceFlow/internal/ports"
)

var errRetriesExhausted = errors.New("retry attempts exhausted")

// backoff produces an exponentially growing wait series with jitter.
// Each wait consumes one attempt; when the attempts are spent the next
// wait fails with errRetriesExhausted.
type backoff struct {
	current    time.Duration
	max        time.Duration
	multiplier float64
	remaining  int
}

func newBackoff(pol ports.Policy) *backoff {
	initial := pol.RetryInitialBackoff
	if initial <= 0 {
		initial = 50 * time.Millisecond
	}
	maxWait := pol.RetryMaxBackoff
	if maxWait <= 0 {
		maxWait = 3 * time.Second
	}
	mult := pol.RetryMultiplier
	if mult < 1 {
		mult = 2
	}
	return &backoff{
		current:    initial,
		max:        maxWait,
		multiplier: mult,
		remaining:  retryCeiling(pol),
	}
}

// retryCeiling is the effective MaxRetries, defaulted when unset.
func retryCeiling(pol ports.Policy) int {
	if pol.MaxRetries <= 0 {
		return 5
	}
	return pol.MaxRetries
}

func (b *backoff) wait(ctx context.Context) error {
	if b.remaining <= 0 {
		return errRetriesExhausted
	}
	b.remaining--

	// Full jitter over the current interval spreads reconnecting clients.
	d := time.Duration(rand.Int63n(int64(b.current) + 1))
	b.current = time.Duration(float64(b.current) * b.multiplier)
	if b.current > b.max {
		b.current = b.max
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
