package poll

import (
	"context"
	"time"
)

// Loop invokes fn at the given cadence until ctx is cancelled or fn returns
// false. fn runs once immediately before the first tick so a freshly started
// consumer drains its backlog without waiting a full interval.
func Loop(ctx context.Context, clock Clock, interval time.Duration, fn func(ctx context.Context) bool) error {
	if !fn(ctx) {
		return nil
	}
	ticks, stop := clock.Tick(interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			if !fn(ctx) {
				return nil
			}
		}
	}
}
