package poll

import (
	"context"
	"testing"
	"time"
)

func TestLoopRunsImmediately(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Unix(0, 0))
	calls := 0
	err := Loop(context.Background(), clock, time.Second, func(context.Context) bool {
		calls++
		return false
	})
	if err != nil {
		t.Fatalf("Loop() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (first run happens before any tick)", calls)
	}
}

func TestLoopFollowsTicks(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Unix(0, 0))
	calls := make(chan int, 8)
	n := 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		Loop(context.Background(), clock, time.Second, func(context.Context) bool {
			n++
			calls <- n
			return n < 3
		})
	}()

	if got := <-calls; got != 1 {
		t.Fatalf("first call = %d, want 1", got)
	}
	clock.Advance(time.Second)
	if got := <-calls; got != 2 {
		t.Fatalf("second call = %d, want 2", got)
	}
	clock.Advance(time.Second)
	if got := <-calls; got != 3 {
		t.Fatalf("third call = %d, want 3", got)
	}
	<-done
}

func TestLoopStopsOnCancel(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		first := true
		errCh <- Loop(ctx, clock, time.Second, func(context.Context) bool {
			if first {
				close(started)
				first = false
			}
			return true
		})
	}()

	<-started
	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Errorf("Loop() error = %v, want context.Canceled", err)
	}
}
