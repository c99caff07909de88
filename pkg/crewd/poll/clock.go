// Package poll provides the polling cadence used by every consumer of the
// message bus. There is no push channel between agents, so all cross-agent
// visibility happens through repeated "read rows since my last seen id"
// cycles. The Clock interface exists so that cadence can be driven by a fake
// in tests instead of real wall-clock sleeps.
package poll

import "time"

// Clock abstracts time for poll loops.
type Clock interface {
	Now() time.Time
	// Tick returns a channel that delivers at the given cadence and a stop
	// function releasing the underlying resources.
	Tick(d time.Duration) (<-chan time.Time, func())
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	now time.Time
	ch  chan time.Time
}

// NewFakeClock creates a FakeClock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, ch: make(chan time.Time, 64)}
}

func (c *FakeClock) Now() time.Time { return c.now }

func (c *FakeClock) Tick(time.Duration) (<-chan time.Time, func()) {
	return c.ch, func() {}
}

// Advance moves the fake clock forward and delivers one tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	select {
	case c.ch <- c.now:
	default:
	}
}
