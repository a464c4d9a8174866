package poller

import (
	"sync"
	"time"
)

// Clock is the source of time for a poll session.
type Clock interface {
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock uses the time package.
type RealClock struct{}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ManualClock is a Clock whose ticks and timers fire only when told to.
// It lets tests step a poll session one tick at a time.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	timers  []chan time.Time
}

// NewManualClock returns a ManualClock starting at now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time), done: make(chan struct{})}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.timers = append(c.timers, ch)
	return ch
}

// Tick delivers one tick to every live ticker and blocks until each has
// been received. It returns the number of tickers that took the tick.
func (c *ManualClock) Tick() int {
	c.mu.Lock()
	live := make([]*manualTicker, 0, len(c.tickers))
	for _, t := range c.tickers {
		if !t.stopped() {
			live = append(live, t)
		}
	}
	c.tickers = live
	now := c.now
	c.mu.Unlock()

	delivered := 0
	for _, t := range live {
		select {
		case t.ch <- now:
			delivered++
		case <-t.done:
		}
	}
	return delivered
}

// FireTimers releases every pending After channel.
func (c *ManualClock) FireTimers() int {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	now := c.now
	c.mu.Unlock()

	for _, ch := range timers {
		ch <- now
	}
	return len(timers)
}

// PendingTimers returns the number of After channels not yet fired.
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// LiveTickers returns the number of tickers that have not been stopped.
func (c *ManualClock) LiveTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped() {
			n++
		}
	}
	return n
}

type manualTicker struct {
	ch   chan time.Time
	done chan struct{}
	once sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *manualTicker) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
