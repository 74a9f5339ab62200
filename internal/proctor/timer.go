package proctor

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Tick is delivered once per elapsed second. The last tick of a countdown has
// Remaining == 0 and Expired set; nothing is delivered after it.
type Tick struct {
	Remaining int
	Expired   bool
}

// Countdown counts down whole seconds of wall-clock time. Remaining is derived
// from the time elapsed since Start, so a slow consumer sees coalesced ticks
// with the correct value rather than a drifting one.
//
// Ticks are pulled from C by a single consumer. Once Stop returns the consumer
// must not read C again; the producing goroutine exits without sending.
type Countdown struct {
	clock clockwork.Clock

	mu        sync.Mutex
	started   bool
	stopped   bool
	total     int
	remaining int
	startedAt time.Time

	ticks chan Tick
	stop  chan struct{}
	done  chan struct{}
}

// NewCountdown returns an idle countdown driven by clock.
func NewCountdown(clock clockwork.Clock) *Countdown {
	return &Countdown{
		clock: clock,
		ticks: make(chan Tick),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start begins ticking down from total seconds. A countdown starts at most
// once and cannot be restarted after Stop.
func (c *Countdown) Start(total int) error {
	if total <= 0 {
		return fmt.Errorf("countdown of %d seconds: %w", total, ErrInvalidParams)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return ErrTimerRunning
	}
	c.started = true
	c.total = total
	c.remaining = total
	c.startedAt = c.clock.Now()

	ticker := c.clock.NewTicker(time.Second)
	go c.run(ticker)
	return nil
}

// C returns the tick channel.
func (c *Countdown) C() <-chan Tick {
	return c.ticks
}

// Done is closed when the producing goroutine has exited, after expiry or Stop.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

// Stop halts the countdown. Calling it more than once, or on a countdown that
// never started or already expired, is a no-op.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
	if !c.started {
		close(c.done)
	}
}

func (c *Countdown) run(ticker clockwork.Ticker) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		elapsed := int(c.clock.Since(c.startedAt) / time.Second)
		next := c.total - elapsed
		if next < 0 {
			next = 0
		}
		if next >= c.remaining {
			c.mu.Unlock()
			continue
		}
		c.remaining = next
		c.mu.Unlock()

		tick := Tick{Remaining: next, Expired: next == 0}
		select {
		case c.ticks <- tick:
		case <-c.stop:
			return
		}
		if tick.Expired {
			c.mu.Lock()
			if !c.stopped {
				c.stopped = true
				close(c.stop)
			}
			c.mu.Unlock()
			return
		}
	}
}
