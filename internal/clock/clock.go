package clock

import (
	"fmt"
	"sync"
	"time"

	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
)

type Side int

const (
	White Side = iota
	Black
)

func (s Side) String() string {
	if s == White {
		return "white"
	}
	return "black"
}

func (s Side) Other() Side {
	if s == White {
		return Black
	}
	return White
}

const tickInterval = 100 * time.Millisecond

// Clock is a two-sided countdown. Only the active side's budget decreases,
// and only while running. When a budget hits zero the clock stops itself
// and delivers the losing side on Expired().
type Clock struct {
	lock sync.Mutex

	white     time.Duration
	black     time.Duration
	increment time.Duration
	active    Side
	running   bool

	done     chan bool
	finished chan bool
	expired  chan Side

	logger Logger
}

type ClockOption func(*Clock)

func WithLogger(logger Logger) ClockOption {
	return func(c *Clock) {
		c.logger = logger
	}
}

func NewClock(options ...ClockOption) *Clock {
	c := &Clock{
		white:   10 * time.Minute,
		black:   10 * time.Minute,
		active:  White,
		expired: make(chan Side, 1),
	}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		c.logger = &DefaultLogger
	}
	return c
}

// Configure resets both budgets. It can be called in any state and doesn't
// touch the running flag.
func (c *Clock) Configure(minutes int, incrementSeconds int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.white = time.Duration(minutes) * time.Minute
	c.black = time.Duration(minutes) * time.Minute
	c.increment = time.Duration(incrementSeconds) * time.Second
}

func (c *Clock) budget(side Side) *time.Duration {
	if side == White {
		return &c.white
	}
	return &c.black
}

// applyElapsed charges elapsed wall-clock time to the active side. Returns
// the expired side when the budget ran out.
func (c *Clock) applyElapsed(elapsed time.Duration) Optional[Side] {
	c.lock.Lock()
	defer c.lock.Unlock()

	budget := c.budget(c.active)
	*budget -= elapsed
	if *budget <= 0 {
		*budget = 0
		c.running = false
		return Some(c.active)
	}
	return Empty[Side]()
}

// Start launches the countdown of the active side. Idempotent while
// running. Each tick charges measured wall-clock time, not the nominal tick,
// so a slow tick never loses time.
func (c *Clock) Start() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.done = make(chan bool)
	c.finished = make(chan bool)

	done := c.done
	finished := c.finished

	go func() {
		defer close(finished)

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case <-done:
				// Stop() already cleared the running flag; charge the
				// remainder since the last tick so stopping never loses or
				// gains time.
				c.applyElapsed(time.Since(last))
				return
			case now := <-ticker.C:
				loser := c.applyElapsed(now.Sub(last))
				last = now
				if loser.HasValue() {
					c.logger.Printf("%v's time has expired! %v wins on time.\n",
						loser.Value(), loser.Value().Other())
					select {
					case c.expired <- loser.Value():
					default:
					}
					return
				}
			}
		}
	}()
}

// Stop halts the countdown and waits for the final remainder to be applied.
// Idempotent.
func (c *Clock) Stop() {
	c.lock.Lock()
	if !c.running {
		c.lock.Unlock()
		return
	}
	c.running = false
	done := c.done
	finished := c.finished
	c.lock.Unlock()

	close(done)
	<-finished
}

// SwitchSide applies the increment to the side that just moved, then flips
// the active side. Legal whether or not the clock is running.
func (c *Clock) SwitchSide() Side {
	c.lock.Lock()
	defer c.lock.Unlock()

	*c.budget(c.active) += c.increment
	c.active = c.active.Other()
	return c.active
}

func (c *Clock) Times() (time.Duration, time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.white, c.black
}

func (c *Clock) Active() Side {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.active
}

func (c *Clock) Running() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.running
}

// Expired delivers the losing side when a budget runs out. Buffered so the
// tick goroutine never blocks on an absent listener.
func (c *Clock) Expired() <-chan Side {
	return c.expired
}

// FormatTime renders a budget as MM:SS, truncated to whole seconds.
func FormatTime(d time.Duration) string {
	seconds := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
