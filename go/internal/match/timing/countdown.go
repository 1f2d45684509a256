package timing

import (
	"math"
	"time"
)

const (
	// PollInterval is how often a running countdown re-reads the clock.
	PollInterval = 100 * time.Millisecond

	// DisplayRange is the user-visible countdown range (10 down to 0).
	DisplayRange = 10
)

// Tick is delivered on every poll of a running countdown.
type Tick struct {
	Remaining time.Duration
	Display   int
}

// Countdown tracks a round deadline. Remaining time is always derived from
// the absolute deadline, never from the number of polls, so a stalled
// process catches up on its first poll after resuming.
type Countdown struct {
	sched    *Scheduler
	interval time.Duration

	deadline time.Time
	total    time.Duration
	pollID   ID
	running  bool

	onTick    func(Tick)
	onTimeout func()
}

// NewCountdown creates a countdown polling through sched.
func NewCountdown(sched *Scheduler, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = PollInterval
	}
	return &Countdown{sched: sched, interval: interval}
}

// Start sets the deadline to now+d and starts polling. total is the full
// length of the round and scales the display; when it is zero d is used.
// onTimeout runs exactly once, on the first poll at or past the deadline.
// Starting a running countdown replaces it.
func (c *Countdown) Start(d, total time.Duration, onTick func(Tick), onTimeout func()) {
	c.Stop()
	if total <= 0 {
		total = d
	}
	c.deadline = c.sched.Clock().Now().Add(d)
	c.total = total
	c.onTick = onTick
	c.onTimeout = onTimeout
	c.running = true
	c.pollID = c.sched.Every(c.interval, c.poll)
}

// Stop cancels the countdown. A stopped countdown performs no further callbacks.
func (c *Countdown) Stop() {
	if !c.running {
		return
	}
	c.running = false
	c.sched.Cancel(c.pollID)
	c.onTick = nil
	c.onTimeout = nil
}

// Deadline returns the absolute deadline of the last Start.
func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

// Remaining returns the time left before the deadline, never negative.
func (c *Countdown) Remaining() time.Duration {
	if c.deadline.IsZero() {
		return 0
	}
	return max(0, c.deadline.Sub(c.sched.Clock().Now()))
}

// Display maps the remaining time onto DisplayRange, rounding up.
func (c *Countdown) Display() int {
	return DisplayFor(c.Remaining(), c.total)
}

// DisplayFor maps remaining out of total onto DisplayRange, rounding up.
func DisplayFor(remaining, total time.Duration) int {
	if total <= 0 || remaining <= 0 {
		return 0
	}
	v := int(math.Ceil(float64(DisplayRange) * float64(remaining) / float64(total)))
	return min(max(v, 0), DisplayRange)
}

func (c *Countdown) poll() {
	if !c.running {
		return
	}
	remaining := c.Remaining()
	if remaining <= 0 {
		timeout := c.onTimeout
		c.Stop()
		if timeout != nil {
			timeout()
		}
		return
	}
	if c.onTick != nil {
		c.onTick(Tick{Remaining: remaining, Display: DisplayFor(remaining, c.total)})
	}
}
