package timing

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// ID identifies a scheduled callback.
type ID uint64

type task struct {
	id    ID
	due   time.Time
	every time.Duration
	fn    func()
}

// Scheduler keeps the delayed and interval callbacks of one match, ordered by
// deadline. It never starts goroutines: the owner sleeps until NextWake and
// then calls Fire, so every callback runs on the owner's goroutine.
//
// A Scheduler is not safe for concurrent use.
type Scheduler struct {
	clock  clockwork.Clock
	tasks  map[ID]*task
	lastID ID
}

// NewScheduler creates an empty scheduler reading time from clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock: clock,
		tasks: make(map[ID]*task),
	}
}

// Clock returns the clock the scheduler reads.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// After runs fn once, d from now.
func (s *Scheduler) After(d time.Duration, fn func()) ID {
	return s.add(d, 0, fn)
}

// Every runs fn every d, starting d from now. Missed periods are not
// replayed: after a stall the callback fires once and the next run is
// scheduled d after that.
func (s *Scheduler) Every(d time.Duration, fn func()) ID {
	if d <= 0 {
		d = time.Millisecond
	}
	return s.add(d, d, fn)
}

func (s *Scheduler) add(d, every time.Duration, fn func()) ID {
	if d < 0 {
		d = 0
	}
	s.lastID++
	s.tasks[s.lastID] = &task{
		id:    s.lastID,
		due:   s.clock.Now().Add(d),
		every: every,
		fn:    fn,
	}
	return s.lastID
}

// Cancel removes a callback. It reports whether the callback was still pending.
func (s *Scheduler) Cancel(id ID) bool {
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// ClearAll cancels every pending callback and returns how many were dropped.
func (s *Scheduler) ClearAll() int {
	n := len(s.tasks)
	clear(s.tasks)
	return n
}

// Pending returns the number of scheduled callbacks.
func (s *Scheduler) Pending() int {
	return len(s.tasks)
}

// NextWake returns the earliest deadline, if any callback is pending.
func (s *Scheduler) NextWake() (time.Time, bool) {
	next := s.earliest()
	if next == nil {
		return time.Time{}, false
	}
	return next.due, true
}

// Fire runs every callback that is due at the clock's current time, in
// deadline order, and returns how many ran. Callbacks cancelled by an
// earlier callback in the same pass do not run.
func (s *Scheduler) Fire() int {
	now := s.clock.Now()
	ran := 0
	for {
		next := s.earliest()
		if next == nil || next.due.After(now) {
			return ran
		}
		if next.every > 0 {
			next.due = now.Add(next.every)
		} else {
			delete(s.tasks, next.id)
		}
		next.fn()
		ran++
	}
}

func (s *Scheduler) earliest() *task {
	var next *task
	for _, t := range s.tasks {
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
			next = t
		}
	}
	return next
}
