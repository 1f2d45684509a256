package match

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match/events"
	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

// ErrStopped is returned by Runner calls after its loop exited.
var ErrStopped = errors.New("match runner stopped")

// Conn is the live server connection of an online match.
type Conn interface {
	Sender
	// Inbound delivers decoded messages and is closed when the connection ends.
	Inbound() <-chan protocol.Message
	// Err is nil after a clean close and the cause otherwise.
	Err() error
}

type RunnerConfig struct {
	MatchID        string
	Conn           Conn
	Publisher      events.Publisher
	PublishTimeout time.Duration
}

// Runner is the single goroutine that owns a Machine. Commands, inbound
// messages, connection closure and timer wake-ups are handled one at a time
// in its loop, so nothing else ever touches the Machine.
type Runner struct {
	m              *Machine
	clock          clockwork.Clock
	conn           Conn
	matchID        string
	publisher      events.Publisher
	publishTimeout time.Duration

	cmds chan func(*Machine)
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	subs    map[int]chan View
	nextSub int
	current *View
	last    View
}

// NewRunner wraps m. The machine's Sender should be cfg.Conn for online play.
func NewRunner(m *Machine, cfg RunnerConfig) *Runner {
	if cfg.Publisher == nil {
		cfg.Publisher = events.LogPublisher{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	r := &Runner{
		m:              m,
		clock:          m.clock,
		conn:           cfg.Conn,
		matchID:        cfg.MatchID,
		publisher:      cfg.Publisher,
		publishTimeout: cfg.PublishTimeout,
		cmds:           make(chan func(*Machine)),
		done:           make(chan struct{}),
		subs:           make(map[int]chan View),
	}
	m.OnEnd(r.publish)
	return r
}

// Run drives the machine until ctx is cancelled. The machine is torn down on exit.
func (r *Runner) Run(ctx context.Context) error {
	defer r.closeSubscribers()
	defer close(r.done)

	var inbound <-chan protocol.Message
	if r.conn != nil {
		inbound = r.conn.Inbound()
	}

	r.changed()
	for {
		var (
			timer clockwork.Timer
			wake  <-chan time.Time
		)
		if when, ok := r.m.sched.NextWake(); ok {
			timer = r.clock.NewTimer(max(0, when.Sub(r.clock.Now())))
			wake = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			r.m.Teardown()
			r.changed()
			r.wg.Wait()
			return ctx.Err()

		case cmd := <-r.cmds:
			cmd(r.m)

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				if err := r.conn.Err(); err != nil {
					r.m.ConnectionLost(err)
				}
				break
			}
			r.m.HandleMessage(msg)

		case <-wake:
			r.m.sched.Fire()
		}

		if timer != nil {
			timer.Stop()
		}
		r.changed()
	}
}

// Done is closed when Run has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) call(ctx context.Context, fn func(*Machine)) error {
	finished := make(chan struct{})
	cmd := func(m *Machine) {
		defer close(finished)
		fn(m)
	}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

func (r *Runner) Start(ctx context.Context) error {
	var err error
	if callErr := r.call(ctx, func(m *Machine) { err = m.Start() }); callErr != nil {
		return callErr
	}
	return err
}

func (r *Runner) Connect(ctx context.Context) error {
	var err error
	if callErr := r.call(ctx, func(m *Machine) { err = m.Connect() }); callErr != nil {
		return callErr
	}
	return err
}

func (r *Runner) Resolve(ctx context.Context, target int) (round.Verdict, error) {
	v := round.VerdictIgnored
	err := r.call(ctx, func(m *Machine) { v = m.Resolve(target) })
	return v, err
}

func (r *Runner) TogglePause(ctx context.Context) (bool, error) {
	var ok bool
	err := r.call(ctx, func(m *Machine) { ok = m.TogglePause() })
	return ok, err
}

func (r *Runner) DismissTutorial(ctx context.Context) error {
	return r.call(ctx, func(m *Machine) { m.DismissTutorial() })
}

func (r *Runner) ResetProgress(ctx context.Context) (bool, error) {
	var ok bool
	err := r.call(ctx, func(m *Machine) { ok = m.ResetProgress() })
	return ok, err
}

// UpdateSettings applies fn to the current settings on the loop goroutine
// and returns the result.
func (r *Runner) UpdateSettings(ctx context.Context, fn func(*feedback.Settings)) (feedback.Settings, error) {
	var settings feedback.Settings
	err := r.call(ctx, func(m *Machine) {
		settings = m.fx.Settings()
		fn(&settings)
		m.SetSettings(settings)
	})
	return settings, err
}

func (r *Runner) Background(ctx context.Context) error {
	return r.call(ctx, func(m *Machine) { m.Background() })
}

func (r *Runner) Foreground(ctx context.Context) error {
	return r.call(ctx, func(m *Machine) { m.Foreground() })
}

func (r *Runner) Quit(ctx context.Context) error {
	return r.call(ctx, func(m *Machine) { m.Quit() })
}

func (r *Runner) Restart(ctx context.Context) error {
	return r.call(ctx, func(m *Machine) { m.Restart() })
}

func (r *Runner) Requeue(ctx context.Context) error {
	return r.call(ctx, func(m *Machine) { m.Requeue() })
}

// Snapshot returns the current view, read on the loop goroutine.
func (r *Runner) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := r.call(ctx, func(m *Machine) { v = m.View() })
	return v, err
}

// Subscribe streams a view after every change. Slow subscribers only ever
// see the latest view. The returned func unsubscribes.
func (r *Runner) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	if r.current != nil {
		ch <- *r.current
	}
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
}

// changed publishes the view to subscribers when it differs from the last one.
func (r *Runner) changed() {
	v := r.m.View()
	if r.current != nil && reflect.DeepEqual(v, r.last) {
		return
	}
	r.last = v

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &v
	for _, ch := range r.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (r *Runner) closeSubscribers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}

// publish hands the terminal outcome to the publisher. It runs once, from
// the machine's end transition, and never blocks the loop.
func (r *Runner) publish(res Result) {
	s := r.m.Session()
	event, err := events.NewMatchEnded(events.MatchEndedPayload{
		SessionID:     s.ID.String(),
		MatchID:       r.matchID,
		Mode:          string(s.Mode),
		Outcome:       string(res.Outcome),
		Summary:       res.Summary,
		Score:         res.Score,
		OpponentScore: res.OpponentScore,
		OpponentName:  s.OpponentName,
		Rounds:        s.RoundIndex,
		NewHighScore:  res.NewHighScore,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID.String()).Msg("failed to build match event")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.publishTimeout)
		defer cancel()
		if err := r.publisher.Publish(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish match outcome")
		}
	}()
}
