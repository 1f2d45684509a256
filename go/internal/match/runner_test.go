package match

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/brainbuffer/go/internal/match/events"
	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

type fakeConn struct {
	in chan protocol.Message

	mu   sync.Mutex
	sent []protocol.Outbound
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan protocol.Message, 16)}
}

func (c *fakeConn) Send(out protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, out)
	return nil
}

func (c *fakeConn) Inbound() <-chan protocol.Message { return c.in }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) closeWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.in)
}

func (c *fakeConn) count(t protocol.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.sent {
		if o.Type == t {
			n++
		}
	}
	return n
}

type chanNavigator struct {
	lost chan error
}

func (n chanNavigator) Quit()                    {}
func (n chanNavigator) Restart()                 {}
func (n chanNavigator) Requeue()                 {}
func (n chanNavigator) ConnectionLost(err error) { n.lost <- err }

type runnerFixture struct {
	clock  *clockwork.FakeClock
	runner *Runner
	conn   *fakeConn
	pub    *events.MemoryPublisher
	nav    chanNavigator
	cancel context.CancelFunc
	result chan error
}

func startRunner(t *testing.T, mode Mode) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		clock:  clockwork.NewFakeClockAt(epoch),
		pub:    &events.MemoryPublisher{},
		nav:    chanNavigator{lost: make(chan error, 1)},
		result: make(chan error, 1),
	}
	cfg := Config{Mode: mode, Clock: f.clock, Navigator: f.nav}
	var rc RunnerConfig
	if mode == ModeOnline {
		f.conn = newFakeConn()
		cfg.Sender = f.conn
		rc.Conn = f.conn
		rc.MatchID = "match-1"
	}
	rc.Publisher = f.pub
	f.runner = NewRunner(NewMachine(cfg), rc)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.result <- f.runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.runner.Done()
	})
	return f
}

// waitFor advances the fake clock in small steps until cond holds.
func (f *runnerFixture) waitFor(t *testing.T, cond func(View) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, err := f.runner.Snapshot(context.Background())
		if err != nil {
			return false
		}
		if cond(v) {
			return true
		}
		f.clock.Advance(100 * time.Millisecond)
		return false
	}, 5*time.Second, time.Millisecond)
}

func TestRunner_OfflineMatchProgresses(t *testing.T) {
	f := startRunner(t, ModeOffline)
	ctx := context.Background()

	require.NoError(t, f.runner.Start(ctx))
	assert.ErrorIs(t, f.runner.Start(ctx), ErrAlreadyStarted)

	f.waitFor(t, func(v View) bool { return v.State == StateActive })

	v, err := f.runner.Snapshot(ctx)
	require.NoError(t, err)
	order := slices.Sorted(slices.Values(v.Targets))
	for _, target := range order {
		verdict, err := f.runner.Resolve(ctx, target)
		require.NoError(t, err)
		assert.NotEqual(t, round.VerdictWrong, verdict)
	}

	v, err = f.runner.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRoundComplete, v.State)
	f.waitFor(t, func(v View) bool { return v.Round == 2 && v.State == StateCountdown })
}

func TestRunner_OnlineResultIsPublishedOnce(t *testing.T) {
	f := startRunner(t, ModeOnline)
	ctx := context.Background()

	views, unsubscribe := f.runner.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.runner.Connect(ctx))
	assert.Equal(t, 1, f.conn.count(protocol.TypeClientReady))

	f.conn.in <- protocol.GameStart{Rounds: []round.Content{content(1, 1, 2, 3)}, OpponentName: "ada"}
	f.conn.in <- protocol.Result{Status: protocol.StatusWon, MyScore: 180, OpScore: 150, Summary: "You won"}
	f.conn.in <- protocol.Result{Status: protocol.StatusLost, MyScore: 0, OpScore: 0}

	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			return v.State == StateEnded
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(f.pub.Events()) == 1 }, 2*time.Second, time.Millisecond)
	event := f.pub.Events()[0]
	assert.Equal(t, events.EventTypeMatchEnded, event.Type)
	assert.Contains(t, string(event.Payload), `"outcome":"WON"`)
	assert.Contains(t, string(event.Payload), `"match_id":"match-1"`)

	v, err := f.runner.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, v.Result)
	assert.Equal(t, 180, v.Result.Score)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.pub.Events(), 1)
}

func TestRunner_UnexpectedCloseReachesNavigator(t *testing.T) {
	f := startRunner(t, ModeOnline)
	require.NoError(t, f.runner.Connect(context.Background()))
	f.conn.in <- protocol.GameStart{Rounds: []round.Content{content(1, 1, 2, 3)}}

	cause := errors.New("websocket: close 1006 (abnormal closure)")
	f.conn.closeWith(cause)

	select {
	case err := <-f.nav.lost:
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("navigator was not told about the lost connection")
	}
}

func TestRunner_CleanCloseIsSilent(t *testing.T) {
	f := startRunner(t, ModeOnline)
	require.NoError(t, f.runner.Connect(context.Background()))
	f.conn.closeWith(nil)

	_, err := f.runner.Snapshot(context.Background())
	require.NoError(t, err)
	select {
	case err := <-f.nav.lost:
		t.Fatalf("unexpected ConnectionLost(%v)", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	f := startRunner(t, ModeOffline)
	views, _ := f.runner.Subscribe()

	f.cancel()
	select {
	case err := <-f.result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	_, err := f.runner.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	for range views {
	}
	late, _ := f.runner.Subscribe()
	_, open := <-late
	assert.False(t, open)
}
