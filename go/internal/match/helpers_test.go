package match

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type sentLog struct {
	out []protocol.Outbound
	err error
}

func (s *sentLog) Send(out protocol.Outbound) error {
	s.out = append(s.out, out)
	return s.err
}

func (s *sentLog) count(t protocol.Type) int {
	n := 0
	for _, o := range s.out {
		if o.Type == t {
			n++
		}
	}
	return n
}

func (s *sentLog) last(t protocol.Type) (protocol.Outbound, bool) {
	for i := len(s.out) - 1; i >= 0; i-- {
		if s.out[i].Type == t {
			return s.out[i], true
		}
	}
	return protocol.Outbound{}, false
}

type navLog struct {
	quits, restarts, requeues int
	lost                      []error
}

func (n *navLog) Quit()                    { n.quits++ }
func (n *navLog) Restart()                 { n.restarts++ }
func (n *navLog) Requeue()                 { n.requeues++ }
func (n *navLog) ConnectionLost(err error) { n.lost = append(n.lost, err) }

type harness struct {
	t     *testing.T
	clock *clockwork.FakeClock
	m     *Machine
	rules Rules
	sent  *sentLog
	prefs *memoryPrefs
	fx    *feedback.Recorder
	nav   *navLog
}

func newHarness(t *testing.T, mode Mode) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: clockwork.NewFakeClockAt(epoch),
		rules: DefaultRules(),
		sent:  &sentLog{},
		prefs: &memoryPrefs{},
		fx:    &feedback.Recorder{},
		nav:   &navLog{},
	}
	logger := zerolog.Nop()
	h.m = NewMachine(Config{
		Mode:      mode,
		Rules:     h.rules,
		Clock:     h.clock,
		Generator: round.NewGenerator(rand.New(rand.NewPCG(1, 2))),
		Sender:    h.sent,
		Prefs:     h.prefs,
		Feedback:  feedback.NewService(h.fx, feedback.DefaultSettings()),
		Navigator: h.nav,
		Logger:    &logger,
	})
	return h
}

// advance moves the fake clock forward by d, firing every callback at its deadline.
func (h *harness) advance(d time.Duration) {
	target := h.clock.Now().Add(d)
	sched := h.m.Scheduler()
	for {
		when, ok := sched.NextWake()
		if !ok || when.After(target) {
			break
		}
		h.clock.Advance(max(0, when.Sub(h.clock.Now())))
		sched.Fire()
	}
	h.clock.Advance(target.Sub(h.clock.Now()))
}

// toActive runs the countdown and reveal of the current round.
func (h *harness) toActive() {
	h.t.Helper()
	require.Equal(h.t, StateCountdown, h.m.Session().State)
	n := h.m.Session().RoundIndex
	h.advance(time.Duration(h.rules.CountdownSteps) * h.rules.CountdownStep)
	require.Equal(h.t, StateReveal, h.m.Session().State)
	h.advance(h.rules.RevealDuration(n))
	require.Equal(h.t, StateActive, h.m.Session().State)
}

// solve resolves every target of the active round in order.
func (h *harness) solve() {
	h.t.Helper()
	targets := slices.Clone(h.m.View().Targets)
	slices.Sort(targets)
	for _, v := range targets {
		verdict := h.m.Resolve(v)
		require.Contains(h.t, []round.Verdict{round.VerdictCorrect, round.VerdictCompleted}, verdict)
	}
}

func content(n int, targets ...int) round.Content {
	positions := make([]round.Position, len(targets))
	for i := range positions {
		positions[i] = round.Position{Left: 10 + float64(i)*16, Top: 50}
	}
	return round.Content{Round: n, Numbers: targets, Positions: positions}
}

// online starts an online match with the given server rounds.
func (h *harness) online(rounds ...round.Content) {
	h.t.Helper()
	require.NoError(h.t, h.m.Connect())
	h.m.HandleMessage(protocol.GameStart{Rounds: rounds, OpponentName: "ada"})
	require.Equal(h.t, StateCountdown, h.m.Session().State)
}

func intp(v int) *int { return &v }
