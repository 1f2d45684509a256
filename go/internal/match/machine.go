package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
	"github.com/mcdev12/brainbuffer/go/internal/match/timing"
)

var (
	ErrEnded          = errors.New("match has ended")
	ErrWrongMode      = errors.New("operation not available in this mode")
	ErrAlreadyStarted = errors.New("match already started")
)

// Connection status strings shown while online.
const (
	statusConnecting   = "Connecting..."
	statusAwaiting     = "Awaiting Arena Initialization..."
	statusStarting     = "Match Starting..."
	statusAborted      = "Match Aborted"
	statusDisconnected = "Connection lost"
)

// Config wires a Machine to its collaborators. Only Mode is required.
type Config struct {
	Mode      Mode
	Rules     Rules
	Clock     clockwork.Clock
	Generator *round.Generator
	Sender    Sender
	Prefs     Prefs
	Feedback  Feedback
	Navigator Navigator
	Logger    *zerolog.Logger
}

// Machine owns one match session: the round lifecycle, timers, score and the
// ended latch. Every entry point checks the latch first, and every scheduled
// callback carries the timer generation it was scheduled in.
//
// A Machine is not safe for concurrent use; Runner serializes access to it.
type Machine struct {
	base   zerolog.Logger
	log    zerolog.Logger
	rules  Rules
	clock  clockwork.Clock
	sched  *timing.Scheduler
	timer  *timing.Countdown
	gen    *round.Generator
	sender Sender
	prefs  Prefs
	fx     Feedback
	nav    Navigator

	session      *Session
	round        *round.Round
	serverRounds map[int]round.Content
	generation   uint64

	highScore int
	startHigh int

	countdown        int
	countdownTick    timing.ID
	roundScreen      bool
	roundTimer       int
	bannerUntil      time.Time
	errorFlag        bool
	tutorial         bool
	reconnecting     bool
	reconnectSeconds int
	connStatus       string
	readyAttempts    int
	pausedRemaining  time.Duration

	background bool

	result   *Result
	onEnd    func(Result)
	detached bool
	tornDown bool
}

// NewMachine creates a machine in the IDLE state.
func NewMachine(cfg Config) *Machine {
	if cfg.Mode == "" {
		cfg.Mode = ModeOffline
	}
	if cfg.Rules.CountdownSteps == 0 {
		cfg.Rules = DefaultRules()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Generator == nil {
		cfg.Generator = round.NewGenerator(nil)
	}
	if cfg.Prefs == nil {
		cfg.Prefs = &memoryPrefs{}
	}
	if cfg.Feedback == nil {
		cfg.Feedback = feedback.NewService(discard{}, cfg.Prefs.Settings())
	}
	if cfg.Navigator == nil {
		cfg.Navigator = nopNavigator{}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	session := newSession(cfg.Mode)
	sched := timing.NewScheduler(cfg.Clock)
	m := &Machine{
		base:         logger,
		rules:        cfg.Rules,
		clock:        cfg.Clock,
		sched:        sched,
		timer:        timing.NewCountdown(sched, timing.PollInterval),
		gen:          cfg.Generator,
		sender:       cfg.Sender,
		prefs:        cfg.Prefs,
		fx:           cfg.Feedback,
		nav:          cfg.Navigator,
		session:      session,
		serverRounds: make(map[int]round.Content),
		roundTimer:   timing.DisplayRange,
		countdown:    cfg.Rules.CountdownSteps,
	}
	m.log = m.sessionLogger()
	m.highScore = m.prefs.HighScore()
	m.startHigh = m.highScore
	m.tutorial = !m.prefs.TutorialSeen()
	if session.Online() {
		m.connStatus = statusConnecting
	}
	return m
}

func (m *Machine) sessionLogger() zerolog.Logger {
	return m.base.With().
		Str("session_id", m.session.ID.String()).
		Str("mode", string(m.session.Mode)).
		Logger()
}

// Session returns a copy of the session record.
func (m *Machine) Session() Session {
	return *m.session
}

// Scheduler exposes the timer set so an event loop can sleep until NextWake and Fire.
func (m *Machine) Scheduler() *timing.Scheduler {
	return m.sched
}

// Result returns the terminal result once the match has ended.
func (m *Machine) Result() (Result, bool) {
	if m.result == nil {
		return Result{}, false
	}
	return *m.result, true
}

// OnEnd registers a callback that runs once, when the match ends.
func (m *Machine) OnEnd(fn func(Result)) {
	m.onEnd = fn
}

// inert reports whether the machine must ignore all input.
func (m *Machine) inert() bool {
	return m.session.Ended() || m.detached || m.tornDown
}

func (m *Machine) stale(gen uint64) bool {
	return m.inert() || gen != m.generation
}

func (m *Machine) setState(s State) {
	if m.session.Ended() || m.session.State == s {
		return
	}
	m.log.Debug().
		Str("from", string(m.session.State)).
		Str("to", string(s)).
		Int("round", m.session.RoundIndex).
		Msg("state transition")
	m.session.State = s
}

// after and every schedule callbacks that die with the current timer generation.
func (m *Machine) after(d time.Duration, fn func()) timing.ID {
	return m.sched.After(d, m.guard(fn))
}

func (m *Machine) every(d time.Duration, fn func()) timing.ID {
	return m.sched.Every(d, m.guard(fn))
}

func (m *Machine) guard(fn func()) func() {
	gen := m.generation
	return func() {
		if m.stale(gen) {
			return
		}
		fn()
	}
}

func (m *Machine) clearAllTimers() {
	m.generation++
	m.timer.Stop()
	m.sched.ClearAll()
	m.fx.StopTick()
}

func (m *Machine) send(out protocol.Outbound) {
	if m.sender == nil {
		return
	}
	if err := m.sender.Send(out); err != nil {
		m.log.Warn().Err(err).Str("type", string(out.Type)).Msg("failed to send message")
	}
}

// Start begins an offline match.
func (m *Machine) Start() error {
	if m.inert() {
		return ErrEnded
	}
	if m.session.Online() {
		return ErrWrongMode
	}
	if m.session.State != StateIdle {
		return ErrAlreadyStarted
	}
	m.begin()
	return nil
}

// Connect announces readiness to the match server and waits for GAME_START.
// CLIENT_READY is resent with backoff; when every attempt goes unanswered
// the match ends as ABORTED.
func (m *Machine) Connect() error {
	if m.inert() {
		return ErrEnded
	}
	if !m.session.Online() {
		return ErrWrongMode
	}
	if m.session.State != StateIdle {
		return ErrAlreadyStarted
	}
	m.setState(StateConnecting)
	m.connStatus = statusAwaiting
	m.sendReady()
	return nil
}

func (m *Machine) sendReady() {
	m.readyAttempts++
	m.send(protocol.ClientReady())
	m.log.Debug().Int("attempt", m.readyAttempts).Msg("sent CLIENT_READY")

	delay := m.rules.ReadyDelay(m.readyAttempts)
	if m.readyAttempts >= m.rules.ReadyMaxAttempts {
		m.after(delay, func() {
			if m.session.State != StateConnecting {
				return
			}
			m.log.Warn().Int("attempts", m.readyAttempts).Msg("match server never started the match")
			m.connStatus = statusAborted
			m.end(OutcomeAborted, "Match server did not respond")
		})
		return
	}
	m.after(delay, func() {
		if m.session.State == StateConnecting {
			m.sendReady()
		}
	})
}

func (m *Machine) begin() {
	m.clearAllTimers()
	s := m.session
	s.Score = 0
	s.OpponentScore = 0
	s.StartedAt = m.clock.Now()
	m.startHigh = m.highScore
	m.errorFlag = false
	m.bannerUntil = time.Time{}
	m.fx.Play(feedback.CueStart)
	m.fx.PlayMusic()
	m.log.Info().Msg("match started")
	m.startRound(1)
}

func (m *Machine) contentFor(n int) round.Content {
	if m.session.Online() {
		if c, ok := m.serverRounds[n]; ok {
			return c
		}
		m.log.Warn().Int("round", n).Msg("no server content for round, generating locally")
	}
	return m.gen.Content(n)
}

func (m *Machine) startRound(n int) {
	if m.inert() {
		return
	}
	m.clearAllTimers()
	m.session.RoundIndex = n
	m.round = round.New(n, m.contentFor(n))
	m.roundTimer = timing.DisplayRange
	m.roundScreen = true
	m.countdown = m.rules.CountdownSteps
	m.setState(StateCountdown)
	m.hideBannerLater()
	m.runCountdown()
}

func (m *Machine) runCountdown() {
	m.countdownTick = m.every(m.rules.CountdownStep, func() {
		m.countdown--
		if m.countdown > 0 {
			return
		}
		m.sched.Cancel(m.countdownTick)
		m.reveal()
	})
}

func (m *Machine) reveal() {
	m.roundScreen = false
	m.round.Phase = round.PhaseReveal
	m.setState(StateReveal)
	m.scheduleHide()
}

func (m *Machine) scheduleHide() {
	m.after(m.rules.RevealDuration(m.session.RoundIndex), m.activate)
}

func (m *Machine) activate() {
	m.round.Phase = round.PhaseActive
	m.setState(StateActive)
	m.startTimer(m.rules.ActiveDuration(m.session.RoundIndex))
	if m.session.Online() {
		m.every(m.rules.Heartbeat, func() {
			m.send(protocol.Heartbeat())
		})
	}
}

func (m *Machine) startTimer(d time.Duration) {
	total := m.rules.ActiveDuration(m.session.RoundIndex)
	m.roundTimer = timing.DisplayFor(d, total)

	gen := m.generation
	m.timer.Start(d, total, func(tk timing.Tick) {
		if m.stale(gen) {
			return
		}
		m.roundTimer = tk.Display
		if tk.Display <= m.rules.TickThreshold {
			m.fx.StartTick()
		}
	}, func() {
		if m.stale(gen) {
			return
		}
		m.roundTimer = 0
		m.log.Info().Int("round", m.session.RoundIndex).Msg("round timed out")
		m.gameOver(false)
	})
	m.session.RoundDeadline = m.timer.Deadline()
}

func (m *Machine) hideBannerLater() {
	if m.bannerUntil.IsZero() {
		return
	}
	left := m.bannerUntil.Sub(m.clock.Now())
	if left <= 0 {
		m.bannerUntil = time.Time{}
		return
	}
	m.after(left, func() {
		m.bannerUntil = time.Time{}
	})
}

// Resolve submits a selection. It is a no-op unless a round is ACTIVE.
func (m *Machine) Resolve(target int) round.Verdict {
	if m.inert() || m.session.State != StateActive || m.round == nil || m.errorFlag {
		return round.VerdictIgnored
	}

	v := m.round.Submit(target)
	switch v {
	case round.VerdictCorrect, round.VerdictCompleted:
		m.fx.Vibrate(m.rules.CorrectVibration)
		m.fx.Play(feedback.CueCorrect)
		m.raiseScore(m.session.Score + m.rules.PointsPerTarget)
		if v == round.VerdictCompleted {
			m.completeRound()
		}
	case round.VerdictWrong:
		m.fail(target)
	}
	return v
}

func (m *Machine) fail(target int) {
	m.clearAllTimers()
	m.round.Phase = round.PhaseResolved
	m.errorFlag = true
	m.setState(StateFailed)
	m.fx.Vibrate(m.rules.WrongVibration)
	m.fx.Play(feedback.CueWrong)
	m.log.Info().Int("round", m.session.RoundIndex).Int("target", target).Msg("wrong selection")
	m.after(m.rules.ErrorGrace, func() {
		m.gameOver(false)
	})
}

func (m *Machine) completeRound() {
	m.clearAllTimers()
	m.round.Phase = round.PhaseResolved
	if m.session.RoundIndex >= MaxRounds {
		m.gameOver(true)
		return
	}
	if m.session.Online() {
		m.send(protocol.ScoreUpdate(m.session.Score))
	}
	m.bannerUntil = m.clock.Now().Add(m.rules.PerfectBanner)
	m.setState(StateRoundComplete)
	m.hideBannerLater()

	next := m.session.RoundIndex + 1
	m.after(m.rules.InterRoundDelay, func() {
		m.startRound(next)
	})
}

// raiseScore applies a score that may only move forward.
func (m *Machine) raiseScore(score int) {
	if score <= m.session.Score {
		return
	}
	m.session.Score = score
	m.recordHighScore()
}

func (m *Machine) recordHighScore() {
	if m.session.Score > m.highScore {
		m.highScore = m.session.Score
		m.prefs.SetHighScore(m.highScore)
	}
}

// gameOver is the local end of play: timeout, wrong selection or the last
// round. Offline it ends the match; online it waits for the server's result.
func (m *Machine) gameOver(completed bool) {
	if m.inert() {
		return
	}
	m.clearAllTimers()
	m.roundTimer = 0
	if m.round != nil {
		m.round.Phase = round.PhaseResolved
	}

	if m.session.Online() {
		m.setState(StateResolving)
		m.send(protocol.GameOver(m.session.Score))
		m.fx.Play(feedback.CueGameOver)
		m.log.Info().Int("score", m.session.Score).Msg("waiting for match result")
		return
	}

	if completed {
		m.end(OutcomeWon, fmt.Sprintf("All %d rounds cleared", MaxRounds))
		return
	}
	m.end(OutcomeLost, fmt.Sprintf("Reached round %d", m.session.RoundIndex))
}

// end closes the latch. It is the only way into ENDED.
func (m *Machine) end(outcome Outcome, summary string) {
	if m.inert() {
		return
	}
	m.clearAllTimers()
	m.roundScreen = false
	m.bannerUntil = time.Time{}
	m.reconnecting = false
	m.reconnectSeconds = 0

	s := m.session
	s.Outcome = outcome
	s.Summary = summary
	s.EndedAt = m.clock.Now()
	res := Result{
		Outcome:       outcome,
		Summary:       summary,
		Score:         s.Score,
		OpponentScore: s.OpponentScore,
		NewHighScore:  s.Score > m.startHigh,
	}
	m.result = &res
	m.setState(StateEnded)

	switch outcome {
	case OutcomeWon, OutcomeForfeitWin:
		m.fx.Play(feedback.CueWin)
	case OutcomeLost:
		m.fx.Play(feedback.CueGameOver)
	}
	m.fx.StopMusic()

	m.log.Info().
		Str("outcome", string(outcome)).
		Str("summary", summary).
		Int("score", res.Score).
		Int("opponent_score", res.OpponentScore).
		Int("round", s.RoundIndex).
		Msg("match ended")

	if m.onEnd != nil {
		m.onEnd(res)
	}
}

// HandleMessage applies one inbound protocol message. Messages after the
// match ended, or that do not fit the current state, are logged and dropped.
func (m *Machine) HandleMessage(msg protocol.Message) {
	if msg == nil || m.tornDown || m.detached {
		return
	}
	if m.session.Ended() {
		m.log.Debug().Str("type", string(msg.MessageType())).Msg("ignoring message after match end")
		return
	}
	if !m.session.Online() {
		m.log.Warn().Str("type", string(msg.MessageType())).Msg("protocol message in offline match")
		return
	}

	if !m.underway() {
		switch msg.(type) {
		case protocol.GameStart, protocol.MatchAborted, protocol.MatchCancelled, protocol.Error, protocol.Ping:
		default:
			m.log.Warn().
				Str("type", string(msg.MessageType())).
				Str("state", string(m.session.State)).
				Msg("dropping message before GAME_START")
			return
		}
	}

	s := m.session
	switch msg := msg.(type) {
	case protocol.GameStart:
		m.handleGameStart(msg)

	case protocol.WaitingForOpponent:
		m.reconnecting = true
		m.reconnectSeconds = msg.SecondsLeft
		m.log.Info().Int("seconds_left", msg.SecondsLeft).Msg("opponent reconnecting")

	case protocol.SyncState:
		m.reconnecting = false
		m.reconnectSeconds = 0
		s.OpponentScore = max(0, msg.OpponentScore)
		if msg.YourScore != nil {
			m.raiseScore(*msg.YourScore)
		}

	case protocol.OpponentFinished:
		s.OpponentScore = max(0, msg.Score)

	case protocol.OpponentForfeit:
		name := msg.LeaverName
		if name == "" {
			name = s.OpponentName
		}
		m.end(OutcomeForfeitWin, fmt.Sprintf("%s left the match", name))

	case protocol.MatchAborted:
		summary := msg.Reason
		if summary == "" {
			name := msg.LeaverName
			if name == "" {
				name = "Opponent"
			}
			summary = fmt.Sprintf("%s Disconnected", name)
		}
		m.connStatus = statusAborted
		m.end(OutcomeAborted, summary)

	case protocol.MatchCancelled:
		m.abort(msg.Reason, "Opponent failed to connect. Funds refunded.")

	case protocol.Error:
		if !msg.IsFatal {
			m.log.Warn().Str("reason", msg.Reason).Msg("server reported an error")
			return
		}
		m.abort(msg.Reason, "Match Initialization Failed")

	case protocol.Result:
		outcome := OutcomeLost
		switch msg.Status {
		case protocol.StatusWon:
			outcome = OutcomeWon
		case protocol.StatusDraw:
			outcome = OutcomeDraw
		}
		if !msg.Status.Valid() {
			m.log.Warn().Str("status", string(msg.Status)).Msg("unknown result status, treating as a loss")
		}
		if msg.MyScore < 0 || msg.OpScore < 0 {
			m.log.Warn().Int("my_score", msg.MyScore).Int("op_score", msg.OpScore).Msg("negative score in result")
		}
		s.Score = max(0, msg.MyScore)
		s.OpponentScore = max(0, msg.OpScore)
		m.recordHighScore()
		m.end(outcome, msg.Summary)

	case protocol.Ping:
		m.send(protocol.Pong())

	default:
		m.log.Warn().Str("type", string(msg.MessageType())).Msg("unhandled message type")
	}
}

// underway reports whether GAME_START has been applied to this session.
func (m *Machine) underway() bool {
	switch m.session.State {
	case StateIdle, StateConnecting:
		return false
	}
	return true
}

func (m *Machine) abort(reason, fallback string) {
	if reason == "" {
		reason = fallback
	}
	m.connStatus = statusAborted
	m.end(OutcomeAborted, reason)
}

func (m *Machine) handleGameStart(msg protocol.GameStart) {
	switch m.session.State {
	case StateIdle, StateConnecting:
	default:
		m.log.Warn().Str("state", string(m.session.State)).Msg("dropping GAME_START for a match already underway")
		return
	}

	for i, c := range msg.Rounds {
		idx := c.Round
		if idx <= 0 {
			idx = i + 1
		}
		if err := c.Validate(); err != nil {
			m.log.Warn().Err(err).Int("round", idx).Msg("discarding server round content")
			continue
		}
		m.serverRounds[idx] = c
	}
	if msg.OpponentName != "" {
		m.session.OpponentName = msg.OpponentName
	}
	m.tutorial = false
	m.reconnecting = false
	m.reconnectSeconds = 0
	m.connStatus = statusStarting

	m.begin()
	m.session.Score = max(0, msg.YourScore)
	m.session.OpponentScore = max(0, msg.OpponentScore)
	m.recordHighScore()
}

// Pause freezes an offline match. The remaining round time is captured so
// paused time never counts against the player.
func (m *Machine) Pause() bool {
	if m.inert() || m.session.Online() {
		return false
	}
	from := m.session.State
	switch from {
	case StateCountdown, StateReveal, StateActive:
	default:
		return false
	}
	if from == StateActive {
		m.pausedRemaining = m.timer.Remaining()
		m.roundTimer = m.timer.Display()
	}
	m.clearAllTimers()
	m.session.PausedFrom = from
	m.setState(StatePaused)
	m.fx.PauseMusic()
	return true
}

// Resume continues a paused match from the phase it was paused in.
func (m *Machine) Resume() bool {
	if m.inert() || m.session.State != StatePaused {
		return false
	}
	from := m.session.PausedFrom
	m.session.PausedFrom = ""
	m.setState(from)
	m.fx.PlayMusic()
	m.hideBannerLater()

	switch from {
	case StateCountdown:
		m.runCountdown()
	case StateReveal:
		m.scheduleHide()
	case StateActive:
		if m.pausedRemaining <= 0 {
			m.gameOver(false)
			break
		}
		m.startTimer(m.pausedRemaining)
	}
	m.pausedRemaining = 0
	return true
}

// TogglePause pauses a running match or resumes a paused one.
func (m *Machine) TogglePause() bool {
	if m.session.State == StatePaused {
		return m.Resume()
	}
	return m.Pause()
}

// ConnectionLost handles an unexpected close of the server connection. The
// match is not resolved locally; the navigator decides what happens next.
func (m *Machine) ConnectionLost(err error) {
	if m.inert() || !m.session.Online() {
		return
	}
	m.log.Warn().Err(err).Str("state", string(m.session.State)).Msg("connection lost before match end")
	m.clearAllTimers()
	m.fx.StopMusic()
	m.connStatus = statusDisconnected
	m.detached = true
	m.nav.ConnectionLost(err)
}

// DismissTutorial hides the tutorial and remembers that it was seen.
func (m *Machine) DismissTutorial() {
	if !m.tutorial {
		return
	}
	m.tutorial = false
	m.prefs.SetTutorialSeen(true)
}

// ResetProgress clears the stored high score and tutorial flag. A paused
// offline match is abandoned and the machine returns to IDLE.
func (m *Machine) ResetProgress() bool {
	if m.tornDown || m.detached {
		return false
	}
	switch m.session.State {
	case StateIdle, StateEnded:
	case StatePaused:
		m.clearAllTimers()
		m.fx.StopMusic()
		m.session = newSession(m.session.Mode)
		m.log = m.sessionLogger()
		m.round = nil
		m.roundScreen = false
		m.errorFlag = false
		m.roundTimer = timing.DisplayRange
		m.countdown = m.rules.CountdownSteps
		m.pausedRemaining = 0
		m.bannerUntil = time.Time{}
	default:
		return false
	}
	m.prefs.Reset()
	m.highScore = 0
	m.startHigh = 0
	m.tutorial = true
	m.log.Info().Msg("progress reset")
	return true
}

// SetSettings applies new feedback toggles and stores them. Music turned
// back on resumes while a round is being played.
func (m *Machine) SetSettings(settings feedback.Settings) {
	if m.tornDown {
		return
	}
	m.fx.SetSettings(settings)
	m.prefs.SetSettings(settings)
	m.log.Info().
		Bool("music", settings.Music).
		Bool("sfx", settings.SFX).
		Bool("vibration", settings.Vibration).
		Msg("feedback settings changed")
	if settings.Music && m.playing() {
		m.fx.PlayMusic()
	}
}

// playing reports whether music belongs to the current state.
func (m *Machine) playing() bool {
	if m.inert() || !m.underway() {
		return false
	}
	return m.session.State != StatePaused
}

// Background silences music and the tick while the app is not visible.
// Timers keep running; only an explicit Pause stops the clock.
func (m *Machine) Background() {
	if m.tornDown || m.background {
		return
	}
	m.background = true
	m.fx.Background()
	m.log.Debug().Str("state", string(m.session.State)).Msg("moved to background")
}

// Foreground undoes Background.
func (m *Machine) Foreground() {
	if m.tornDown || !m.background {
		return
	}
	m.background = false
	m.fx.Foreground()
	m.log.Debug().Str("state", string(m.session.State)).Msg("moved to foreground")
}

// Teardown cancels every timer and releases feedback. The machine is inert afterwards.
func (m *Machine) Teardown() {
	if m.tornDown {
		return
	}
	m.clearAllTimers()
	m.fx.StopMusic()
	m.tornDown = true
}

func (m *Machine) Quit()    { m.nav.Quit() }
func (m *Machine) Restart() { m.nav.Restart() }
func (m *Machine) Requeue() { m.nav.Requeue() }
