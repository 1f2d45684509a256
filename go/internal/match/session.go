package match

import (
	"time"

	"github.com/google/uuid"
)

// Mode is fixed when a session is created.
type Mode string

const (
	ModeOffline Mode = "OFFLINE"
	ModeOnline  Mode = "ONLINE"
)

// State is the single tagged state of a match.
type State string

const (
	StateIdle          State = "IDLE"
	StateConnecting    State = "CONNECTING"
	StateCountdown     State = "COUNTDOWN"
	StateReveal        State = "REVEAL"
	StateActive        State = "ACTIVE"
	StateRoundComplete State = "ROUND_COMPLETE"
	StateFailed        State = "FAILED"
	StatePaused        State = "PAUSED"
	StateResolving     State = "RESOLVING"
	StateEnded         State = "ENDED"
)

// Outcome is the terminal result tag of a match.
type Outcome string

const (
	OutcomePending    Outcome = "PENDING"
	OutcomeWon        Outcome = "WON"
	OutcomeLost       Outcome = "LOST"
	OutcomeDraw       Outcome = "DRAW"
	OutcomeForfeitWin Outcome = "FORFEIT_WIN"
	OutcomeAborted    Outcome = "ABORTED"
)

// Result is what the terminal screen shows. It is set exactly once.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	Summary       string  `json:"summary,omitempty"`
	Score         int     `json:"score"`
	OpponentScore int     `json:"opponent_score"`
	NewHighScore  bool    `json:"new_high_score"`
}

// Session is the root record of one played match. It is owned by the Machine.
type Session struct {
	ID            uuid.UUID
	Mode          Mode
	State         State
	PausedFrom    State
	RoundIndex    int
	Score         int
	OpponentScore int
	OpponentName  string
	RoundDeadline time.Time
	Outcome       Outcome
	Summary       string
	StartedAt     time.Time
	EndedAt       time.Time
}

func newSession(mode Mode) *Session {
	return &Session{
		ID:           uuid.New(),
		Mode:         mode,
		State:        StateIdle,
		RoundIndex:   1,
		OpponentName: "Opponent",
		Outcome:      OutcomePending,
	}
}

// Ended is the match latch. Once true, score, round and phase are frozen.
func (s Session) Ended() bool {
	return s.State == StateEnded
}

// Online reports whether the session is played against the match server.
func (s Session) Online() bool {
	return s.Mode == ModeOnline
}
