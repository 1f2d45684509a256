package match

import (
	"fmt"
	"slices"
	"time"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

// View is a read-only snapshot of a match for the rendering layer.
type View struct {
	SessionID        string            `json:"session_id"`
	Mode             Mode              `json:"mode"`
	State            State             `json:"state"`
	PausedFrom       State             `json:"paused_from,omitempty"`
	Phase            round.Phase       `json:"phase,omitempty"`
	Round            int               `json:"round"`
	MaxRounds        int               `json:"max_rounds"`
	Countdown        int               `json:"countdown"`
	RoundScreen      bool              `json:"round_screen"`
	RoundTimer       int               `json:"round_timer"`
	Deadline         *time.Time        `json:"deadline,omitempty"`
	Targets          []int             `json:"targets,omitempty"`
	Positions        []round.Position  `json:"positions,omitempty"`
	Clicked          []int             `json:"clicked,omitempty"`
	Resolved         []int             `json:"resolved,omitempty"`
	Score            int               `json:"score"`
	OpponentScore    int               `json:"opponent_score"`
	OpponentName     string            `json:"opponent_name,omitempty"`
	HighScore        int               `json:"high_score"`
	Reconnecting     bool              `json:"reconnecting"`
	ReconnectSeconds int               `json:"reconnect_seconds,omitempty"`
	Error            bool              `json:"error"`
	Paused           bool              `json:"paused"`
	WaitingForResult bool              `json:"waiting_for_result"`
	PerfectRound     bool              `json:"perfect_round"`
	Tutorial         bool              `json:"tutorial"`
	ConnectionStatus string            `json:"connection_status,omitempty"`
	Settings         feedback.Settings `json:"settings"`
	Background       bool              `json:"background"`
	Result           *Result           `json:"result,omitempty"`
}

// View snapshots the machine. Targets are withheld until the reveal starts.
func (m *Machine) View() View {
	s := m.session
	v := View{
		SessionID:        s.ID.String(),
		Mode:             s.Mode,
		State:            s.State,
		PausedFrom:       s.PausedFrom,
		Round:            s.RoundIndex,
		MaxRounds:        MaxRounds,
		Countdown:        m.countdown,
		RoundScreen:      m.roundScreen,
		RoundTimer:       m.roundTimer,
		Score:            s.Score,
		OpponentScore:    s.OpponentScore,
		HighScore:        m.highScore,
		Reconnecting:     m.reconnecting,
		ReconnectSeconds: m.reconnectSeconds,
		Error:            m.errorFlag,
		Paused:           s.State == StatePaused,
		WaitingForResult: s.State == StateResolving,
		PerfectRound:     !m.bannerUntil.IsZero(),
		Tutorial:         m.tutorial,
		ConnectionStatus: m.connStatus,
		Settings:         m.fx.Settings(),
		Background:       m.background,
	}
	if s.Online() {
		v.OpponentName = s.OpponentName
	}
	if !s.RoundDeadline.IsZero() && s.State == StateActive {
		deadline := s.RoundDeadline
		v.Deadline = &deadline
	}
	if r := m.round; r != nil {
		v.Phase = r.Phase
		if r.Phase != round.PhaseCountdown {
			v.Targets = slices.Clone(r.Targets)
			v.Positions = slices.Clone(r.Positions)
			v.Clicked = slices.Clone(r.Clicked)
			v.Resolved = slices.Clone(r.Resolved)
		}
	}
	if m.result != nil {
		res := *m.result
		v.Result = &res
	}
	return v
}

// ShareText is the message offered when the player shares a score.
func (v View) ShareText() string {
	return fmt.Sprintf("I scored %d on BrainBuffer! High Score: %d. Can you beat me?", v.Score, v.HighScore)
}
