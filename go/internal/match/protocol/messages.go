package protocol

import (
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

// Type is the value of the "type" field every frame carries.
type Type string

// Inbound message types, as the match server emits them.
const (
	TypeGameStart          Type = "GAME_START"
	TypeWaitingForOpponent Type = "WAITING_FOR_OPPONENT"
	TypeSyncState          Type = "SYNC_STATE"
	TypeOpponentFinished   Type = "OPPONENT_FINISHED"
	TypeOpponentForfeit    Type = "OPPONENT_FORFEIT"
	TypeMatchAborted       Type = "MATCH_ABORTED"
	TypeMatchCancelled     Type = "MATCH_CANCELLED"
	TypeError              Type = "ERROR"
	TypeResult             Type = "RESULT"
	TypePing               Type = "ping"
)

// Outbound message types.
const (
	TypeClientReady Type = "CLIENT_READY"
	TypeScoreUpdate Type = "SCORE_UPDATE"
	TypeGameOver    Type = "GAME_OVER"
	TypeHeartbeat   Type = "PING"
	TypePong        Type = "pong"
)

// Message is a decoded inbound frame.
type Message interface {
	MessageType() Type
}

// GameStart fixes the round content of a match and starts it.
type GameStart struct {
	Rounds        []round.Content `json:"rounds"`
	OpponentName  string          `json:"opponent_name"`
	YourScore     int             `json:"your_current_score"`
	OpponentScore int             `json:"op_current_score"`
}

// WaitingForOpponent reports that the opponent's connection dropped and how
// long the server will wait for it.
type WaitingForOpponent struct {
	SecondsLeft int `json:"seconds_left"`
}

// SyncState is the periodic score reconciliation. YourScore is optional.
type SyncState struct {
	OpponentScore int  `json:"opponent_score"`
	YourScore     *int `json:"your_score,omitempty"`
}

// OpponentFinished carries the opponent's final score before the result is known.
type OpponentFinished struct {
	Score int `json:"score"`
}

// OpponentForfeit ends the match in the local player's favor. No Result follows.
type OpponentForfeit struct {
	LeaverName string `json:"leaver_name"`
}

// MatchAborted ends the match without a winner; the entry fee is refunded server side.
type MatchAborted struct {
	Reason     string `json:"reason,omitempty"`
	LeaverName string `json:"leaver_name,omitempty"`
}

// MatchCancelled is sent when a match never got off the ground.
type MatchCancelled struct {
	Reason string `json:"reason,omitempty"`
}

// Error is a server-side error report. Only fatal errors end the match.
type Error struct {
	Reason  string `json:"reason,omitempty"`
	IsFatal bool   `json:"is_fatal"`
}

// Status is the outcome reported in a Result.
type Status string

const (
	StatusWon  Status = "WON"
	StatusLost Status = "LOST"
	StatusDraw Status = "DRAW"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWon, StatusLost, StatusDraw:
		return true
	}
	return false
}

// Result is the authoritative end of a match.
type Result struct {
	Status  Status `json:"status"`
	MyScore int    `json:"my_score"`
	OpScore int    `json:"op_score"`
	Summary string `json:"summary,omitempty"`
}

// Ping is the server keep-alive. It is answered with a pong.
type Ping struct{}

func (GameStart) MessageType() Type          { return TypeGameStart }
func (WaitingForOpponent) MessageType() Type { return TypeWaitingForOpponent }
func (SyncState) MessageType() Type          { return TypeSyncState }
func (OpponentFinished) MessageType() Type   { return TypeOpponentFinished }
func (OpponentForfeit) MessageType() Type    { return TypeOpponentForfeit }
func (MatchAborted) MessageType() Type       { return TypeMatchAborted }
func (MatchCancelled) MessageType() Type     { return TypeMatchCancelled }
func (Error) MessageType() Type              { return TypeError }
func (Result) MessageType() Type             { return TypeResult }
func (Ping) MessageType() Type               { return TypePing }

// Outbound is a frame sent by the client.
type Outbound struct {
	Type  Type `json:"type"`
	Score *int `json:"score,omitempty"`
}

func ClientReady() Outbound { return Outbound{Type: TypeClientReady} }
func Heartbeat() Outbound   { return Outbound{Type: TypeHeartbeat} }
func Pong() Outbound        { return Outbound{Type: TypePong} }

// ScoreUpdate reports the running score after a completed round.
func ScoreUpdate(score int) Outbound {
	return Outbound{Type: TypeScoreUpdate, Score: &score}
}

// GameOver reports the final local score.
func GameOver(score int) Outbound {
	return Outbound{Type: TypeGameOver, Score: &score}
}
