package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a published match event.
type EventType string

const (
	EventTypeMatchEnded EventType = "MatchEnded"
)

// Event is one message handed to a Publisher.
type Event struct {
	ID        uuid.UUID
	SessionID string
	Type      EventType
	Payload   []byte
	CreatedAt time.Time
}

// MatchEndedPayload is the payload for a MatchEnded event
type MatchEndedPayload struct {
	SessionID     string    `json:"session_id"`
	MatchID       string    `json:"match_id,omitempty"`
	Mode          string    `json:"mode"`
	Outcome       string    `json:"outcome"`
	Summary       string    `json:"summary,omitempty"`
	Score         int       `json:"score"`
	OpponentScore int       `json:"opponent_score"`
	OpponentName  string    `json:"opponent_name,omitempty"`
	Rounds        int       `json:"rounds"`
	NewHighScore  bool      `json:"new_high_score"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// NewMatchEnded wraps a payload into an event with a fresh id.
func NewMatchEnded(p MatchEndedPayload) (Event, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", EventTypeMatchEnded, err)
	}
	return Event{
		ID:        uuid.New(),
		SessionID: p.SessionID,
		Type:      EventTypeMatchEnded,
		Payload:   data,
		CreatedAt: p.EndedAt,
	}, nil
}

// Envelope is the JSON body written to the bus.
func (e Event) Envelope() ([]byte, error) {
	env := map[string]interface{}{
		"eventId":   e.ID.String(),
		"eventType": e.Type,
		"sessionId": e.SessionID,
		"timestamp": e.CreatedAt.UTC(),
		"payload":   json.RawMessage(e.Payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
