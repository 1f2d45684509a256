package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not valid messages.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed frames of a type this client does not handle.
	ErrUnknownType = errors.New("unknown message type")
)

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one inbound frame into its typed message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case TypeGameStart:
		return decodeAs[GameStart](env.Type, data)
	case TypeWaitingForOpponent:
		return decodeAs[WaitingForOpponent](env.Type, data)
	case TypeSyncState:
		return decodeAs[SyncState](env.Type, data)
	case TypeOpponentFinished:
		return decodeAs[OpponentFinished](env.Type, data)
	case TypeOpponentForfeit:
		return decodeAs[OpponentForfeit](env.Type, data)
	case TypeMatchAborted:
		return decodeAs[MatchAborted](env.Type, data)
	case TypeMatchCancelled:
		return decodeAs[MatchCancelled](env.Type, data)
	case TypeError:
		return decodeAs[Error](env.Type, data)
	case TypeResult:
		return decodeAs[Result](env.Type, data)
	case TypePing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

type validator interface {
	validate() error
}

func decodeAs[T Message](t Type, data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	if v, ok := any(msg).(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
		}
	}
	return msg, nil
}

func (m WaitingForOpponent) validate() error {
	if m.SecondsLeft < 0 {
		return errors.New("negative seconds_left")
	}
	return nil
}

// Encode serializes an outbound frame.
func Encode(out Outbound) ([]byte, error) {
	if out.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return json.Marshal(out)
}

// Marshal serializes an inbound message with its type field. The match
// server side of tests and tools uses it to speak to a client.
func Marshal(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	typ, err := json.Marshal(msg.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}
