package events

import (
	"encoding/json"

	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
)

const (
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeState             = "state"
)

// Message is the JSON frame sent to subscribers.
type Message struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	UserID    domain.UserID `json:"user_id,omitempty"`
	State     string        `json:"state,omitempty"`
}

func joinedMessage(p domain.ParticipantRef) Message {
	return Message{Type: TypeParticipantJoined, SessionID: p.SessionID, UserID: p.UserID}
}

func leftMessage(sessionID string) Message {
	return Message{Type: TypeParticipantLeft, SessionID: sessionID}
}

func stateMessage(s core.State) Message {
	return Message{Type: TypeState, State: s.String()}
}

func Encode(m Message) (core.Frame, error) {
	return json.Marshal(m)
}
