package bridge

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for all WebSocket frames sent to bridge clients.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage constructs a Message by marshaling the given payload.
func NewMessage[T any](msgType string, payload T) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// ParsePayload unmarshals the raw payload of a Message into T.
func ParsePayload[T any](msg Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

// Server → Client message types.
const (
	MsgTransition = "transition"
	MsgEvent      = "event"
	MsgResult     = "result"
)

// TransitionPayload mirrors a monitor transition record: watch started,
// rebase, CI state change, watch complete.
type TransitionPayload struct {
	PR     int               `json:"pr"`
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields,omitempty"`
}

// EventPayload carries a classified PR event from a multi-PR watch.
type EventPayload struct {
	PR      int    `json:"pr"`
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ResultPayload carries the terminal outcome of a single-PR watch.
type ResultPayload struct {
	PR              int    `json:"pr"`
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	Rebases         int    `json:"rebases"`
	CIPassed        bool   `json:"ci_passed"`
	ReviewCompleted bool   `json:"review_completed"`
}
