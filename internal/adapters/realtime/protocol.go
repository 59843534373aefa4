package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the wire format of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw data of an event. Handlers run on the read loop
// and must not block.
type Handler = func(data json.RawMessage)

func newEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals event data into T.
func Decode[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, errors.New("empty event payload")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode event payload: %w", err)
	}
	return out, nil
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type friendStatusRequest struct {
	FriendID string `json:"friendId"`
}

type connectErrorPayload struct {
	Attempt int    `json:"attempt"`
	Message string `json:"message"`
}
