// Package protocol is the relay wire format shared by the bridge and the
// relay server: JSON text frames of the form {"event": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"errors"
)

const (
	// EventRegister is sent once after connecting; data is the user id.
	EventRegister = "register"
	// EventPrivateMessage carries a models.PrivateMessage in both directions.
	EventPrivateMessage = "private message"
	// EventError is sent by the relay when it refuses a frame.
	EventError = "error"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeNotRegistered = "not_registered"
	ErrCodeForbidden     = "forbidden"
	ErrCodeInvalidMsg    = "invalid_message"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternal      = "internal_error"
)

var ErrNoEvent = errors.New("protocol: envelope has no event")

// Encode marshals an envelope for event carrying data.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func Parse(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, ErrNoEvent
	}
	return &env, nil
}
