// Package envelope defines the JSON message format relayed between peers
// and the codec used by both the hub and its clients.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a frame cannot be decoded into an Envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the unit exchanged over the relay. A nil Receiver marks a
// broadcast to every peer subscribed to Endpoint. The sender is never part
// of the envelope; the hub derives it from the connection.
type Envelope struct {
	Endpoint string          `json:"endpoint"`
	Receiver *string         `json:"receiver"`
	Payload  json.RawMessage `json:"payload"`
}

// Broadcast builds an envelope without receiver, marshalling payload.
func Broadcast(endpoint string, payload any) (Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Endpoint: endpoint, Payload: raw}, nil
}

// Directed builds an envelope addressed to receiver, marshalling payload.
func Directed(endpoint, receiver string, payload any) (Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Endpoint: endpoint, Receiver: &receiver, Payload: raw}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

// IsBroadcast reports whether the envelope has no receiver.
func (e Envelope) IsBroadcast() bool {
	return e.Receiver == nil
}

// ReceiverName returns the receiver or an empty string for broadcasts.
func (e Envelope) ReceiverName() string {
	if e.Receiver == nil {
		return ""
	}
	return *e.Receiver
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Validate checks the fields the hub needs for routing.
func (e Envelope) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("%w: missing endpoint", ErrMalformed)
	}
	return nil
}

// Encode serializes an envelope to a single JSON text frame.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a text frame. Only JSON objects with a non-empty endpoint
// are accepted.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var e Envelope
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
