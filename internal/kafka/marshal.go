package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

// DecodeEnvelope reads an envelope from a message value.
func DecodeEnvelope(b []byte) (marketplace.Envelope, error) {
	var env marketplace.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the payload of an envelope into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
