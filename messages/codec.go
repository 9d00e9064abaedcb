package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// api follows encoding/json semantics so clients see the same output either way
var api = sonic.ConfigStd

// Encode marshals a server message for the websocket
func Encode(msg any) ([]byte, error) {
	data, err := api.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeClient parses a client envelope
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := api.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("invalid message format: missing type")
	}
	return &msg, nil
}

// DecodePayload parses the payload of msg into v
func DecodePayload(msg *ClientMessage, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("invalid %s payload: empty", msg.Type)
	}
	if err := api.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	return nil
}
