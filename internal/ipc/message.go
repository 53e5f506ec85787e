package ipc

import (
	"encoding/json"
	"fmt"
)

// WireVersion is the envelope version this package speaks.
const WireVersion = 1

// Kind distinguishes requests from responses.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Message is the envelope carried in every frame.
//
// A request carries Method and Args. A response carries the request's ID and
// either Result or Error.
type Message struct {
	V      int             `json:"v"`
	ID     uint64          `json:"id"`
	Kind   Kind            `json:"kind"`
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is a remote application error in serialized form.
type WireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeMessage serializes m, stamping the current wire version.
func EncodeMessage(m *Message) ([]byte, error) {
	m.V = WireVersion
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s %q: %w", m.Kind, m.Method, err)
	}
	return data, nil
}

// DecodeMessage parses a frame payload and validates the envelope.
func DecodeMessage(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.V != WireVersion {
		return nil, fmt.Errorf("unsupported wire version %d (want %d)", m.V, WireVersion)
	}
	switch m.Kind {
	case KindRequest:
		if m.Method == "" {
			return nil, fmt.Errorf("request %d has no method", m.ID)
		}
	case KindResponse:
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return &m, nil
}
