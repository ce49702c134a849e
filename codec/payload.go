package codec

import (
	"encoding/json"
	"fmt"
)

// Payload is an opaque, tagged value. The coordination layer never looks
// inside; Kind tells the application how to interpret Data.
type Payload struct {
	Kind string `json:"kind,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// NewPayload encodes v as JSON and tags it with kind.
func NewPayload(kind string, v any) (Payload, error) {
	if v == nil {
		return Payload{Kind: kind}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Payload{Kind: kind, Data: data}, nil
}

// MustPayload is NewPayload for values that always encode.
func MustPayload(kind string, v any) Payload {
	p, err := NewPayload(kind, v)
	if err != nil {
		panic(err)
	}
	return p
}

// Decode unmarshals the payload data into v.
func (p Payload) Decode(v any) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("empty %s payload", p.Kind)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", p.Kind, err)
	}
	return nil
}

// IsZero reports whether the payload carries nothing.
func (p Payload) IsZero() bool {
	return p.Kind == "" && len(p.Data) == 0
}

// Clone returns a copy that shares no memory with p.
func (p Payload) Clone() Payload {
	if p.Data == nil {
		return p
	}
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return Payload{Kind: p.Kind, Data: data}
}

func (p Payload) String() string {
	if p.IsZero() {
		return "<empty>"
	}
	return fmt.Sprintf("%s(%d bytes)", p.Kind, len(p.Data))
}
