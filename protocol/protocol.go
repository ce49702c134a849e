// Package protocol defines the messages swarm nodes exchange on the bus.
//
// Every message embeds a Header naming its type, sender and send time.
// A message of type T travels on subject "<prefix>.T"; nodes subscribe
// to "<prefix>.>" and dispatch on the decoded type. Messages are encoded
// with a codec.Codec chosen per swarm, JSON by default.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/swarmkit/codec"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "swarm"

// Common errors.
var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingHeader = errors.New("message header incomplete")
)

// Header is carried by every message.
type Header struct {
	Type      string    `json:"type"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Header) header() *Header { return h }

// Sender returns the id of the node that sent the message.
func (h *Header) Sender() string { return h.SenderID }

// Message is implemented by every bus message type.
type Message interface {
	MessageType() string
	header() *Header
}

// HeaderOf returns the header of m.
func HeaderOf(m Message) Header {
	return *m.header()
}

// Stamp fills in the header of m for sending.
func Stamp(m Message, sender string, now time.Time) {
	h := m.header()
	h.Type = m.MessageType()
	h.SenderID = sender
	h.Timestamp = now
}

// Subject returns the subject for message type msgType.
func Subject(prefix, msgType string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + msgType
}

// Wildcard returns the subscription pattern matching every message type
// under prefix.
func Wildcard(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ".>"
}

// Encode marshals a stamped message.
func Encode(c codec.Codec, m Message) ([]byte, error) {
	h := m.header()
	if h.Type == "" || h.SenderID == "" {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), ErrMissingHeader)
	}
	if _, ok := factories[h.Type]; !ok {
		return nil, fmt.Errorf("encode: %w: %q", ErrUnknownType, h.Type)
	}
	return c.Marshal(m)
}

// Decode unmarshals a message of any known type. The header is read
// first to select the concrete type.
func Decode(c codec.Codec, data []byte) (Message, error) {
	var h Header
	if err := c.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if h.Type == "" || h.SenderID == "" {
		return nil, ErrMissingHeader
	}

	factory, ok := factories[h.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	m := factory(h.Type)
	if err := c.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Type, err)
	}
	return m, nil
}

// Types returns every registered message type.
func Types() []string {
	out := make([]string, 0, len(typeOrder))
	out = append(out, typeOrder...)
	return out
}
