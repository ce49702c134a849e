package bus

import (
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrTimeout        = errors.New("request timeout")
	ErrNoResponders   = errors.New("no responders")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the encoded payload.
	Data []byte

	// Reply is the reply subject for request/reply.
	// Empty for regular pub/sub messages.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging. Delivery is
// at-most-once per subscriber and unordered across publishers.
type MessageBus interface {
	// Publish sends a message to all subscribers whose subject
	// pattern matches. Wildcards are not allowed when publishing.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject pattern.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Each message goes to one member of the queue.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Request sends a request and waits for a single reply.
	// Returns ErrTimeout if no reply within timeout.
	Request(subject string, data []byte, timeout time.Duration) (*Message, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels. Messages arriving at a
	// full channel are dropped.
	// Default: 1024
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1024,
	}
}

// ValidateSubject checks a subscription pattern. Tokens must be
// non-empty; ">" may only appear as the last token.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if tok == "" {
			return ErrInvalidSubject
		}
		if tok == ">" && i != len(tokens)-1 {
			return ErrInvalidSubject
		}
	}
	return nil
}

// ValidatePublishSubject checks a concrete subject. Wildcards are
// rejected.
func ValidatePublishSubject(subject string) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether a concrete subject matches a pattern
// using NATS wildcard rules.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
