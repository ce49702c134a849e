package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid key")
	ErrInvalidTTL = errors.New("invalid TTL")
)

// Operation represents the type of change to a key.
type Operation int

const (
	// OpPut indicates a key was created or updated.
	OpPut Operation = iota
	// OpDelete indicates a key was deleted or expired.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// KeyValue is a key-value entry with metadata.
type KeyValue struct {
	Key       string
	Value     []byte
	Revision  uint64
	Operation Operation
	Modified  time.Time
}

// Store is a key-value store with optional expiry.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value. A zero ttl keeps the store's default.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns the keys matching pattern, sorted.
	// Pattern supports a trailing * wildcard (e.g., "agents.*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Watch streams changes to keys matching pattern until ctx ends
	// or the store closes.
	Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error)

	// Close releases resources.
	Close() error
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" || len(key) > 1024 {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " *>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

// ValidateTTL checks if a TTL is valid.
func ValidateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "tasks.*" matches "tasks.t-1").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}
