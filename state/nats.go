package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements Store on a NATS JetStream KV bucket.
type NATSStore struct {
	kv     jetstream.KeyValue
	config NATSStoreConfig
	closed atomic.Bool
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	// Default: "swarm-state"
	Bucket string

	// TTL expires entries bucket-wide. JetStream KV has no per-key TTL
	// on Put, so the ttl argument of Put is ignored.
	TTL time.Duration

	// History is the number of revisions kept per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32

	// Timeout bounds bucket creation.
	// Default: 10s
	Timeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "swarm-state",
		History:      1,
		MaxValueSize: 1024 * 1024,
		Timeout:      10 * time.Second,
	}
}

// NewNATSStore opens (creating if needed) a JetStream KV bucket.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	def := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		TTL:          cfg.TTL,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{kv: kv, config: cfg}, nil
}

// Bucket returns the bucket name.
func (s *NATSStore) Bucket() string {
	return s.config.Bucket
}

// Get retrieves a value by key.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}
	return entry.Value(), nil
}

// Put stores a value.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Keys returns the keys matching pattern, sorted.
func (s *NATSStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	lister, err := s.kv.ListKeysFiltered(ctx, natsFilter(pattern))
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// natsFilter converts a trailing * pattern to a NATS subject filter.
// The filter may be broader than the pattern; callers re-check with
// MatchPattern.
func natsFilter(pattern string) string {
	switch {
	case pattern == "" || pattern == "*":
		return ">"
	case strings.HasSuffix(pattern, ".*"):
		return strings.TrimSuffix(pattern, "*") + ">"
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		if i := strings.LastIndex(prefix, "."); i >= 0 {
			return prefix[:i+1] + ">"
		}
		return ">"
	default:
		return pattern
	}
}

// Watch streams changes to keys matching pattern.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	watcher, err := s.kv.Watch(ctx, natsFilter(pattern), jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("kv watch: %w", err)
	}

	ch := make(chan *KeyValue, 64)
	go s.watchLoop(ctx, watcher, ch, pattern)
	return ch, nil
}

func (s *NATSStore) watchLoop(ctx context.Context, watcher jetstream.KeyWatcher, ch chan *KeyValue, pattern string) {
	defer close(ch)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok || s.closed.Load() {
				return
			}
			if entry == nil || !MatchPattern(pattern, entry.Key()) {
				continue
			}

			kv := &KeyValue{
				Key:       entry.Key(),
				Value:     entry.Value(),
				Revision:  entry.Revision(),
				Operation: opFromNATS(entry.Operation()),
				Modified:  entry.Created(),
			}
			select {
			case ch <- kv:
			default:
			}
		}
	}
}

func opFromNATS(op jetstream.KeyValueOp) Operation {
	switch op {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return OpDelete
	default:
		return OpPut
	}
}

// Close marks the store closed. The connection belongs to the caller.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}
