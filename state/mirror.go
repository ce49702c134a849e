package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/tasks"
)

// Key prefixes used by Mirror.
const (
	AgentPrefix = "agents."
	TaskPrefix  = "tasks."
)

// AgentKey returns the mirror key of an agent.
func AgentKey(id string) string { return AgentPrefix + id }

// TaskKey returns the mirror key of a task.
func TaskKey(id string) string { return TaskPrefix + id }

// Mirror writes a node's view of agents and tasks to a Store as JSON.
// It is write-mostly: nodes never restore from it.
type Mirror struct {
	store Store
	ttl   time.Duration
}

// NewMirror creates a mirror writing entries that expire after ttl.
func NewMirror(store Store, ttl time.Duration) *Mirror {
	return &Mirror{store: store, ttl: ttl}
}

// Store returns the underlying store.
func (m *Mirror) Store() Store {
	return m.store
}

// Snapshot is one mirror write.
type Snapshot struct {
	Agents []directory.Agent
	Tasks  []tasks.Task
}

// Write stores every agent and task in snap. It keeps going after a
// failed put and returns the first error.
func (m *Mirror) Write(ctx context.Context, snap Snapshot) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, a := range snap.Agents {
		keep(m.put(ctx, AgentKey(a.ID), a))
	}
	for _, t := range snap.Tasks {
		keep(m.put(ctx, TaskKey(t.ID), t))
	}
	return first
}

func (m *Mirror) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	if err := m.store.Put(ctx, key, data, m.ttl); err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	return nil
}

// Agents reads back every mirrored agent.
func (m *Mirror) Agents(ctx context.Context) ([]directory.Agent, error) {
	var out []directory.Agent
	err := m.each(ctx, AgentPrefix, func(data []byte) error {
		var a directory.Agent
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// Tasks reads back every mirrored task.
func (m *Mirror) Tasks(ctx context.Context) ([]tasks.Task, error) {
	var out []tasks.Task
	err := m.each(ctx, TaskPrefix, func(data []byte) error {
		var t tasks.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func (m *Mirror) each(ctx context.Context, prefix string, fn func([]byte) error) error {
	keys, err := m.store.Keys(ctx, prefix+"*")
	if err != nil {
		return err
	}
	for _, key := range keys {
		data, err := m.store.Get(ctx, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(data); err != nil {
			return fmt.Errorf("decode %s: %w", strings.TrimPrefix(key, prefix), err)
		}
	}
	return nil
}
