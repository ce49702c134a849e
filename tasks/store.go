package tasks

import (
	"fmt"
	"time"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/errors"
)

// Store holds the tasks a node knows about. Tasks it owns move through
// the transition methods below; tasks owned by peers are kept as
// read-only snapshots fed by Observe.
//
// A Store is not safe for concurrent use.
type Store struct {
	selfID string
	tasks  map[string]*Task
	order  []string
}

// NewStore creates an empty store for the node selfID.
func NewStore(selfID string) *Store {
	return &Store{
		selfID: selfID,
		tasks:  make(map[string]*Task),
	}
}

// Create stores a new pending task owned by this node.
func (s *Store) Create(spec Spec, now time.Time) (Task, error) {
	if spec.ID == "" {
		return Task{}, errors.InvalidInput("task id required")
	}
	if spec.Type == "" {
		return Task{}, errors.InvalidInput("task type required", errors.WithTaskID(spec.ID))
	}
	if _, exists := s.tasks[spec.ID]; exists {
		return Task{}, errors.Conflict("task already exists", errors.WithTaskID(spec.ID))
	}

	maxRetries := spec.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	t := &Task{
		ID:           spec.ID,
		Type:         spec.Type,
		Priority:     spec.Priority,
		Requirements: spec.Requirements.clone(),
		Payload:      spec.Payload.Clone(),
		Status:       StatusPending,
		OwnerID:      s.selfID,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
	}
	if spec.Deadline != nil {
		d := *spec.Deadline
		t.Deadline = &d
	}

	s.insert(t)
	return t.Clone(), nil
}

func (s *Store) insert(t *Task) {
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
}

// Get returns a copy of a task.
func (s *Store) Get(id string) (Task, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// Owns reports whether id is a task created by this node.
func (s *Store) Owns(id string) bool {
	t, ok := s.tasks[id]
	return ok && t.OwnerID == s.selfID
}

func (s *Store) owned(id string) (*Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if t.OwnerID != s.selfID {
		return nil, errors.Conflict(fmt.Sprintf("task owned by %s", t.OwnerID), errors.WithTaskID(id))
	}
	return t, nil
}

func conflict(t *Task, op string) error {
	return errors.Conflict(fmt.Sprintf("cannot %s task in status %s", op, t.Status),
		errors.WithTaskID(t.ID), errors.WithMetadata("status", string(t.Status)))
}

// Assign hands a pending task to agentID and starts a new attempt.
func (s *Store) Assign(id, agentID string, now time.Time) (Task, error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status != StatusPending {
		return Task{}, conflict(t, "assign")
	}

	t.Status = StatusAssigned
	t.AssignedTo = agentID
	t.Attempt++
	started := now
	t.StartedAt = &started
	t.Error = ""
	return t.Clone(), nil
}

// Start records that the assignee began work on the given attempt.
func (s *Store) Start(id, agentID string, attempt int) (Task, error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status != StatusAssigned || !t.heldBy(agentID, attempt) {
		return Task{}, errors.Stale("start does not match current assignment", errors.WithTaskID(id), errors.WithAgentID(agentID))
	}
	t.Status = StatusInProgress
	return t.Clone(), nil
}

func (t *Task) heldBy(agentID string, attempt int) bool {
	return t.AssignedTo == agentID && t.Attempt == attempt
}

// Current reports whether (agentID, attempt) is the live assignment of
// an active task.
func (s *Store) Current(id, agentID string, attempt int) bool {
	t, ok := s.tasks[id]
	return ok && t.Status.IsActive() && t.heldBy(agentID, attempt)
}

// Complete finishes a non-terminal task successfully.
func (s *Store) Complete(id string, result codec.Payload, now time.Time) (Task, error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status.IsTerminal() {
		return Task{}, conflict(t, "complete")
	}

	t.Status = StatusCompleted
	t.Result = result.Clone()
	t.Error = ""
	t.finish(now)
	return t.Clone(), nil
}

// Fail records a failed attempt. While retries remain the task returns
// to pending with Retries incremented and retry is true; otherwise it
// ends failed.
func (s *Store) Fail(id, reason string, now time.Time) (task Task, retry bool, err error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, false, err
	}
	if t.Status.IsTerminal() {
		return Task{}, false, conflict(t, "fail")
	}

	t.Error = reason
	if t.Retries < t.MaxRetries {
		t.Retries++
		t.release()
		return t.Clone(), true, nil
	}

	t.Status = StatusFailed
	t.finish(now)
	return t.Clone(), false, nil
}

// Requeue returns an active task to pending without charging a retry,
// e.g. when its agent vanished.
func (s *Store) Requeue(id string) (Task, error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, err
	}
	if !t.Status.IsActive() {
		return Task{}, conflict(t, "requeue")
	}
	t.release()
	return t.Clone(), nil
}

// Cancel ends a non-terminal task. The returned task still names its
// last assignee.
func (s *Store) Cancel(id string, now time.Time) (Task, error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status.IsTerminal() {
		return Task{}, conflict(t, "cancel")
	}
	t.Status = StatusCancelled
	t.finish(now)
	return t.Clone(), nil
}

// Expire fails a task whose deadline passed, regardless of retries.
func (s *Store) Expire(id string, now time.Time) (Task, error) {
	t, err := s.owned(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status.IsTerminal() {
		return Task{}, conflict(t, "expire")
	}
	t.Status = StatusFailed
	t.Error = "deadline exceeded"
	t.finish(now)
	return t.Clone(), nil
}

func (t *Task) release() {
	t.Status = StatusPending
	t.AssignedTo = ""
	t.StartedAt = nil
}

func (t *Task) finish(now time.Time) {
	done := now
	t.CompletedAt = &done
}

// Observe records a snapshot of a task owned by a peer. Snapshots of
// tasks this node owns are ignored.
func (s *Store) Observe(snapshot Task) bool {
	if snapshot.ID == "" || snapshot.OwnerID == s.selfID {
		return false
	}
	if existing, ok := s.tasks[snapshot.ID]; ok {
		if existing.OwnerID == s.selfID {
			return false
		}
		*existing = snapshot.Clone()
		return true
	}
	t := snapshot.Clone()
	s.insert(&t)
	return true
}

// All returns every known task in creation order.
func (s *Store) All() []Task {
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// Owned returns the ids of tasks this node owns whose status is one of
// statuses (all statuses when none given), in creation order.
func (s *Store) Owned(statuses ...Status) []string {
	var out []string
	for _, id := range s.order {
		t := s.tasks[id]
		if t.OwnerID != s.selfID {
			continue
		}
		if len(statuses) == 0 || hasStatus(statuses, t.Status) {
			out = append(out, id)
		}
	}
	return out
}

func hasStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// HeldBy returns the ids of owned active tasks assigned to agentID.
func (s *Store) HeldBy(agentID string) []string {
	var out []string
	for _, id := range s.Owned(StatusAssigned, StatusInProgress) {
		if s.tasks[id].AssignedTo == agentID {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of known tasks.
func (s *Store) Len() int {
	return len(s.order)
}
