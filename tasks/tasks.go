package tasks

import (
	"time"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/directory"
)

// DefaultMaxRetries is used when a spec leaves MaxRetries unset.
const DefaultMaxRetries = 3

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for completed, failed and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive returns true while an agent holds the task.
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Requirements constrain which agents may run a task. Zero fields
// impose nothing.
type Requirements struct {
	// Capabilities the agent must all advertise.
	Capabilities []string `json:"capabilities,omitempty"`

	// AgentTypes allowed to run the task. Empty allows any type.
	AgentTypes []string `json:"agent_types,omitempty"`

	// MinBattery in percent. Checked only when both task and agent
	// define a value.
	MinBattery *float64 `json:"min_battery,omitempty"`

	// Near and MaxDistance form a proximity constraint, applied only
	// when both are set. Agents without a position are then excluded.
	Near        *directory.Position `json:"near,omitempty"`
	MaxDistance *float64            `json:"max_distance,omitempty"`

	// Exclusive tasks need an agent that is not busy and keep it busy.
	// Nil means true.
	Exclusive *bool `json:"exclusive,omitempty"`
}

// IsExclusive resolves the Exclusive default.
func (r Requirements) IsExclusive() bool {
	return r.Exclusive == nil || *r.Exclusive
}

// HasProximity reports whether the proximity constraint is active.
func (r Requirements) HasProximity() bool {
	return r.Near != nil && r.MaxDistance != nil
}

func (r Requirements) clone() Requirements {
	c := r
	c.Capabilities = append([]string(nil), r.Capabilities...)
	c.AgentTypes = append([]string(nil), r.AgentTypes...)
	if r.MinBattery != nil {
		v := *r.MinBattery
		c.MinBattery = &v
	}
	if r.Near != nil {
		p := *r.Near
		c.Near = &p
	}
	if r.MaxDistance != nil {
		v := *r.MaxDistance
		c.MaxDistance = &v
	}
	if r.Exclusive != nil {
		v := *r.Exclusive
		c.Exclusive = &v
	}
	return c
}

// Spec is the input for creating a task.
type Spec struct {
	// ID is generated when empty.
	ID           string
	Type         string
	Payload      codec.Payload
	Requirements Requirements

	// Priority is recorded on the task; allocation does not use it.
	Priority int

	// Deadline, if set, fails the task once passed.
	Deadline *time.Time

	// MaxRetries defaults to DefaultMaxRetries when zero. Use a
	// negative value for no retries.
	MaxRetries int
}

// Task is one unit of work owned by the node that created it.
type Task struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Priority     int           `json:"priority,omitempty"`
	Requirements Requirements  `json:"requirements"`
	Payload      codec.Payload `json:"payload"`
	Status       Status        `json:"status"`
	OwnerID      string        `json:"owner_id"`
	AssignedTo   string        `json:"assigned_to,omitempty"`

	// Attempt counts dispatches. Results carry it so that a late
	// result from an earlier assignment can be recognised.
	Attempt    int `json:"attempt"`
	Retries    int `json:"retries"`
	MaxRetries int `json:"max_retries"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	Result codec.Payload `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Clone creates a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.Requirements = t.Requirements.clone()
	c.Payload = t.Payload.Clone()
	c.Result = t.Result.Clone()
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Deadline != nil {
		v := *t.Deadline
		c.Deadline = &v
	}
	return c
}

// PastDeadline reports whether the task has a deadline before now.
func (t Task) PastDeadline(now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}

// RunningFor returns how long the current assignment has been held.
func (t Task) RunningFor(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return now.Sub(*t.StartedAt)
}

// Bool returns a pointer to v, for Requirements literals.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v, for Requirements literals.
func Float(v float64) *float64 { return &v }
