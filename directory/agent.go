package directory

import (
	"math"
	"time"
)

// Status represents an agent's operational state.
type Status string

const (
	StatusOnline   Status = "online"
	StatusBusy     Status = "busy"
	StatusIdle     Status = "idle"
	StatusOffline  Status = "offline"
	StatusError    Status = "error"
	StatusCharging Status = "charging"
)

// Online reports whether an agent in this status counts as present.
// Only offline and error agents are absent.
func (s Status) Online() bool {
	return s != StatusOffline && s != StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusIdle, StatusOffline, StatusError, StatusCharging:
		return true
	}
	return false
}

// Position is a point in an agent's reference frame.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Frame string  `json:"frame,omitempty"`
}

// DistanceTo returns the Euclidean distance between p and q. Frames are
// not converted.
func (p Position) DistanceTo(q Position) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Agent is one participant as seen by the local node.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Type         string    `json:"type,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Status       Status    `json:"status,omitempty"`
	Position     *Position `json:"position,omitempty"`
	Battery      *float64  `json:"battery,omitempty"` // percent, 0-100
	CurrentTask  string    `json:"current_task,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

// Online reports whether the agent counts as present.
func (a Agent) Online() bool {
	return a.Status.Online()
}

// HasCapability checks if the agent advertises a capability.
func (a Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasCapabilities checks that every listed capability is advertised.
func (a Agent) HasCapabilities(capabilities []string) bool {
	for _, c := range capabilities {
		if !a.HasCapability(c) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (a Agent) Clone() Agent {
	c := a
	if a.Capabilities != nil {
		c.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.Position != nil {
		p := *a.Position
		c.Position = &p
	}
	if a.Battery != nil {
		b := *a.Battery
		c.Battery = &b
	}
	return c
}

// merge copies the non-zero fields of src into a. Zero-valued fields
// never overwrite what is known.
func (a *Agent) merge(src Agent) {
	if src.Name != "" {
		a.Name = src.Name
	}
	if src.Type != "" {
		a.Type = src.Type
	}
	if len(src.Capabilities) > 0 {
		a.Capabilities = append([]string(nil), src.Capabilities...)
	}
	if src.Status != "" {
		a.Status = src.Status
	}
	if src.Position != nil {
		p := *src.Position
		a.Position = &p
	}
	if src.Battery != nil {
		b := *src.Battery
		a.Battery = &b
	}
	if src.CurrentTask != "" {
		a.CurrentTask = src.CurrentTask
	}
}

// Battery returns a pointer to level, for building Agent literals.
func Battery(level float64) *float64 {
	return &level
}

// Filter specifies criteria for listing agents. Zero fields match all.
type Filter struct {
	Status     Status
	Type       string
	Capability string
	OnlineOnly bool
}

// Matches checks if an agent satisfies the filter.
func (f Filter) Matches(a Agent) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Capability != "" && !a.HasCapability(f.Capability) {
		return false
	}
	if f.OnlineOnly && !a.Online() {
		return false
	}
	return true
}
