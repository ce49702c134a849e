// Package directory keeps a node's view of the agents in the swarm.
//
// The view is eventually consistent: each node builds it from the
// heartbeats it receives. Entries are merged additively, refreshed with
// the local receive time, and never deleted; an agent that stops
// beating is flipped to offline.
//
// A Directory is not safe for concurrent use. The coordinator owns it
// from a single goroutine.
package directory

import (
	"time"
)

// Directory is the per-node agent table. Agents are kept in the order
// they were first seen, which is also the allocator's tie-break order.
type Directory struct {
	selfID string
	agents map[string]*Agent
	order  []string
}

// New creates a directory holding the local agent.
func New(self Agent, now time.Time) *Directory {
	d := &Directory{
		selfID: self.ID,
		agents: make(map[string]*Agent),
	}
	entry := self.Clone()
	if entry.Status == "" {
		entry.Status = StatusIdle
	}
	entry.LastSeen = now
	d.insert(&entry)
	return d
}

func (d *Directory) insert(a *Agent) {
	d.agents[a.ID] = a
	d.order = append(d.order, a.ID)
}

// SelfID returns the local agent's id.
func (d *Directory) SelfID() string {
	return d.selfID
}

// Self returns a copy of the local agent.
func (d *Directory) Self() Agent {
	return d.agents[d.selfID].Clone()
}

// UpdateSelf merges the non-zero fields of u into the local agent and
// refreshes its LastSeen. u.ID is ignored.
func (d *Directory) UpdateSelf(u Agent, now time.Time) Agent {
	self := d.agents[d.selfID]
	self.merge(u)
	self.LastSeen = now
	return self.Clone()
}

// Observe ingests a peer snapshot received at now. Unknown agents are
// added and reported as joined. Snapshots of the local agent and
// snapshots without an id are ignored (accepted is false).
func (d *Directory) Observe(a Agent, now time.Time) (joined, accepted bool) {
	if a.ID == "" || a.ID == d.selfID {
		return false, false
	}

	if existing, ok := d.agents[a.ID]; ok {
		// An agent reporting a status other than busy, and no task, has
		// finished whatever it held.
		if a.CurrentTask == "" && a.Status != "" && a.Status != StatusBusy {
			existing.CurrentTask = ""
		}
		existing.merge(a)
		existing.LastSeen = now
		return false, true
	}

	entry := Agent{ID: a.ID}
	entry.merge(a)
	if entry.Status == "" {
		entry.Status = StatusOnline
	}
	entry.LastSeen = now
	d.insert(&entry)
	return true, true
}

// Get returns a copy of the agent with the given id.
func (d *Directory) Get(id string) (Agent, bool) {
	a, ok := d.agents[id]
	if !ok {
		return Agent{}, false
	}
	return a.Clone(), true
}

// All returns every known agent in insertion order.
func (d *Directory) All() []Agent {
	return d.List(Filter{})
}

// List returns agents matching the filter in insertion order.
func (d *Directory) List(f Filter) []Agent {
	out := make([]Agent, 0, len(d.order))
	for _, id := range d.order {
		a := d.agents[id]
		if f.Matches(*a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Online returns agents that are neither offline nor in error.
func (d *Directory) Online() []Agent {
	return d.List(Filter{OnlineOnly: true})
}

// OnlineCount returns the number of online agents, the local one included.
func (d *Directory) OnlineCount() int {
	n := 0
	for _, a := range d.agents {
		if a.Online() {
			n++
		}
	}
	return n
}

// Idle returns agents whose status is idle.
func (d *Directory) Idle() []Agent {
	return d.List(Filter{Status: StatusIdle})
}

// WithCapability returns agents advertising the capability, any status.
func (d *Directory) WithCapability(capability string) []Agent {
	return d.List(Filter{Capability: capability})
}

// OnlineAbove returns the ids of online agents whose id sorts after id.
func (d *Directory) OnlineAbove(id string) []string {
	var out []string
	for _, aid := range d.order {
		a := d.agents[aid]
		if a.Online() && aid > id {
			out = append(out, aid)
		}
	}
	return out
}

// IsOnline reports whether id is known and online.
func (d *Directory) IsOnline(id string) bool {
	a, ok := d.agents[id]
	return ok && a.Online()
}

// Stale returns non-local agents that are not yet offline and have been
// silent for longer than timeout.
func (d *Directory) Stale(now time.Time, timeout time.Duration) []string {
	var out []string
	for _, id := range d.order {
		a := d.agents[id]
		if id == d.selfID || a.Status == StatusOffline {
			continue
		}
		if now.Sub(a.LastSeen) > timeout {
			out = append(out, id)
		}
	}
	return out
}

// MarkOffline flips an agent to offline and clears its current task.
// Returns false if the agent is unknown or already offline.
func (d *Directory) MarkOffline(id string) bool {
	a, ok := d.agents[id]
	if !ok || a.Status == StatusOffline {
		return false
	}
	a.Status = StatusOffline
	a.CurrentTask = ""
	return true
}

// Assign marks an agent busy with taskID.
func (d *Directory) Assign(agentID, taskID string) bool {
	a, ok := d.agents[agentID]
	if !ok {
		return false
	}
	a.Status = StatusBusy
	a.CurrentTask = taskID
	return true
}

// Release frees an agent still holding taskID, returning it to idle.
// Agents that moved on, or went offline, are left alone.
func (d *Directory) Release(agentID, taskID string) bool {
	a, ok := d.agents[agentID]
	if !ok || a.CurrentTask != taskID || taskID == "" {
		return false
	}
	a.CurrentTask = ""
	if a.Status.Online() {
		a.Status = StatusIdle
	}
	return true
}

// Holders returns the ids of agents whose current task is taskID.
func (d *Directory) Holders(taskID string) []string {
	var out []string
	for _, id := range d.order {
		if d.agents[id].CurrentTask == taskID {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of known agents.
func (d *Directory) Len() int {
	return len(d.order)
}
