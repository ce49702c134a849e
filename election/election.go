// Package election implements bully-style leader election.
//
// The Elector is a pure state machine: it decides, the coordinator
// publishes. Agent ids compare lexicographically and the greatest online
// id wins.
//
//	Start:      no greater online id -> promote self
//	            otherwise            -> challenge them, arm fallback timer
//	Response:   a greater node answered -> stand down, wait for its announcement
//	Timeout:    nobody answered         -> promote self
//	Announced:  adopt the announced leader, unless a greater live leader is known
//
// Each challenge gets a new epoch. A fallback timer carries the epoch it
// was armed for, so a timer left over from an abandoned challenge does
// nothing.
package election

// State is the elector's phase.
type State int

const (
	// StateIdle means no leader is known and no election is running.
	StateIdle State = iota
	// StateChallenging means a challenge is out and the fallback timer armed.
	StateChallenging
	// StateLeaderKnown means a leader has been adopted.
	StateLeaderKnown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallenging:
		return "challenging"
	case StateLeaderKnown:
		return "leader-known"
	default:
		return "unknown"
	}
}

// Outcome is what Start asks the caller to do.
type Outcome int

const (
	// None: an election is already in flight.
	None Outcome = iota
	// Promoted: self became leader; announce it.
	Promoted
	// Challenged: publish a challenge to the greater ids and arm the
	// fallback timer with the returned epoch.
	Challenged
)

// Elector tracks one node's view of leadership.
type Elector struct {
	self   string
	leader string
	state  State
	epoch  uint64
}

// New creates an elector for the node self.
func New(self string) *Elector {
	return &Elector{self: self}
}

// Self returns the local node id.
func (e *Elector) Self() string { return e.self }

// LeaderID returns the adopted leader, or "".
func (e *Elector) LeaderID() string { return e.leader }

// IsLeader reports whether this node is the adopted leader.
func (e *Elector) IsLeader() bool { return e.leader != "" && e.leader == e.self }

// InProgress reports whether a challenge is out.
func (e *Elector) InProgress() bool { return e.state == StateChallenging }

// State returns the current phase.
func (e *Elector) State() State { return e.state }

// Epoch returns the current challenge epoch.
func (e *Elector) Epoch() uint64 { return e.epoch }

// Start begins an election given the online ids greater than self.
// Starting while already challenging is a no-op.
func (e *Elector) Start(greater []string) (Outcome, uint64) {
	if e.state == StateChallenging {
		return None, e.epoch
	}
	e.epoch++
	if len(greater) == 0 {
		e.promote()
		return Promoted, e.epoch
	}
	e.leader = ""
	e.state = StateChallenging
	return Challenged, e.epoch
}

func (e *Elector) promote() {
	e.leader = e.self
	e.state = StateLeaderKnown
}

// Timeout handles the fallback timer for epoch. It promotes self and
// returns true only if that challenge is still unanswered.
func (e *Elector) Timeout(epoch uint64) bool {
	if e.state != StateChallenging || epoch != e.epoch {
		return false
	}
	e.epoch++
	e.promote()
	return true
}

// Response handles an answer to a challenge. A response to our own
// challenge makes us stand down without promoting; it returns true in
// that case.
func (e *Elector) Response(challenger string) bool {
	if challenger != e.self || e.state != StateChallenging {
		return false
	}
	e.epoch++
	e.state = StateIdle
	return true
}

// ShouldRespond reports whether a challenge from challenger must be
// answered, which is the case when self outranks it.
func (e *Elector) ShouldRespond(challenger string) bool {
	return challenger != "" && challenger < e.self
}

// Announced handles a leader announcement. online reports whether an id
// is currently online. adopted is true if leader is now the adopted
// leader. reassert is true when this node is the leader, outranks the
// announcer, and should announce itself again.
func (e *Elector) Announced(leader string, online func(string) bool) (adopted, reassert bool) {
	if leader == "" {
		return false, false
	}
	if e.leader != "" && e.leader != leader && e.leader > leader {
		if e.leader == e.self {
			return false, true
		}
		if online != nil && online(e.leader) {
			return false, false
		}
	}
	e.epoch++
	e.leader = leader
	e.state = StateLeaderKnown
	return true, false
}

// Lost clears the leader if it is id. It returns true if the leader was
// cleared and a new election is due.
func (e *Elector) Lost(id string) bool {
	if id == "" || e.leader != id {
		return false
	}
	e.leader = ""
	e.state = StateIdle
	return true
}

// Leaderless reports whether no leader is known and no challenge is
// out.
func (e *Elector) Leaderless() bool {
	return e.leader == "" && e.state != StateChallenging
}
