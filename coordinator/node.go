package coordinator

import (
	"context"
	"time"

	"github.com/vinayprograms/swarmkit/clock"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/dedupe"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/election"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/state"
	"github.com/vinayprograms/swarmkit/tasks"
	"github.com/vinayprograms/swarmkit/telemetry"
)

const (
	dedupeSize    = 4096
	mirrorTimeout = 5 * time.Second
)

// env connects a node to the outside world.
type env struct {
	// send stamps, encodes and publishes m. Safe from any goroutine.
	send func(m protocol.Message)

	// post runs fn on the node's goroutine.
	post func(fn func())

	// spawn runs fn off the node's goroutine.
	spawn func(fn func())
}

// execution is a task handler running on this node.
type execution struct {
	taskID    string
	ownerID   string
	attempt   int
	cancel    context.CancelFunc
	cancelled bool
}

// node is the coordination engine of one swarm member. It is not safe
// for concurrent use: every method runs on the goroutine that owns it,
// and work from elsewhere reaches it through env.post.
type node struct {
	cfg    Config
	ctx    context.Context
	clock  clock.Clock
	log    *logging.Logger
	tracer *telemetry.Tracer
	env    env
	newID  func() string

	taskHandler     TaskHandler
	proposalHandler ProposalHandler
	mirror          *state.Mirror

	dir     *directory.Directory
	store   *tasks.Store
	book    *consensus.Book
	elector *election.Elector
	seen    *dedupe.Cache

	// queue holds owned task ids awaiting allocation, drained after
	// every entry point.
	queue  []string
	queued map[string]bool

	running  map[string]*execution
	draining bool
	idle     []chan struct{}

	proposalTimers map[string]*clock.Timer
	electionTimer  *clock.Timer
}

func newNode(cfg Config, o options, e env) *node {
	now := o.clock.Now()
	tracer := o.tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	return &node{
		cfg:             cfg,
		ctx:             context.Background(),
		clock:           o.clock,
		log:             o.logger.WithComponent("swarm"),
		tracer:          tracer,
		env:             e,
		newID:           o.newID,
		taskHandler:     o.taskHandler,
		proposalHandler: o.proposalHandler,
		mirror:          o.mirror,
		dir:             directory.New(cfg.self(), now),
		store:           tasks.NewStore(cfg.AgentID),
		book:            consensus.NewBook(),
		elector:         election.New(cfg.AgentID),
		seen:            dedupe.New(2*cfg.TaskTimeout, dedupeSize, o.clock),
		queued:          make(map[string]bool),
		running:         make(map[string]*execution),
		proposalTimers:  make(map[string]*clock.Timer),
	}
}

func (n *node) id() string {
	return n.cfg.AgentID
}

func (n *node) now() time.Time {
	return n.clock.Now()
}

func (n *node) send(m protocol.Message) {
	n.env.send(m)
}

// enqueue schedules an owned task for allocation.
func (n *node) enqueue(taskID string) {
	if n.queued[taskID] {
		return
	}
	n.queued[taskID] = true
	n.queue = append(n.queue, taskID)
}

// drain allocates queued tasks until the queue is empty. Allocation may
// enqueue further work, e.g. when a task dispatched to self fails at
// once and is retried.
func (n *node) drain() {
	for len(n.queue) > 0 {
		id := n.queue[0]
		n.queue = n.queue[1:]
		delete(n.queued, id)
		n.allocate(id)
	}
}

// beat refreshes the self entry and broadcasts it.
func (n *node) beat(now time.Time) {
	self := n.dir.UpdateSelf(directory.Agent{}, now)
	n.send(&protocol.Heartbeat{Agent: self})
}

// updateSelf merges u into the self entry and broadcasts the result at
// once.
// A node that stops being online steps down as leader.
func (n *node) updateSelf(u directory.Agent) directory.Agent {
	self := n.dir.UpdateSelf(u, n.now())
	if !self.Online() && n.elector.Lost(n.id()) {
		n.electionTimer.Stop()
		n.log.Info("leader stepping down", map[string]interface{}{"status": string(self.Status)})
	}
	n.send(&protocol.Heartbeat{Agent: self})
	return self
}

// receive handles one decoded bus message. Messages sent by this node
// have already been applied locally and are dropped.
func (n *node) receive(m protocol.Message) {
	h := protocol.HeaderOf(m)
	if h.SenderID == n.id() {
		return
	}

	switch msg := m.(type) {
	case *protocol.Heartbeat:
		n.onHeartbeat(msg.Agent)
	case *protocol.AgentJoined:
		if _, known := n.dir.Get(msg.Agent.ID); !known {
			n.onHeartbeat(msg.Agent)
		}
	case *protocol.AgentOffline:
		n.log.Debug("peer reported agent offline", map[string]interface{}{
			"agent": msg.AgentID, "reporter": h.SenderID,
		})
	case *protocol.TaskEvent:
		n.onTaskEvent(msg)
	case *protocol.TaskDispatch:
		if msg.TargetID == n.id() {
			n.execute(msg)
		}
	case *protocol.TaskResult:
		if msg.OwnerID == n.id() {
			n.applyResult(msg)
		}
	case *protocol.TaskCancel:
		if msg.TargetID == n.id() {
			n.abort(msg)
		}
	case *protocol.ProposalEvent:
		n.onProposalEvent(msg)
	case *protocol.Vote:
		n.onVote(msg, h.SenderID)
	case *protocol.ElectionChallenge:
		n.onChallenge(msg)
	case *protocol.ElectionResponse:
		n.onResponse(msg)
	case *protocol.LeaderElected:
		n.onLeader(msg.LeaderID)
	case *protocol.Log:
		// Rebroadcast logs are for external observers.
	}
}

// onHeartbeat ingests a peer snapshot.
func (n *node) onHeartbeat(a directory.Agent) {
	prev, _ := n.dir.Get(a.ID)
	joined, accepted := n.dir.Observe(a, n.now())
	if !accepted {
		return
	}

	cur, _ := n.dir.Get(a.ID)
	if joined {
		n.log.AgentJoined(cur.ID, cur.Type)
		n.send(&protocol.AgentJoined{Agent: cur})
		n.enqueuePending()
		return
	}

	switch {
	case prev.Online() && !cur.Online():
		n.log.Warn("agent unavailable", map[string]interface{}{"agent": a.ID, "status": string(cur.Status)})
		// An agent leaving gracefully finishes the task it reports.
		keep := ""
		if cur.Status == directory.StatusOffline {
			keep = a.CurrentTask
		}
		n.agentLost(a.ID, keep)
	case !prev.Online() && cur.Online():
		n.log.Info("agent back online", map[string]interface{}{"agent": a.ID})
		n.enqueuePending()
	}
	n.holdBusy(cur)
}

// holdBusy keeps an agent busy in the local view while it holds an
// owned attempt. Snapshots sent before a dispatch arrived may report it
// idle.
func (n *node) holdBusy(a directory.Agent) {
	if !a.Online() || (a.Status == directory.StatusBusy && a.CurrentTask != "") {
		return
	}
	if held := n.store.HeldBy(a.ID); len(held) > 0 {
		n.dir.Assign(a.ID, held[0])
	}
}

func (n *node) enqueuePending() {
	for _, id := range n.store.Owned(tasks.StatusPending) {
		n.enqueue(id)
	}
}

// leadership reports the elector's view.
func (n *node) leadership() Leadership {
	return Leadership{
		LeaderID:   n.elector.LeaderID(),
		IsLeader:   n.elector.IsLeader(),
		InProgress: n.elector.InProgress(),
		State:      n.elector.State(),
	}
}

// Leadership is a node's view of the current leader.
type Leadership struct {
	LeaderID   string
	IsLeader   bool
	InProgress bool
	State      election.State
}

// snapshot collects the state written to the mirror.
func (n *node) snapshot() state.Snapshot {
	snap := state.Snapshot{Agents: n.dir.All()}
	for _, id := range n.store.Owned() {
		if t, ok := n.store.Get(id); ok {
			snap.Tasks = append(snap.Tasks, t)
		}
	}
	return snap
}

// stop releases timers. Running handlers are cancelled through ctx.
func (n *node) stop() {
	for id, t := range n.proposalTimers {
		t.Stop()
		delete(n.proposalTimers, id)
	}
	n.electionTimer.Stop()
	n.electionTimer = nil
}

func errFields(err error) map[string]interface{} {
	if se := errors.As(err); se != nil {
		return se.Fields()
	}
	return map[string]interface{}{"error": err.Error()}
}
