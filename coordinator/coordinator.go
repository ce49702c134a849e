package coordinator

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/clock"
	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/heartbeat"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/ratelimit"
	"github.com/vinayprograms/swarmkit/tasks"
)

// Lifecycle errors.
var (
	ErrNotRunning     = errors.New(errors.ErrCodeUnavailable, "coordinator not running")
	ErrAlreadyStarted = errors.New(errors.ErrCodeConflict, "coordinator already started")
)

const inboxSize = 256

// logResource names the rate-limited log rebroadcast.
const logResource = "log"

// Coordinator is one swarm member. All coordination state lives on a
// single goroutine; API calls, bus messages, ticks and timer callbacks
// are queued to it and run one at a time.
type Coordinator struct {
	cfg   Config
	bus   bus.MessageBus
	codec codec.Codec
	clock clock.Clock
	log   *logging.Logger
	node  *node
	hb    *heartbeat.Sender
	limit *ratelimit.Limiter

	mu      sync.Mutex
	started bool
	stopped bool
	running atomic.Bool
	sub     bus.Subscription
	cancel  context.CancelFunc

	inbox   chan func()
	stopCh  chan struct{}
	doneCh  chan struct{}
	workers sync.WaitGroup
}

// New creates a coordinator publishing on b. It does nothing until
// Start is called.
func New(cfg Config, b bus.MessageBus, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.InvalidInput("message bus required")
	}
	cfg = cfg.withDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		cfg:    cfg,
		bus:    b,
		codec:  o.codec,
		clock:  o.clock,
		log:    o.logger.WithComponent("coordinator"),
		limit:  ratelimit.New(o.clock),
		inbox:  make(chan func(), inboxSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	c.limit.SetCapacity(logResource, o.logRate, o.logWindow)
	c.node = newNode(cfg, o, env{send: c.send, post: c.post, spawn: c.spawn})

	hb, err := heartbeat.NewSender(heartbeat.Config{
		Interval: cfg.HeartbeatInterval,
		Clock:    o.clock,
		Beat: func(now time.Time) {
			c.post(func() { c.node.beat(now) })
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating heartbeat sender")
	}
	c.hb = hb
	return c, nil
}

// ID returns the local agent id.
func (c *Coordinator) ID() string {
	return c.cfg.AgentID
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Start subscribes to the swarm subjects and starts heartbeats and
// maintenance. The coordinator runs until Stop is called or ctx ends.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	sub, err := c.bus.Subscribe(protocol.Wildcard(c.cfg.SubjectPrefix))
	if err != nil {
		return errors.Wrap(err, "subscribing to swarm subjects")
	}
	c.started = true
	c.sub = sub

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.node.ctx = runCtx
	c.running.Store(true)

	ticker := c.clock.NewTicker(c.cfg.MaintenanceInterval)
	go c.loop(runCtx, sub.Messages(), ticker)

	c.log.SetHook(c.cfg.BroadcastLogLevel, c.broadcastLog)

	if err := c.hb.Start(runCtx); err != nil {
		return errors.Wrap(err, "starting heartbeat")
	}
	c.log.Info("coordinator started", map[string]interface{}{
		"agent": c.cfg.AgentID, "prefix": c.cfg.SubjectPrefix, "codec": c.codec.Name(),
	})
	return nil
}

// Stop halts heartbeats and the node loop, cancels running task
// handlers and waits for them to return or ctx to end. A stopped
// coordinator cannot be restarted.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.stopped = true
	c.mu.Unlock()

	if err := c.hb.Stop(); err != nil && !stderrors.Is(err, heartbeat.ErrNotStarted) {
		c.log.Warn("heartbeat stop failed", map[string]interface{}{"error": err.Error()})
	}
	c.log.SetHook(c.cfg.BroadcastLogLevel, nil)

	c.running.Store(false)
	close(c.stopCh)
	<-c.doneCh
	c.cancel()
	if err := c.sub.Unsubscribe(); err != nil {
		c.log.Debug("unsubscribe failed", map[string]interface{}{"error": err.Error()})
	}

	waited := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for task handlers")
	}

	c.log.Info("coordinator stopped", map[string]interface{}{"agent": c.cfg.AgentID})
	return nil
}

// Running reports whether the node loop is active.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Drain refuses new dispatches, advertises this agent as offline and
// waits until running task handlers have reported or ctx ends.
func (c *Coordinator) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	if err := c.do(ctx, func() { c.node.startDrain(idle) }); err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "draining task handlers")
	}
}

func (c *Coordinator) loop(ctx context.Context, msgs <-chan *bus.Message, ticker *clock.Ticker) {
	defer close(c.doneCh)
	defer ticker.Stop()
	defer c.node.stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			c.running.Store(false)
			return
		case fn := <-c.inbox:
			fn()
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			c.handle(msg)
		case <-ticker.C:
			c.node.maintain()
		}
		c.node.drain()
	}
}

func (c *Coordinator) handle(msg *bus.Message) {
	m, err := protocol.Decode(c.codec, msg.Data)
	if err != nil {
		c.log.Debug("undecodable message", map[string]interface{}{
			"subject": msg.Subject, "error": err.Error(),
		})
		return
	}
	c.node.receive(m)
}

// send is safe from any goroutine.
func (c *Coordinator) send(m protocol.Message) {
	protocol.Stamp(m, c.cfg.AgentID, c.clock.Now())
	data, err := protocol.Encode(c.codec, m)
	if err != nil {
		c.log.Error("encode failed", map[string]interface{}{"type": m.MessageType(), "error": err.Error()})
		return
	}
	if err := c.bus.Publish(protocol.Subject(c.cfg.SubjectPrefix, m.MessageType()), data); err != nil {
		c.log.Debug("publish failed", map[string]interface{}{"type": m.MessageType(), "error": err.Error()})
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.stopCh:
	case <-c.doneCh:
	}
}

func (c *Coordinator) spawn(fn func()) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn()
	}()
}

// broadcastLog republishes a log entry on the bus, within the log rate.
func (c *Coordinator) broadcastLog(e logging.Entry) {
	if !c.limit.TryAcquire(logResource) {
		return
	}
	fields := e.Fields
	if dropped := c.limit.TakeDenied(logResource); dropped > 0 {
		fields = make(map[string]interface{}, len(e.Fields)+1)
		for k, v := range e.Fields {
			fields[k] = v
		}
		fields["dropped"] = dropped
	}
	c.send(&protocol.Log{
		Level:     string(e.Level),
		Component: e.Component,
		Message:   e.Message,
		Fields:    fields,
	})
}

// do runs fn on the node goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case c.inbox <- wrapped:
	case <-c.stopCh:
		return ErrNotRunning
	case <-c.doneCh:
		return ErrNotRunning
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "queueing request")
	}

	select {
	case <-done:
		return nil
	case <-c.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for request")
	}
}

// --- Directory ---

// UpdateSelf merges the non-zero fields of u into the local agent and
// broadcasts the result at once.
func (c *Coordinator) UpdateSelf(ctx context.Context, u directory.Agent) (directory.Agent, error) {
	var self directory.Agent
	err := c.do(ctx, func() { self = c.node.updateSelf(u) })
	return self, err
}

// Agent returns the directory entry for id.
func (c *Coordinator) Agent(ctx context.Context, id string) (directory.Agent, error) {
	var (
		a  directory.Agent
		ok bool
	)
	if err := c.do(ctx, func() { a, ok = c.node.dir.Get(id) }); err != nil {
		return directory.Agent{}, err
	}
	if !ok {
		return directory.Agent{}, errors.NotFound("agent not found", errors.WithAgentID(id))
	}
	return a, nil
}

// Agents lists directory entries matching f, in the order first seen.
func (c *Coordinator) Agents(ctx context.Context, f directory.Filter) ([]directory.Agent, error) {
	var out []directory.Agent
	err := c.do(ctx, func() { out = c.node.dir.List(f) })
	return out, err
}

// --- Tasks ---

// CreateTask creates a task owned by this node and allocates it.
func (c *Coordinator) CreateTask(ctx context.Context, spec tasks.Spec) (tasks.Task, error) {
	var (
		t   tasks.Task
		err error
	)
	if doErr := c.do(ctx, func() { t, err = c.node.createTask(spec) }); doErr != nil {
		return tasks.Task{}, doErr
	}
	return t, err
}

// CompleteTask ends the current attempt of an owned task. A failure is
// retried while the task has retries left.
func (c *Coordinator) CompleteTask(ctx context.Context, id string, success bool, result codec.Payload) (tasks.Task, error) {
	var (
		t   tasks.Task
		err error
	)
	if doErr := c.do(ctx, func() { t, err = c.node.finish(id, success, result, "") }); doErr != nil {
		return tasks.Task{}, doErr
	}
	return t, err
}

// CancelTask cancels an owned task and tells its assignee to stop.
func (c *Coordinator) CancelTask(ctx context.Context, id string) (tasks.Task, error) {
	var (
		t   tasks.Task
		err error
	)
	if doErr := c.do(ctx, func() { t, err = c.node.cancelTask(id) }); doErr != nil {
		return tasks.Task{}, doErr
	}
	return t, err
}

// Task returns a task this node owns or has observed.
func (c *Coordinator) Task(ctx context.Context, id string) (tasks.Task, error) {
	var (
		t  tasks.Task
		ok bool
	)
	if err := c.do(ctx, func() { t, ok = c.node.store.Get(id) }); err != nil {
		return tasks.Task{}, err
	}
	if !ok {
		return tasks.Task{}, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	return t, nil
}

// Tasks returns every known task in creation order.
func (c *Coordinator) Tasks(ctx context.Context) ([]tasks.Task, error) {
	var out []tasks.Task
	err := c.do(ctx, func() { out = c.node.store.All() })
	return out, err
}

// --- Consensus ---

// Propose opens a proposal and casts this node's yes vote.
func (c *Coordinator) Propose(ctx context.Context, proposalType string, value codec.Payload) (consensus.Proposal, error) {
	var (
		p   consensus.Proposal
		err error
	)
	if doErr := c.do(ctx, func() { p, err = c.node.propose(proposalType, value) }); doErr != nil {
		return consensus.Proposal{}, doErr
	}
	return p, err
}

// Vote casts this node's vote on a proposal still voting.
func (c *Coordinator) Vote(ctx context.Context, id string, accept bool) (consensus.Proposal, error) {
	var (
		p   consensus.Proposal
		err error
	)
	if doErr := c.do(ctx, func() { p, err = c.node.vote(id, accept) }); doErr != nil {
		return consensus.Proposal{}, doErr
	}
	return p, err
}

// Proposal returns a known proposal.
func (c *Coordinator) Proposal(ctx context.Context, id string) (consensus.Proposal, error) {
	var (
		p  consensus.Proposal
		ok bool
	)
	if err := c.do(ctx, func() { p, ok = c.node.book.Get(id) }); err != nil {
		return consensus.Proposal{}, err
	}
	if !ok {
		return consensus.Proposal{}, errors.NotFound("proposal not found", errors.WithProposalID(id))
	}
	return p, nil
}

// Proposals returns every known proposal.
func (c *Coordinator) Proposals(ctx context.Context) ([]consensus.Proposal, error) {
	var out []consensus.Proposal
	err := c.do(ctx, func() { out = c.node.book.All() })
	return out, err
}

// --- Election ---

// TriggerElection starts an election now, whether or not automatic
// elections are enabled.
func (c *Coordinator) TriggerElection(ctx context.Context) error {
	return c.do(ctx, func() { c.node.startElection("requested") })
}

// Leadership returns this node's view of the leader.
func (c *Coordinator) Leadership(ctx context.Context) (Leadership, error) {
	var l Leadership
	err := c.do(ctx, func() { l = c.node.leadership() })
	return l, err
}
