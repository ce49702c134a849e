package coordinator

import (
	"fmt"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/clock"
	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/protocol"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// network connects nodes through an in-test broadcast medium. Nothing
// happens concurrently: messages, posted closures and spawned work are
// queued and run by flush on the test goroutine. Every message is
// encoded and decoded, as on a real bus.
type network struct {
	t     *testing.T
	clock *clock.FakeClock
	nodes map[string]*node
	order []string
	queue []func()

	// down nodes neither send nor receive.
	down map[string]bool

	// hold parks spawned work until release is called.
	hold bool
	held []func()

	sent []protocol.Message
}

func newNetwork(t *testing.T) *network {
	return &network{
		t:     t,
		clock: clock.Fake(t0),
		nodes: make(map[string]*node),
		down:  make(map[string]bool),
	}
}

// add creates a node. The config is used as given, so start from
// testConfig or DefaultConfig.
func (net *network) add(cfg Config, opts ...Option) *node {
	net.t.Helper()
	if err := cfg.Validate(); err != nil {
		net.t.Fatalf("invalid config for %s: %v", cfg.AgentID, err)
	}
	cfg = cfg.withDefaults()

	o := defaultOptions()
	o.clock = net.clock
	o.logger = logging.Discard()
	seq := 0
	o.newID = func() string {
		seq++
		return fmt.Sprintf("%s-%d", cfg.AgentID, seq)
	}
	for _, opt := range opts {
		opt(&o)
	}

	var n *node
	n = newNode(cfg, o, env{
		send: func(m protocol.Message) { net.publish(cfg.AgentID, m) },
		post: func(fn func()) {
			net.queue = append(net.queue, func() {
				fn()
				n.drain()
			})
		},
		spawn: func(fn func()) {
			if net.hold {
				net.held = append(net.held, fn)
				return
			}
			net.queue = append(net.queue, fn)
		},
	})
	net.nodes[cfg.AgentID] = n
	net.order = append(net.order, cfg.AgentID)
	return n
}

func (net *network) publish(from string, m protocol.Message) {
	if net.down[from] {
		return
	}
	protocol.Stamp(m, from, net.clock.Now())
	data, err := protocol.Encode(codec.JSON, m)
	if err != nil {
		net.t.Fatalf("encode %s: %v", m.MessageType(), err)
	}
	net.sent = append(net.sent, m)

	for _, id := range net.order {
		if net.down[id] {
			continue
		}
		target := net.nodes[id]
		net.queue = append(net.queue, func() {
			msg, err := protocol.Decode(codec.JSON, data)
			if err != nil {
				net.t.Fatalf("decode: %v", err)
			}
			target.receive(msg)
			target.drain()
		})
	}
}

// flush runs queued work until the network is quiet.
func (net *network) flush() {
	net.t.Helper()
	for steps := 0; len(net.queue) > 0; steps++ {
		if steps > 100000 {
			net.t.Fatal("network did not settle")
		}
		fn := net.queue[0]
		net.queue = net.queue[1:]
		fn()
	}
}

// run calls fn on n as an API entry point and settles the network.
func (net *network) run(n *node, fn func()) {
	net.t.Helper()
	fn()
	n.drain()
	net.flush()
}

// beat makes every live node broadcast a heartbeat.
func (net *network) beat() {
	net.t.Helper()
	for _, id := range net.order {
		if !net.down[id] {
			n := net.nodes[id]
			n.beat(net.clock.Now())
			n.drain()
		}
	}
	net.flush()
}

// maintain runs a maintenance pass on the given nodes.
func (net *network) maintain(nodes ...*node) {
	net.t.Helper()
	for _, n := range nodes {
		n.maintain()
		n.drain()
	}
	net.flush()
}

// advance moves the clock, letting due timers post their work.
func (net *network) advance(d time.Duration) {
	net.t.Helper()
	net.clock.Advance(d)
	net.flush()
}

// release runs parked spawned work.
func (net *network) release() {
	net.t.Helper()
	held := net.held
	net.held = nil
	net.queue = append(net.queue, held...)
	net.flush()
}

// count returns how many messages of type msgType were sent.
func (net *network) count(msgType string) int {
	n := 0
	for _, m := range net.sent {
		if m.MessageType() == msgType {
			n++
		}
	}
	return n
}

func testConfig(id string) Config {
	cfg := DefaultConfig(id)
	cfg.LeaderElectionEnabled = false
	return cfg
}
