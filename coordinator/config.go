package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/tasks"
)

// Default timings.
const (
	DefaultHeartbeatInterval = time.Second
	DefaultAgentTimeout      = 5 * time.Second
	DefaultTaskTimeout       = 30 * time.Second
	DefaultConsensusTimeout  = 10 * time.Second
	DefaultElectionTimeout   = 3 * time.Second
)

// Config configures one swarm node. Start from DefaultConfig; the zero
// value disables leader election.
type Config struct {
	// AgentID identifies this node. Required.
	AgentID string

	// Self description advertised in heartbeats.
	Name         string
	Type         string
	Capabilities []string
	Position     *directory.Position
	Battery      *float64

	// HeartbeatInterval between self broadcasts.
	// Default: 1s
	HeartbeatInterval time.Duration

	// AgentTimeout is the silence after which a peer is marked offline.
	// Default: 5s
	AgentTimeout time.Duration

	// TaskTimeout bounds one task attempt, both at the owner and in the
	// executing handler.
	// Default: 30s
	TaskTimeout time.Duration

	// ConsensusTimeout is how long a proposal stays open.
	// Default: 10s
	ConsensusTimeout time.Duration

	// ElectionTimeout is how long a challenger waits for a response
	// before promoting itself.
	// Default: 3s
	ElectionTimeout time.Duration

	// MaintenanceInterval between maintenance passes.
	// Default: 2 x HeartbeatInterval
	MaintenanceInterval time.Duration

	// LeaderElectionEnabled lets the node start elections on its own
	// when no leader is known or the leader went offline.
	LeaderElectionEnabled bool

	// SubjectPrefix for every bus subject.
	// Default: "swarm"
	SubjectPrefix string

	// DefaultMaxRetries applies to tasks created without MaxRetries.
	// Negative means no retries.
	// Default: 3
	DefaultMaxRetries int

	// BroadcastLogLevel is the level from which log entries are also
	// published on the bus.
	// Default: WARN
	BroadcastLogLevel logging.Level
}

// DefaultConfig returns a configuration for agentID with every default
// applied and leader election enabled.
func DefaultConfig(agentID string) Config {
	return Config{
		AgentID:               agentID,
		HeartbeatInterval:     DefaultHeartbeatInterval,
		AgentTimeout:          DefaultAgentTimeout,
		TaskTimeout:           DefaultTaskTimeout,
		ConsensusTimeout:      DefaultConsensusTimeout,
		ElectionTimeout:       DefaultElectionTimeout,
		MaintenanceInterval:   2 * DefaultHeartbeatInterval,
		LeaderElectionEnabled: true,
		SubjectPrefix:         protocol.DefaultPrefix,
		DefaultMaxRetries:     tasks.DefaultMaxRetries,
		BroadcastLogLevel:     logging.LevelWarn,
	}
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = DefaultAgentTimeout
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.ConsensusTimeout <= 0 {
		c.ConsensusTimeout = DefaultConsensusTimeout
	}
	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = DefaultElectionTimeout
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 2 * c.HeartbeatInterval
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = protocol.DefaultPrefix
	}
	if c.DefaultMaxRetries == 0 {
		c.DefaultMaxRetries = tasks.DefaultMaxRetries
	}
	if c.BroadcastLogLevel == "" {
		c.BroadcastLogLevel = logging.LevelWarn
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.AgentID == "" {
		return errors.InvalidInput("agent id required")
	}
	if strings.ContainsAny(c.AgentID, " \t\r\n.*>") {
		return errors.InvalidInput(fmt.Sprintf("agent id %q contains reserved characters", c.AgentID),
			errors.WithAgentID(c.AgentID))
	}
	if c.AgentTimeout <= c.HeartbeatInterval {
		return errors.InvalidInput("agent timeout must exceed heartbeat interval",
			errors.WithMetadata("agent_timeout", c.AgentTimeout.String()),
			errors.WithMetadata("heartbeat_interval", c.HeartbeatInterval.String()))
	}
	if err := bus.ValidatePublishSubject(protocol.Subject(c.SubjectPrefix, protocol.TypeHeartbeat)); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid subject prefix")
	}
	if _, err := logging.ParseLevel(string(c.BroadcastLogLevel)); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid broadcast log level")
	}
	if c.Battery != nil && (*c.Battery < 0 || *c.Battery > 100) {
		return errors.InvalidInput("battery must be within 0-100")
	}
	return nil
}

// self builds the local directory entry.
func (c Config) self() directory.Agent {
	a := directory.Agent{
		ID:           c.AgentID,
		Name:         c.Name,
		Type:         c.Type,
		Capabilities: append([]string(nil), c.Capabilities...),
		Status:       directory.StatusIdle,
	}
	if c.Position != nil {
		p := *c.Position
		a.Position = &p
	}
	if c.Battery != nil {
		b := *c.Battery
		a.Battery = &b
	}
	return a
}
