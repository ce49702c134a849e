// Package config loads swarm node configuration from TOML or YAML files
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/coordinator"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// Environment variables that override file settings.
const (
	EnvAgentID      = "SWARM_AGENT_ID"
	EnvNATSURL      = "SWARM_NATS_URL"
	EnvCodec        = "SWARM_CODEC"
	EnvLogLevel     = "SWARM_LOG_LEVEL"
	EnvOTLPEndpoint = "SWARM_OTLP_ENDPOINT"
)

// State backends.
const (
	StateNone   = "none"
	StateMemory = "memory"
	StateNATS   = "nats"
)

// Config is the configuration of one swarm node process.
type Config struct {
	Agent     AgentConfig     `toml:"agent" yaml:"agent"`
	Timing    TimingConfig    `toml:"timing" yaml:"timing"`
	NATS      NATSConfig      `toml:"nats" yaml:"nats"`
	State     StateConfig     `toml:"state" yaml:"state"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `toml:"log" yaml:"log"`

	// Codec is "json" or "cbor". Every member must use the same one.
	Codec string `toml:"codec" yaml:"codec"`

	// SubjectPrefix for every bus subject.
	SubjectPrefix string `toml:"subject_prefix" yaml:"subject_prefix"`
}

// AgentConfig describes the local agent.
type AgentConfig struct {
	// ID is generated when empty.
	ID           string          `toml:"id" yaml:"id"`
	Name         string          `toml:"name" yaml:"name"`
	Type         string          `toml:"type" yaml:"type"`
	Capabilities []string        `toml:"capabilities" yaml:"capabilities"`
	Position     *PositionConfig `toml:"position" yaml:"position"`
	Battery      *float64        `toml:"battery" yaml:"battery"`
}

// PositionConfig is the agent's starting position.
type PositionConfig struct {
	X     float64 `toml:"x" yaml:"x"`
	Y     float64 `toml:"y" yaml:"y"`
	Z     float64 `toml:"z" yaml:"z"`
	Frame string  `toml:"frame" yaml:"frame"`
}

// TimingConfig holds protocol timings. Durations are written as "1s",
// "500ms" and so on.
type TimingConfig struct {
	HeartbeatInterval   time.Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	AgentTimeout        time.Duration `toml:"agent_timeout" yaml:"agent_timeout"`
	TaskTimeout         time.Duration `toml:"task_timeout" yaml:"task_timeout"`
	ConsensusTimeout    time.Duration `toml:"consensus_timeout" yaml:"consensus_timeout"`
	ElectionTimeout     time.Duration `toml:"election_timeout" yaml:"election_timeout"`
	MaintenanceInterval time.Duration `toml:"maintenance_interval" yaml:"maintenance_interval"`

	// LeaderElection enables automatic elections. Default: true
	LeaderElection *bool `toml:"leader_election" yaml:"leader_election"`

	// MaxRetries for tasks created without their own. Negative means
	// none.
	MaxRetries int `toml:"max_retries" yaml:"max_retries"`
}

// NATSConfig selects the message bus.
type NATSConfig struct {
	// URL of an existing server. Ignored when Embedded is set.
	URL string `toml:"url" yaml:"url"`

	// Embedded runs an in-process server instead.
	Embedded bool `toml:"embedded" yaml:"embedded"`

	// Port of the embedded server. -1 picks a free one.
	Port int `toml:"port" yaml:"port"`

	// StoreDir holds embedded JetStream data.
	StoreDir string `toml:"store_dir" yaml:"store_dir"`
}

// StateConfig selects where the node mirrors its view.
type StateConfig struct {
	// Backend is "none", "memory" or "nats".
	Backend string `toml:"backend" yaml:"backend"`

	// Bucket is the JetStream KV bucket for the nats backend.
	Bucket string `toml:"bucket" yaml:"bucket"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `toml:"enabled" yaml:"enabled"`
	Endpoint    string            `toml:"endpoint" yaml:"endpoint"`
	Protocol    string            `toml:"protocol" yaml:"protocol"`
	Insecure    bool              `toml:"insecure" yaml:"insecure"`
	ServiceName string            `toml:"service_name" yaml:"service_name"`
	Debug       bool              `toml:"debug" yaml:"debug"`
	Headers     map[string]string `toml:"headers" yaml:"headers"`
	SampleRatio float64           `toml:"sample_ratio" yaml:"sample_ratio"`
}

// LogConfig configures local logging and bus rebroadcast.
type LogConfig struct {
	Level          string `toml:"level" yaml:"level"`
	BroadcastLevel string `toml:"broadcast_level" yaml:"broadcast_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	election := true
	return &Config{
		Timing: TimingConfig{
			HeartbeatInterval:   coordinator.DefaultHeartbeatInterval,
			AgentTimeout:        coordinator.DefaultAgentTimeout,
			TaskTimeout:         coordinator.DefaultTaskTimeout,
			ConsensusTimeout:    coordinator.DefaultConsensusTimeout,
			ElectionTimeout:     coordinator.DefaultElectionTimeout,
			MaintenanceInterval: 2 * coordinator.DefaultHeartbeatInterval,
			LeaderElection:      &election,
		},
		NATS: NATSConfig{
			URL:  "nats://127.0.0.1:4222",
			Port: -1,
		},
		State: StateConfig{
			Backend: StateMemory,
			Bucket:  "swarm-state",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "swarm-node",
		},
		Log: LogConfig{
			Level:          string(logging.LevelInfo),
			BroadcastLevel: string(logging.LevelWarn),
		},
		Codec:         "json",
		SubjectPrefix: "swarm",
	}
}

// Load reads path over the defaults and applies environment overrides.
// The format follows the extension: .toml, .yaml or .yml. An empty path
// loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes content in the named format ("toml" or "yaml") over the
// defaults, without environment overrides.
func Parse(format string, content []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode("config."+format, content); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("unsupported config format %q", filepath.Ext(path)))
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAgentID); v != "" {
		c.Agent.ID = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
		c.NATS.Embedded = false
	}
	if v := os.Getenv(EnvCodec); v != "" {
		c.Codec = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// Validate checks settings that the coordinator does not check itself.
// The agent id may still be empty here.
func (c *Config) Validate() error {
	if _, err := codec.ByName(c.Codec); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid codec")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid log level")
	}
	switch c.State.Backend {
	case StateNone, StateMemory, "":
	case StateNATS:
		if c.State.Bucket == "" {
			return errors.InvalidInput("state bucket required for the nats backend")
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown state backend %q", c.State.Backend))
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http", "":
		default:
			return errors.InvalidInput(fmt.Sprintf("unknown telemetry protocol %q", c.Telemetry.Protocol))
		}
		if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
			return errors.InvalidInput(fmt.Sprintf("telemetry sample ratio %v outside [0, 1]", r))
		}
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return errors.InvalidInput("nats url required unless embedded")
	}
	return nil
}

// LogLevel returns the parsed local log level, INFO if unparseable.
func (c *Config) LogLevel() logging.Level {
	l, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return l
}

// Coordinator converts the node settings into a coordinator.Config.
func (c *Config) Coordinator() coordinator.Config {
	cfg := coordinator.DefaultConfig(c.Agent.ID)
	cfg.Name = c.Agent.Name
	cfg.Type = c.Agent.Type
	cfg.Capabilities = append([]string(nil), c.Agent.Capabilities...)
	if p := c.Agent.Position; p != nil {
		cfg.Position = &directory.Position{X: p.X, Y: p.Y, Z: p.Z, Frame: p.Frame}
	}
	if c.Agent.Battery != nil {
		cfg.Battery = directory.Battery(*c.Agent.Battery)
	}

	t := c.Timing
	cfg.HeartbeatInterval = t.HeartbeatInterval
	cfg.AgentTimeout = t.AgentTimeout
	cfg.TaskTimeout = t.TaskTimeout
	cfg.ConsensusTimeout = t.ConsensusTimeout
	cfg.ElectionTimeout = t.ElectionTimeout
	cfg.MaintenanceInterval = t.MaintenanceInterval
	if t.LeaderElection != nil {
		cfg.LeaderElectionEnabled = *t.LeaderElection
	}
	if t.MaxRetries != 0 {
		cfg.DefaultMaxRetries = t.MaxRetries
	}

	if c.SubjectPrefix != "" {
		cfg.SubjectPrefix = c.SubjectPrefix
	}
	if l, err := logging.ParseLevel(c.Log.BroadcastLevel); err == nil {
		cfg.BroadcastLogLevel = l
	}
	return cfg
}

// Provider converts the telemetry settings for telemetry.InitProvider.
func (c *Config) Provider(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    c.Telemetry.ServiceName,
		NodeID:         c.Agent.ID,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
		Debug:          c.Telemetry.Debug,
		Headers:        c.Telemetry.Headers,
		SampleRatio:    c.Telemetry.SampleRatio,
	}
}

// String renders the configuration as TOML, for --print-config.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "# " + strconv.Quote(err.Error())
	}
	return b.String()
}
