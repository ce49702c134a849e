package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
)

const sampleTOML = `
codec = "cbor"
subject_prefix = "site.swarm"

[agent]
id = "bot1"
name = "Scout"
type = "rover"
capabilities = ["scan", "lidar"]
battery = 87.5

[agent.position]
x = 1.5
y = -2.0
frame = "map"

[timing]
heartbeat_interval = "500ms"
agent_timeout = "3s"
leader_election = false
max_retries = 5

[nats]
embedded = true
port = 4333

[state]
backend = "nats"
bucket = "field-state"

[log]
level = "debug"
broadcast_level = "error"
`

const sampleYAML = `
codec: cbor
subject_prefix: site.swarm
agent:
  id: bot1
  name: Scout
  type: rover
  capabilities: [scan, lidar]
  battery: 87.5
  position:
    x: 1.5
    y: -2.0
    frame: map
timing:
  heartbeat_interval: 500ms
  agent_timeout: 3s
  leader_election: false
  max_retries: 5
nats:
  embedded: true
  port: 4333
state:
  backend: nats
  bucket: field-state
log:
  level: debug
  broadcast_level: error
`

// --- Unit Tests ---

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Codec != "json" || cfg.State.Backend != StateMemory {
		t.Errorf("codec %q backend %q", cfg.Codec, cfg.State.Backend)
	}
	cc := cfg.Coordinator()
	if !cc.LeaderElectionEnabled {
		t.Error("elections should be on by default")
	}
}

func TestParse(t *testing.T) {
	for _, format := range []struct{ name, content string }{
		{"toml", sampleTOML},
		{"yaml", sampleYAML},
	} {
		t.Run(format.name, func(t *testing.T) {
			cfg, err := Parse(format.name, []byte(format.content))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			checkSample(t, cfg)
		})
	}
}

func checkSample(t *testing.T, cfg *Config) {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Agent.ID != "bot1" || cfg.Agent.Name != "Scout" || cfg.Agent.Type != "rover" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if len(cfg.Agent.Capabilities) != 2 || cfg.Agent.Capabilities[1] != "lidar" {
		t.Errorf("capabilities = %v", cfg.Agent.Capabilities)
	}
	if cfg.Agent.Battery == nil || *cfg.Agent.Battery != 87.5 {
		t.Errorf("battery = %v", cfg.Agent.Battery)
	}
	if p := cfg.Agent.Position; p == nil || p.X != 1.5 || p.Y != -2 || p.Frame != "map" {
		t.Errorf("position = %+v", p)
	}
	if cfg.Timing.HeartbeatInterval != 500*time.Millisecond || cfg.Timing.AgentTimeout != 3*time.Second {
		t.Errorf("timing = %+v", cfg.Timing)
	}
	// Unset values keep their defaults.
	if cfg.Timing.TaskTimeout != 30*time.Second {
		t.Errorf("TaskTimeout = %v, want default", cfg.Timing.TaskTimeout)
	}
	if !cfg.NATS.Embedded || cfg.NATS.Port != 4333 {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel = %s", cfg.LogLevel())
	}

	cc := cfg.Coordinator()
	if err := cc.Validate(); err != nil {
		t.Fatalf("coordinator config invalid: %v", err)
	}
	if cc.AgentID != "bot1" || cc.SubjectPrefix != "site.swarm" || cc.LeaderElectionEnabled {
		t.Errorf("coordinator config = %+v", cc)
	}
	if cc.DefaultMaxRetries != 5 || cc.BroadcastLogLevel != logging.LevelError {
		t.Errorf("retries %d broadcast %s", cc.DefaultMaxRetries, cc.BroadcastLogLevel)
	}
	if cc.Position == nil || cc.Position.X != 1.5 || cc.Battery == nil || *cc.Battery != 87.5 {
		t.Errorf("position %+v battery %v", cc.Position, cc.Battery)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAgentID, "bot9")
	t.Setenv(EnvNATSURL, "nats://hub:4222")
	t.Setenv(EnvCodec, "json")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvOTLPEndpoint, "collector:4317")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "bot9" {
		t.Errorf("agent id = %q, want env override", cfg.Agent.ID)
	}
	if cfg.NATS.URL != "nats://hub:4222" || cfg.NATS.Embedded {
		t.Errorf("nats = %+v; an explicit url replaces the embedded server", cfg.NATS)
	}
	if cfg.Codec != "json" || cfg.LogLevel() != logging.LevelWarn {
		t.Errorf("codec %q level %s", cfg.Codec, cfg.LogLevel())
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if p := cfg.Provider("1.0.0"); p.NodeID != "bot9" || p.Endpoint != "collector:4317" || p.ServiceName != "swarm-node" {
		t.Errorf("provider = %+v", p)
	}
}

func TestLoad_YAMLExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yml")
	content := "agent:\n  id: ${ROVER_ID}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROVER_ID", "rover-7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "rover-7" {
		t.Errorf("agent id = %q", cfg.Agent.ID)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}

	ini := filepath.Join(dir, "node.ini")
	if err := os.WriteFile(ini, []byte("id=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(ini); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("unsupported format error = %v", err)
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[agent\nid = "), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("malformed toml should fail")
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv(EnvAgentID, "solo")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "solo" || cfg.Codec != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"codec", func(c *Config) { c.Codec = "xml" }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"state backend", func(c *Config) { c.State.Backend = "redis" }},
		{"nats bucket", func(c *Config) { c.State.Backend = StateNATS; c.State.Bucket = "" }},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" }},
		{"sample ratio", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SampleRatio = 2 }},
		{"nats url", func(c *Config) { c.NATS.URL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("Validate() = %v, want invalid input", err)
			}
		})
	}
}
