package coordinator

import (
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty id", func(c *Config) { c.AgentID = "" }, true},
		{"id with dot", func(c *Config) { c.AgentID = "bot.1" }, true},
		{"id with space", func(c *Config) { c.AgentID = "bot 1" }, true},
		{"id with wildcard", func(c *Config) { c.AgentID = "bot*" }, true},
		{"timeout not above interval", func(c *Config) {
			c.HeartbeatInterval = 2 * time.Second
			c.AgentTimeout = 2 * time.Second
		}, true},
		{"bad prefix", func(c *Config) { c.SubjectPrefix = "swarm.>" }, true},
		{"nested prefix", func(c *Config) { c.SubjectPrefix = "site.swarm" }, false},
		{"bad log level", func(c *Config) { c.BroadcastLogLevel = "LOUD" }, true},
		{"battery over 100", func(c *Config) { c.Battery = directory.Battery(101) }, true},
		{"battery in range", func(c *Config) { c.Battery = directory.Battery(55) }, false},
		{"zero timings use defaults", func(c *Config) {
			c.HeartbeatInterval, c.AgentTimeout, c.TaskTimeout = 0, 0, 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("bot1")
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("code = %s, want INVALID_INPUT", errors.Code(err))
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{AgentID: "bot1", HeartbeatInterval: 500 * time.Millisecond}.withDefaults()

	if cfg.MaintenanceInterval != time.Second {
		t.Errorf("MaintenanceInterval = %v, want twice the heartbeat", cfg.MaintenanceInterval)
	}
	if cfg.AgentTimeout != DefaultAgentTimeout || cfg.TaskTimeout != DefaultTaskTimeout {
		t.Errorf("timeouts = %v/%v", cfg.AgentTimeout, cfg.TaskTimeout)
	}
	if cfg.SubjectPrefix != "swarm" || cfg.BroadcastLogLevel != logging.LevelWarn {
		t.Errorf("prefix %q level %q", cfg.SubjectPrefix, cfg.BroadcastLogLevel)
	}
	if cfg.LeaderElectionEnabled {
		t.Error("zero config must not enable elections")
	}
}

func TestConfig_Self(t *testing.T) {
	cfg := DefaultConfig("bot1")
	cfg.Name = "Scout"
	cfg.Capabilities = []string{"scan"}
	cfg.Position = &directory.Position{X: 1, Y: 2}
	cfg.Battery = directory.Battery(80)

	a := cfg.self()
	if a.ID != "bot1" || a.Status != directory.StatusIdle || !a.HasCapability("scan") {
		t.Errorf("self = %+v", a)
	}

	// The entry owns its copies.
	cfg.Capabilities[0] = "fly"
	cfg.Position.X = 9
	if a.HasCapability("fly") || a.Position.X != 1 {
		t.Error("self entry shares memory with the config")
	}
}
