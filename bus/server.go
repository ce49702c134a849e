package bus

import (
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/vinayprograms/swarmkit/logging"
)

// ServerConfig configures an embedded NATS server.
type ServerConfig struct {
	// Host to listen on. Default: 127.0.0.1
	Host string

	// Port to listen on. -1 picks a random free port.
	Port int

	// JetStream enables the key-value mirror support.
	JetStream bool

	// StoreDir holds JetStream data. Required with JetStream; a
	// temporary directory is created when empty.
	StoreDir string

	// ReadyTimeout bounds the wait for the server to accept clients.
	// Default: 5 seconds
	ReadyTimeout time.Duration
}

// EmbeddedServer is a NATS server running inside the process. Swarm
// nodes started without an external broker use it as their bus.
type EmbeddedServer struct {
	server  *natsserver.Server
	tempDir string
}

// StartEmbeddedServer starts a NATS server and waits until it is ready.
func StartEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	es := &EmbeddedServer{}
	if cfg.JetStream && cfg.StoreDir == "" {
		dir, err := os.MkdirTemp("", "swarm-nats-*")
		if err != nil {
			return nil, fmt.Errorf("create nats store dir: %w", err)
		}
		cfg.StoreDir = dir
		es.tempDir = dir
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: cfg.JetStream,
		StoreDir:  cfg.StoreDir,
	})
	if err != nil {
		es.cleanup()
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		es.cleanup()
		return nil, fmt.Errorf("nats server not ready after %s", cfg.ReadyTimeout)
	}

	es.server = ns
	return es, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Connect opens a NATSBus against the embedded server. A nil logger
// discards connection events.
func (s *EmbeddedServer) Connect(name string, logger *logging.Logger) (*NATSBus, error) {
	cfg := DefaultNATSConfig()
	cfg.URL = s.ClientURL()
	cfg.Name = name
	cfg.Logger = logger
	return NewNATSBus(cfg)
}

// Shutdown stops the server and removes temporary storage.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
	s.cleanup()
}

func (s *EmbeddedServer) cleanup() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}
