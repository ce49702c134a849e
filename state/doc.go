// Package state provides the key-value stores a swarm node mirrors its
// view into.
//
// A node's directory and the tasks it owns live in memory and are never
// read back on start. Operators who want to inspect a running swarm can
// give the coordinator a Mirror, which writes each agent and owned task
// as JSON under "agents.<id>" and "tasks.<id>" on every maintenance
// pass.
//
// # Backends
//
//   - NATSStore: NATS JetStream KV, shared by every node on the cluster
//   - MemoryStore: in-process, for tests and single-node runs
//
// # Usage
//
//	nb, _ := bus.NewNATSBus(bus.NATSConfig{URL: "nats://localhost:4222"})
//	kv, _ := state.NewNATSStore(state.NATSStoreConfig{
//	    Conn:   nb.Conn(),
//	    Bucket: "swarm-state",
//	    TTL:    10 * time.Second,
//	})
//	mirror := state.NewMirror(kv, 10*time.Second)
//
//	agents, _ := mirror.Agents(ctx)
//	for _, a := range agents {
//	    fmt.Println(a.ID, a.Status)
//	}
package state
