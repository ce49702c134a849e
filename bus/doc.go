// Package bus provides the transport swarm nodes use to reach each other.
//
// # Overview
//
// The MessageBus interface offers pub/sub, queue groups and request/reply.
// Delivery is at-most-once per subscriber with no ordering guarantee
// across publishers; the coordination layer above tolerates loss,
// duplication and reordering.
//
// # Available Implementations
//
//   - NATSBus: NATS client, for swarms spread over processes or hosts
//   - MemoryBus: in-process bus, for tests and single-binary simulations
//   - EmbeddedServer: an in-process NATS server for nodes without a broker
//
// # Subjects
//
// Subjects are dot-separated tokens. Subscriptions may use NATS
// wildcards on both implementations:
//
//	sub, _ := b.Subscribe("swarm.>")       // every swarm message
//	sub, _ := b.Subscribe("swarm.task.*")  // task events only
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// Publishing to a wildcard subject is rejected with ErrInvalidSubject.
//
// # Queue Groups
//
// Queue subscriptions spread messages across members; each message is
// delivered to exactly one member of the group:
//
//	sub, _ := b.QueueSubscribe("jobs.>", "workers")
package bus
