// Package errors defines the structured errors returned and logged by
// swarm coordination.
//
// # Categories
//
//   - Transient: may succeed on retry (agent offline, timeout, no candidate)
//   - Permanent: retry will not help (unknown task, finalized proposal)
//   - Internal: bugs and recovered panics
//
// # Usage
//
//	err := errors.NotFound("task not found", errors.WithTaskID(id))
//
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // ...
//	}
//
// Errors carry the agent, task or proposal they concern and flatten
// into logging fields with Fields. They marshal to JSON for transport
// in result and log messages.
package errors
