// Package tasks holds swarm task records, their lifecycle and the
// allocation rules that match tasks to agents.
//
// # Lifecycle
//
// A task is created pending by the node that owns it. Allocation moves
// it to assigned, the assignee reports in_progress, and it ends
// completed, failed or cancelled:
//
//	pending -> assigned -> in_progress -> completed
//	   ^           |            |
//	   +-----------+------------+  failure with retries left,
//	                               or assignee went offline
//
// A failure while Retries < MaxRetries increments Retries and returns the
// task to pending; otherwise the task ends failed. Losing the assignee
// requeues without charging a retry.
//
// # Allocation
//
// Eligible filters agents on liveness, exclusivity, capabilities, type,
// battery and proximity. Score ranks the survivors:
//
//	100 + 50 if idle + 0.5 × battery − 0.1 × distance to the anchor
//
// Select returns the highest score; ties go to the agent seen first.
// Priority is recorded but not consulted.
package tasks
