package coordinator

import (
	"context"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/tasks"
)

// maintain runs one maintenance pass.
func (n *node) maintain() {
	now := n.now()

	// Silent peers go offline and their tasks back to the queue.
	for _, id := range n.dir.Stale(now, n.cfg.AgentTimeout) {
		a, _ := n.dir.Get(id)
		if !n.dir.MarkOffline(id) {
			continue
		}
		n.log.AgentOffline(id, now.Sub(a.LastSeen))
		n.send(&protocol.AgentOffline{AgentID: id})
		n.agentLost(id, "")
	}

	// Attempts held too long fail.
	for _, id := range n.store.Owned(tasks.StatusAssigned, tasks.StatusInProgress) {
		t, _ := n.store.Get(id)
		if t.RunningFor(now) > n.cfg.TaskTimeout {
			n.recall(t)
			if _, err := n.finish(id, false, codec.Payload{}, "task timed out"); err != nil {
				n.log.Warn("timeout handling failed", errFields(err))
			}
		}
	}

	// Deadlines override retries.
	for _, id := range n.store.Owned(tasks.StatusPending, tasks.StatusAssigned, tasks.StatusInProgress) {
		if t, _ := n.store.Get(id); t.PastDeadline(now) {
			n.expire(id)
		}
	}

	n.enqueuePending()

	for _, id := range n.book.Overdue(now) {
		n.expireProposal(id)
	}

	if n.cfg.LeaderElectionEnabled && n.elector.Leaderless() {
		n.startElection("no leader")
	}

	if n.mirror != nil {
		snap, mirror := n.snapshot(), n.mirror
		n.env.spawn(func() {
			ctx, cancel := context.WithTimeout(n.ctx, mirrorTimeout)
			defer cancel()
			if err := mirror.Write(ctx, snap); err != nil {
				n.log.Warn("mirror write failed", map[string]interface{}{"error": err.Error()})
			}
		})
	}
}

// agentLost requeues the owned tasks id held, except keep, and starts
// an election if id was the leader.
func (n *node) agentLost(id, keep string) {
	for _, taskID := range n.store.HeldBy(id) {
		if taskID == keep {
			continue
		}
		if _, err := n.store.Requeue(taskID); err != nil {
			n.log.Warn("requeue failed", errFields(err))
			continue
		}
		n.log.Info("task_requeued", map[string]interface{}{"task": taskID, "agent": id})
		n.enqueue(taskID)
	}

	if n.elector.Lost(id) && n.cfg.LeaderElectionEnabled {
		n.startElection("leader offline")
	}
}
