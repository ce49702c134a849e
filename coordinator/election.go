package coordinator

import (
	"github.com/vinayprograms/swarmkit/election"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// startElection runs one bully round: promote self when no greater id
// is online, otherwise challenge the greater ids and wait
// ElectionTimeout for an answer. A node that is not online stays out.
func (n *node) startElection(reason string) {
	if !n.dir.Self().Online() {
		return
	}
	greater := n.dir.OnlineAbove(n.id())
	outcome, epoch := n.elector.Start(greater)

	switch outcome {
	case election.Promoted:
		n.announceLeader(reason)
	case election.Challenged:
		n.log.Info("election_challenge", map[string]interface{}{
			"reason": reason, "targets": len(greater),
		})
		n.tracer.RecordElection(n.ctx, telemetry.ElectionSpanOptions{
			NodeID: n.id(), Reason: reason, Outcome: "challenged", Targets: greater,
		})
		n.send(&protocol.ElectionChallenge{ChallengerID: n.id(), Targets: greater})

		n.electionTimer.Stop()
		n.electionTimer = n.clock.AfterFunc(n.cfg.ElectionTimeout, func() {
			n.env.post(func() {
				if n.elector.Timeout(epoch) {
					n.announceLeader("challenge unanswered")
				}
			})
		})
	}
}

func (n *node) announceLeader(reason string) {
	n.electionTimer.Stop()
	n.log.LeaderElected(n.id(), true)
	n.tracer.RecordElection(n.ctx, telemetry.ElectionSpanOptions{
		NodeID: n.id(), Reason: reason, Outcome: "promoted", LeaderID: n.id(),
	})
	n.send(&protocol.LeaderElected{LeaderID: n.id()})
}

// onChallenge answers a challenge from a lower id and takes over the
// election.
func (n *node) onChallenge(c *protocol.ElectionChallenge) {
	if !n.dir.Self().Online() || !n.elector.ShouldRespond(c.ChallengerID) {
		return
	}
	n.send(&protocol.ElectionResponse{ResponderID: n.id(), ChallengerID: c.ChallengerID})
	n.startElection("challenged by " + c.ChallengerID)
}

// onResponse stands down when a greater node answered our challenge.
func (n *node) onResponse(r *protocol.ElectionResponse) {
	if r.ChallengerID != n.id() {
		return
	}
	if n.elector.Response(n.id()) {
		n.electionTimer.Stop()
		n.log.Info("election_stand_down", map[string]interface{}{"responder": r.ResponderID})
	}
}

// onLeader handles an announcement. A leader that outranks the
// announcer answers with its own announcement.
func (n *node) onLeader(leader string) {
	adopted, reassert := n.elector.Announced(leader, n.dir.IsOnline)
	switch {
	case adopted:
		n.electionTimer.Stop()
		n.log.LeaderElected(leader, leader == n.id())
		n.tracer.RecordElection(n.ctx, telemetry.ElectionSpanOptions{
			NodeID: n.id(), Outcome: "adopted", LeaderID: leader,
		})
	case reassert:
		n.log.Info("leader_reasserted", map[string]interface{}{"lower": leader})
		n.send(&protocol.LeaderElected{LeaderID: n.id()})
	}
}
