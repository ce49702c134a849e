package coordinator

import (
	"context"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// propose opens a proposal and broadcasts it. The threshold is fixed
// from the online count now.
func (n *node) propose(proposalType string, value codec.Payload) (consensus.Proposal, error) {
	p, err := n.book.Open(consensus.Request{
		ID:       n.newID(),
		Type:     proposalType,
		Proposer: n.id(),
		Value:    value,
		Online:   n.dir.OnlineCount(),
		Timeout:  n.cfg.ConsensusTimeout,
	}, n.now())
	if err != nil {
		return consensus.Proposal{}, err
	}

	n.log.Info("proposal_opened", map[string]interface{}{
		"proposal": p.ID, "type": p.Type, "required": p.RequiredVotes, "electorate": p.Electorate,
	})
	n.send(protocol.NewProposalEvent(protocol.TypeProposal, p))

	if p.Status.IsFinal() {
		n.finalize(p)
	} else {
		n.armProposal(p)
	}
	return p, nil
}

// vote casts this node's vote.
func (n *node) vote(id string, accept bool) (consensus.Proposal, error) {
	p, ok := n.book.Get(id)
	if !ok {
		return consensus.Proposal{}, errors.NotFound("proposal not found", errors.WithProposalID(id))
	}
	if p.Status.IsFinal() {
		return p, errors.Conflict("proposal already "+p.Status.String(), errors.WithProposalID(id))
	}

	p, finalized, err := n.book.Vote(id, n.id(), accept)
	if err != nil {
		return consensus.Proposal{}, err
	}
	n.send(&protocol.Vote{ProposalID: id, VoterID: n.id(), Accept: accept})
	if finalized {
		n.finalize(p)
	}
	return p, nil
}

func (n *node) onVote(v *protocol.Vote, sender string) {
	voter := v.VoterID
	if voter == "" {
		voter = sender
	}
	p, finalized, err := n.book.Vote(v.ProposalID, voter, v.Accept)
	if err != nil {
		n.log.Debug("ignored vote", errFields(err))
		return
	}
	if finalized {
		n.finalize(p)
	}
}

// onProposalEvent tracks proposals opened by peers and adopts the
// outcomes their proposers announce.
func (n *node) onProposalEvent(e *protocol.ProposalEvent) {
	if e.Type != protocol.TypeProposal {
		if n.book.Settle(e.Proposal) {
			n.disarmProposal(e.Proposal.ID)
			n.recordOutcome(e.Proposal)
		}
		return
	}

	if !n.book.Track(e.Proposal) {
		return
	}
	p, _ := n.book.Get(e.Proposal.ID)
	if p.Status.IsFinal() {
		return
	}
	n.armProposal(p)

	if n.proposalHandler == nil {
		return
	}
	handler := n.proposalHandler
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.ConsensusTimeout)
	n.env.spawn(func() {
		defer cancel()
		accept := handler(ctx, p.Clone())
		n.env.post(func() {
			if _, err := n.vote(p.ID, accept); err != nil {
				n.log.Debug("automatic vote skipped", errFields(err))
			}
		})
	})
}

// armProposal expires p at its deadline unless decided earlier.
func (n *node) armProposal(p consensus.Proposal) {
	d := p.Deadline.Sub(n.now())
	if d < 0 {
		d = 0
	}
	id := p.ID
	n.proposalTimers[id] = n.clock.AfterFunc(d, func() {
		n.env.post(func() { n.expireProposal(id) })
	})
}

func (n *node) disarmProposal(id string) {
	if t, ok := n.proposalTimers[id]; ok {
		t.Stop()
		delete(n.proposalTimers, id)
	}
}

func (n *node) expireProposal(id string) {
	if p, ok := n.book.Expire(id, n.now()); ok {
		n.finalize(p)
	}
}

// finalize records a decided proposal. Only the proposer announces the
// outcome; peers reach the same result from the broadcast votes.
func (n *node) finalize(p consensus.Proposal) {
	n.disarmProposal(p.ID)
	n.recordOutcome(p)
	if p.Proposer == n.id() {
		n.send(protocol.NewProposalEvent(protocol.ProposalOutcome(p.Status), p))
	}
}

func (n *node) recordOutcome(p consensus.Proposal) {
	yes, no := p.Tally()
	n.log.ProposalFinalized(p.ID, p.Status.String(), yes, no, p.RequiredVotes)
	n.tracer.RecordConsensus(n.ctx, telemetry.ConsensusSpanOptions{
		ProposalID: p.ID,
		Type:       p.Type,
		Status:     p.Status.String(),
		Yes:        yes,
		No:         no,
		Required:   p.RequiredVotes,
	})
}
