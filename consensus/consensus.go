// Package consensus tallies majority votes on swarm proposals.
//
// A proposal fixes its electorate when it is opened: the number of
// online agents at that moment, and a required yes count of
// floor(online/2)+1. Later joins and departures do not move the
// threshold. A proposal is accepted once yes votes reach the threshold,
// rejected once enough no votes make that impossible, and expired when
// its deadline passes first. Votes arriving after any of these are
// ignored.
package consensus

import (
	"time"

	"github.com/vinayprograms/swarmkit/codec"
)

// Status is the voting state of a proposal.
type Status string

const (
	StatusVoting   Status = "voting"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) String() string {
	return string(s)
}

// IsFinal reports whether voting has ended.
func (s Status) IsFinal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// RequiredVotes returns the strict majority of online agents.
func RequiredVotes(online int) int {
	if online < 1 {
		online = 1
	}
	return online/2 + 1
}

// Proposal is a value put to a swarm-wide vote.
type Proposal struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Proposer string        `json:"proposer"`
	Value    codec.Payload `json:"value"`

	// Votes maps voter id to its latest vote.
	Votes map[string]bool `json:"votes"`

	RequiredVotes int `json:"required_votes"`
	Electorate    int `json:"electorate"`

	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
	Status    Status    `json:"status"`
}

// Tally counts the recorded yes and no votes.
func (p Proposal) Tally() (yes, no int) {
	for _, v := range p.Votes {
		if v {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}

// Clone creates a deep copy of the proposal.
func (p Proposal) Clone() Proposal {
	c := p
	c.Value = p.Value.Clone()
	c.Votes = make(map[string]bool, len(p.Votes))
	for k, v := range p.Votes {
		c.Votes[k] = v
	}
	return c
}

// evaluate moves a voting proposal to accepted or rejected when the
// tally decides it. It returns true on a transition.
func (p *Proposal) evaluate() bool {
	if p.Status != StatusVoting {
		return false
	}
	yes, no := p.Tally()
	switch {
	case yes >= p.RequiredVotes:
		p.Status = StatusAccepted
	case no > p.Electorate-p.RequiredVotes:
		p.Status = StatusRejected
	default:
		return false
	}
	return true
}
