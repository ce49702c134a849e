package consensus

import (
	"time"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/errors"
)

// Request describes a new proposal.
type Request struct {
	ID       string
	Type     string
	Proposer string
	Value    codec.Payload

	// Online is the number of online agents, proposer included.
	Online int

	Timeout time.Duration
}

// Book holds the proposals a node has opened or heard about.
//
// A Book is not safe for concurrent use.
type Book struct {
	proposals map[string]*Proposal
	order     []string
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{proposals: make(map[string]*Proposal)}
}

// Open starts a proposal. The proposer's yes vote is recorded at once,
// so a lone agent accepts its own proposal immediately.
func (b *Book) Open(req Request, now time.Time) (Proposal, error) {
	if req.ID == "" {
		return Proposal{}, errors.InvalidInput("proposal id required")
	}
	if req.Proposer == "" {
		return Proposal{}, errors.InvalidInput("proposer required", errors.WithProposalID(req.ID))
	}
	if _, exists := b.proposals[req.ID]; exists {
		return Proposal{}, errors.Conflict("proposal already exists", errors.WithProposalID(req.ID))
	}

	online := req.Online
	if online < 1 {
		online = 1
	}

	p := &Proposal{
		ID:            req.ID,
		Type:          req.Type,
		Proposer:      req.Proposer,
		Value:         req.Value.Clone(),
		Votes:         map[string]bool{req.Proposer: true},
		RequiredVotes: RequiredVotes(online),
		Electorate:    online,
		CreatedAt:     now,
		Deadline:      now.Add(req.Timeout),
		Status:        StatusVoting,
	}
	p.evaluate()
	b.insert(p)
	return p.Clone(), nil
}

func (b *Book) insert(p *Proposal) {
	b.proposals[p.ID] = p
	b.order = append(b.order, p.ID)
}

// Track stores a copy of a proposal opened by a peer. Proposals already
// known are left untouched; it returns false for them.
func (b *Book) Track(p Proposal) bool {
	if p.ID == "" {
		return false
	}
	if _, exists := b.proposals[p.ID]; exists {
		return false
	}
	c := p.Clone()
	if c.Status == "" {
		c.Status = StatusVoting
	}
	b.insert(&c)
	return true
}

// Vote records voter's vote. finalized is true when this vote decided
// the proposal. Votes on a decided proposal are ignored and return the
// proposal unchanged.
func (b *Book) Vote(id, voter string, accept bool) (p Proposal, finalized bool, err error) {
	prop, ok := b.proposals[id]
	if !ok {
		return Proposal{}, false, errors.NotFound("proposal not found", errors.WithProposalID(id))
	}
	if voter == "" {
		return Proposal{}, false, errors.InvalidInput("voter required", errors.WithProposalID(id))
	}
	if prop.Status.IsFinal() {
		return prop.Clone(), false, nil
	}

	prop.Votes[voter] = accept
	finalized = prop.evaluate()
	return prop.Clone(), finalized, nil
}

// Settle adopts an outcome announced by a peer. Unknown proposals are
// stored as announced. It returns true if the local copy changed from
// voting to the announced outcome.
func (b *Book) Settle(announced Proposal) bool {
	if !announced.Status.IsFinal() {
		return false
	}
	prop, ok := b.proposals[announced.ID]
	if !ok {
		return b.Track(announced)
	}
	if prop.Status.IsFinal() {
		return false
	}
	*prop = announced.Clone()
	return true
}

// Expire ends a proposal still voting once its deadline has been
// reached. It returns false if the proposal is unknown, already decided
// or not yet due.
func (b *Book) Expire(id string, now time.Time) (Proposal, bool) {
	prop, ok := b.proposals[id]
	if !ok || prop.Status != StatusVoting || now.Before(prop.Deadline) {
		return Proposal{}, false
	}
	prop.Status = StatusExpired
	return prop.Clone(), true
}

// Overdue returns the ids of voting proposals whose deadline has been
// reached, in the order they were opened.
func (b *Book) Overdue(now time.Time) []string {
	var out []string
	for _, id := range b.order {
		p := b.proposals[id]
		if p.Status == StatusVoting && !now.Before(p.Deadline) {
			out = append(out, id)
		}
	}
	return out
}

// Get returns a copy of a proposal.
func (b *Book) Get(id string) (Proposal, bool) {
	p, ok := b.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	return p.Clone(), true
}

// All returns every proposal in the order it was first seen.
func (b *Book) All() []Proposal {
	out := make([]Proposal, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.proposals[id].Clone())
	}
	return out
}

// Len returns the number of known proposals.
func (b *Book) Len() int {
	return len(b.order)
}
