package protocol

import (
	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/tasks"
)

// Message types. Each is also the subject suffix.
const (
	TypeHeartbeat    = "heartbeat"
	TypeAgentJoined  = "agent.joined"
	TypeAgentOffline = "agent.offline"

	TypeTaskCreated   = "task.created"
	TypeTaskAssigned  = "task.assigned"
	TypeTaskDispatch  = "task.dispatch"
	TypeTaskStarted   = "task.started"
	TypeTaskResult    = "task.result"
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
	TypeTaskCancelled = "task.cancelled"
	TypeTaskCancel    = "task.cancel"

	TypeProposal         = "consensus.propose"
	TypeVote             = "consensus.vote"
	TypeProposalAccepted = "consensus.accepted"
	TypeProposalRejected = "consensus.rejected"
	TypeProposalExpired  = "consensus.expired"

	TypeElectionChallenge = "election.challenge"
	TypeElectionResponse  = "election.response"
	TypeLeaderElected     = "election.leader"

	TypeLog = "log"
)

var (
	factories = map[string]func(string) Message{}
	typeOrder []string
)

func register(msgType string, f func(string) Message) {
	factories[msgType] = f
	typeOrder = append(typeOrder, msgType)
}

func init() {
	register(TypeHeartbeat, func(string) Message { return &Heartbeat{} })
	register(TypeAgentJoined, func(string) Message { return &AgentJoined{} })
	register(TypeAgentOffline, func(string) Message { return &AgentOffline{} })

	for _, t := range []string{TypeTaskCreated, TypeTaskAssigned, TypeTaskStarted,
		TypeTaskCompleted, TypeTaskFailed, TypeTaskCancelled} {
		register(t, func(t string) Message { return &TaskEvent{Header: Header{Type: t}} })
	}
	register(TypeTaskDispatch, func(string) Message { return &TaskDispatch{} })
	register(TypeTaskResult, func(string) Message { return &TaskResult{} })
	register(TypeTaskCancel, func(string) Message { return &TaskCancel{} })

	for _, t := range []string{TypeProposal, TypeProposalAccepted, TypeProposalRejected, TypeProposalExpired} {
		register(t, func(t string) Message { return &ProposalEvent{Header: Header{Type: t}} })
	}
	register(TypeVote, func(string) Message { return &Vote{} })

	register(TypeElectionChallenge, func(string) Message { return &ElectionChallenge{} })
	register(TypeElectionResponse, func(string) Message { return &ElectionResponse{} })
	register(TypeLeaderElected, func(string) Message { return &LeaderElected{} })

	register(TypeLog, func(string) Message { return &Log{} })
}

// Heartbeat carries the sender's self entry.
type Heartbeat struct {
	Header
	Agent directory.Agent `json:"agent"`
}

func (*Heartbeat) MessageType() string { return TypeHeartbeat }

// AgentJoined announces an agent seen for the first time.
type AgentJoined struct {
	Header
	Agent directory.Agent `json:"agent"`
}

func (*AgentJoined) MessageType() string { return TypeAgentJoined }

// AgentOffline announces an agent that stopped sending heartbeats.
type AgentOffline struct {
	Header
	AgentID string `json:"agent_id"`
}

func (*AgentOffline) MessageType() string { return TypeAgentOffline }

// TaskEvent reports a task lifecycle change. The header type tells which
// one: created, assigned, started, completed, failed or cancelled.
type TaskEvent struct {
	Header
	Task tasks.Task `json:"task"`
}

// NewTaskEvent creates a task event of the given type.
func NewTaskEvent(msgType string, t tasks.Task) *TaskEvent {
	return &TaskEvent{Header: Header{Type: msgType}, Task: t}
}

func (e *TaskEvent) MessageType() string { return e.Type }

// TaskDispatch instructs TargetID to run a task for its owner.
type TaskDispatch struct {
	Header
	Task     tasks.Task `json:"task"`
	TargetID string     `json:"target_id"`
	OwnerID  string     `json:"owner_id"`
	Attempt  int        `json:"attempt"`

	// Trace carries the owner's trace context.
	Trace map[string]string `json:"trace,omitempty"`
}

func (*TaskDispatch) MessageType() string { return TypeTaskDispatch }

// TaskResult is an executor's report back to the task owner.
type TaskResult struct {
	Header
	TaskID  string        `json:"task_id"`
	OwnerID string        `json:"owner_id"`
	AgentID string        `json:"agent_id"`
	Attempt int           `json:"attempt"`
	Success bool          `json:"success"`
	Result  codec.Payload `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func (*TaskResult) MessageType() string { return TypeTaskResult }

// TaskCancel tells TargetID to stop working on a task.
type TaskCancel struct {
	Header
	TaskID   string `json:"task_id"`
	TargetID string `json:"target_id"`
	OwnerID  string `json:"owner_id"`
}

func (*TaskCancel) MessageType() string { return TypeTaskCancel }

// ProposalEvent carries a proposal when it is opened and when it is
// decided. The header type tells which.
type ProposalEvent struct {
	Header
	Proposal consensus.Proposal `json:"proposal"`
}

// NewProposalEvent creates a proposal event of the given type.
func NewProposalEvent(msgType string, p consensus.Proposal) *ProposalEvent {
	return &ProposalEvent{Header: Header{Type: msgType}, Proposal: p}
}

// ProposalOutcome returns the announcement type for a decided status.
func ProposalOutcome(s consensus.Status) string {
	switch s {
	case consensus.StatusAccepted:
		return TypeProposalAccepted
	case consensus.StatusRejected:
		return TypeProposalRejected
	case consensus.StatusExpired:
		return TypeProposalExpired
	default:
		return ""
	}
}

func (e *ProposalEvent) MessageType() string { return e.Type }

// Vote is one agent's vote on a proposal.
type Vote struct {
	Header
	ProposalID string `json:"proposal_id"`
	VoterID    string `json:"voter_id"`
	Accept     bool   `json:"accept"`
}

func (*Vote) MessageType() string { return TypeVote }

// ElectionChallenge asks the listed greater ids whether any is alive.
type ElectionChallenge struct {
	Header
	ChallengerID string   `json:"challenger_id"`
	Targets      []string `json:"targets"`
}

func (*ElectionChallenge) MessageType() string { return TypeElectionChallenge }

// ElectionResponse tells a challenger that a greater node is alive.
type ElectionResponse struct {
	Header
	ResponderID  string `json:"responder_id"`
	ChallengerID string `json:"challenger_id"`
}

func (*ElectionResponse) MessageType() string { return TypeElectionResponse }

// LeaderElected announces the sender's view of the leader.
type LeaderElected struct {
	Header
	LeaderID string `json:"leader_id"`
}

func (*LeaderElected) MessageType() string { return TypeLeaderElected }

// Log rebroadcasts a node's log entry.
type Log struct {
	Header
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (*Log) MessageType() string { return TypeLog }
