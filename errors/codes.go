package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

const (
	// CategoryTransient failures may succeed on retry (lost agent,
	// timeout, node not running yet).
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent failures will not improve on retry (unknown
	// task, invalid input, finalized proposal).
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal marks bugs and recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Task or request exceeded its time budget
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // Node not running or bus closed
	ErrCodeAgentOffline ErrorCode = "AGENT_OFFLINE" // Agent missed its heartbeats
	ErrCodeAgentBusy    ErrorCode = "AGENT_BUSY"    // Agent holds an exclusive task
	ErrCodeNoCandidate  ErrorCode = "NO_CANDIDATE"  // No eligible agent for a task right now
	ErrCodeElection     ErrorCode = "ELECTION"      // Leader election could not settle

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Unknown task, proposal or agent
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Operation invalid in the current state
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed request or message
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Caller gave up
	ErrCodeTaskFailed   ErrorCode = "TASK_FAILED"   // Handler reported failure
	ErrCodeStale        ErrorCode = "STALE"         // Message refers to a superseded attempt
	ErrCodeConsensus    ErrorCode = "CONSENSUS"     // Proposal rejected or expired

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category used when none is given.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeAgentOffline, ErrCodeAgentBusy,
		ErrCodeNoCandidate, ErrCodeElection:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeCanceled,
		ErrCodeTaskFailed, ErrCodeStale, ErrCodeConsensus:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "coordinator unavailable",
	ErrCodeAgentOffline: "agent is offline",
	ErrCodeAgentBusy:    "agent is busy",
	ErrCodeNoCandidate:  "no eligible agent",
	ErrCodeElection:     "leader election failed",
	ErrCodeNotFound:     "not found",
	ErrCodeConflict:     "conflicting operation",
	ErrCodeInvalidInput: "invalid input",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeTaskFailed:   "task failed",
	ErrCodeStale:        "stale message",
	ErrCodeConsensus:    "proposal not accepted",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
