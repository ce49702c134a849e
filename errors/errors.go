package errors

import (
	"encoding/json"
	"fmt"
)

// Error is a coordination error carrying a code, a category and the
// swarm entities involved.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	retryable  *bool // nil means derive from category
	metadata   map[string]string
	agentID    string
	taskID     string
	proposalID string
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the error category.
func (e *Error) Category() ErrorCategory { return e.category }

// Message returns the message without the cause.
func (e *Error) Message() string { return e.message }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// AgentID returns the agent involved, if any.
func (e *Error) AgentID() string { return e.agentID }

// TaskID returns the task involved, if any.
func (e *Error) TaskID() string { return e.taskID }

// ProposalID returns the proposal involved, if any.
func (e *Error) ProposalID() string { return e.proposalID }

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Fields flattens the error into logging fields.
func (e *Error) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"code":  string(e.code),
		"error": e.Error(),
	}
	if e.agentID != "" {
		f["agent"] = e.agentID
	}
	if e.taskID != "" {
		f["task"] = e.taskID
	}
	if e.proposalID != "" {
		f["proposal"] = e.proposalID
	}
	for k, v := range e.metadata {
		f[k] = v
	}
	return f
}

type errorJSON struct {
	Code       ErrorCode         `json:"code"`
	Category   ErrorCategory     `json:"category"`
	Message    string            `json:"message"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
	ProposalID string            `json:"proposal_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:       e.code,
		Category:   e.category,
		Message:    e.message,
		Retryable:  e.Retryable(),
		Metadata:   e.metadata,
		AgentID:    e.agentID,
		TaskID:     e.taskID,
		ProposalID: e.proposalID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler. The cause comes back as a
// plain error carrying the original text.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*e = Error{
		code:       j.Code,
		category:   j.Category,
		message:    j.Message,
		metadata:   j.Metadata,
		agentID:    j.AgentID,
		taskID:     j.TaskID,
		proposalID: j.ProposalID,
	}
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	return nil
}

// Option configures an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAgentID sets the agent involved.
func WithAgentID(id string) Option {
	return func(e *Error) { e.agentID = id }
}

// WithTaskID sets the task involved.
func WithTaskID(id string) Option {
	return func(e *Error) { e.taskID = id }
}

// WithProposalID sets the proposal involved.
func WithProposalID(id string) Option {
	return func(e *Error) { e.proposalID = id }
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an Error using the code's description as message.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Conflict creates a conflict error.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Timeout creates a timeout error.
func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// AgentOffline reports an agent that stopped sending heartbeats.
func AgentOffline(agentID string, opts ...Option) *Error {
	opts = append([]Option{WithAgentID(agentID)}, opts...)
	return New(ErrCodeAgentOffline, fmt.Sprintf("agent %s is offline", agentID), opts...)
}

// TaskFailed reports a failed task attempt.
func TaskFailed(taskID, reason string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID)}, opts...)
	return New(ErrCodeTaskFailed, fmt.Sprintf("task %s failed: %s", taskID, reason), opts...)
}

// NoCandidate reports a task that found no eligible agent.
func NoCandidate(taskID string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID)}, opts...)
	return New(ErrCodeNoCandidate, fmt.Sprintf("no eligible agent for task %s", taskID), opts...)
}

// Stale reports a message for a superseded attempt or state.
func Stale(message string, opts ...Option) *Error {
	return New(ErrCodeStale, message, opts...)
}
