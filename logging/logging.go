// Package logging provides leveled console logging for swarm nodes.
// Lines have the form: LEVEL TIMESTAMP [component] message key=value ...
// A hook can forward entries elsewhere, e.g. onto the swarm bus.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a case-insensitive name to a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if l == "WARNING" {
		l = LevelWarn
	}
	if _, ok := levelPriority[l]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return levelPriority[l] >= levelPriority[min]
}

// Entry is one log record as seen by a hook.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
	Fields    map[string]interface{}
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level

	hookMu    sync.RWMutex
	hook      func(Entry)
	hookLevel Level
	inHook    atomic.Bool
}

// Logger writes leveled lines to an output. Loggers derived with
// WithComponent share output, level and hook with their parent.
type Logger struct {
	sink      *sink
	component string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Discard returns a Logger that writes nothing.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a logger tagged with the given component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// SetLevel sets the minimum level written to the output.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// SetHook registers fn to receive entries at or above level, whatever
// the output level. Entries logged from inside fn are not forwarded
// again. A nil fn removes the hook.
func (l *Logger) SetHook(level Level, fn func(Entry)) {
	l.sink.hookMu.Lock()
	l.sink.hook = fn
	l.sink.hookLevel = level
	l.sink.hookMu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	now := time.Now().UTC()

	l.write(level, now, msg, f)
	l.forward(Entry{Time: now, Level: level, Component: l.component, Message: msg, Fields: f})
}

func (l *Logger) write(level Level, now time.Time, msg string, fields map[string]interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if !level.AtLeast(s.minLevel) {
		return
	}

	timestamp := now.Format("2006-01-02T15:04:05.000Z")
	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, formatFields(fields))
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, formatFields(fields))
	}
	s.output.Write([]byte(line))
}

func (l *Logger) forward(e Entry) {
	s := l.sink
	s.hookMu.RLock()
	hook, min := s.hook, s.hookLevel
	s.hookMu.RUnlock()

	if hook == nil || !e.Level.AtLeast(min) {
		return
	}
	if s.inHook.Swap(true) {
		return
	}
	defer s.inHook.Store(false)
	hook(e)
}

// --- Swarm event helpers ---

// AgentJoined logs a newly discovered agent.
func (l *Logger) AgentJoined(id, agentType string) {
	l.Info("agent_joined", map[string]interface{}{
		"agent": id,
		"type":  agentType,
	})
}

// AgentOffline logs an agent that missed its heartbeats.
func (l *Logger) AgentOffline(id string, silence time.Duration) {
	l.Warn("agent_offline", map[string]interface{}{
		"agent":   id,
		"silence": silence.String(),
	})
}

// TaskAssigned logs an allocation decision.
func (l *Logger) TaskAssigned(taskID, agentID string, score float64, attempt int) {
	l.Info("task_assigned", map[string]interface{}{
		"task":    taskID,
		"agent":   agentID,
		"score":   fmt.Sprintf("%.1f", score),
		"attempt": attempt,
	})
}

// TaskFinished logs a task reaching a terminal state or being retried.
func (l *Logger) TaskFinished(taskID, status string, retries int, reason string) {
	fields := map[string]interface{}{
		"task":    taskID,
		"status":  status,
		"retries": retries,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	if status == "failed" {
		l.Warn("task_finished", fields)
		return
	}
	l.Info("task_finished", fields)
}

// ProposalFinalized logs the outcome of a vote.
func (l *Logger) ProposalFinalized(id, status string, yes, no, required int) {
	l.Info("proposal_finalized", map[string]interface{}{
		"proposal": id,
		"status":   status,
		"yes":      yes,
		"no":       no,
		"required": required,
	})
}

// LeaderElected logs a leadership change.
func (l *Logger) LeaderElected(leaderID string, self bool) {
	l.Info("leader_elected", map[string]interface{}{
		"leader": leaderID,
		"self":   self,
	})
}
