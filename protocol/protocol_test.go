package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/tasks"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSubjects(t *testing.T) {
	if got := Subject("", TypeHeartbeat); got != "swarm.heartbeat" {
		t.Errorf("Subject = %q", got)
	}
	if got := Subject("fleet", TypeTaskDispatch); got != "fleet.task.dispatch" {
		t.Errorf("Subject = %q", got)
	}

	pattern := Wildcard("fleet")
	if err := bus.ValidateSubject(pattern); err != nil {
		t.Fatalf("Wildcard not a valid pattern: %v", err)
	}
	for _, typ := range Types() {
		if !bus.MatchSubject(pattern, Subject("fleet", typ)) {
			t.Errorf("%s not matched by %s", typ, pattern)
		}
		if err := bus.ValidatePublishSubject(Subject("fleet", typ)); err != nil {
			t.Errorf("%s: %v", typ, err)
		}
	}
	if bus.MatchSubject(pattern, Subject("other", TypeHeartbeat)) {
		t.Error("pattern leaked across prefixes")
	}
}

func TestTypesRegistered(t *testing.T) {
	if len(Types()) != 21 {
		t.Errorf("registered %d types, want 21", len(Types()))
	}
	for _, typ := range Types() {
		m := factories[typ](typ)
		if m.MessageType() != typ {
			t.Errorf("factory for %s builds %s", typ, m.MessageType())
		}
	}
}

func TestEncodeDecode_Dispatch(t *testing.T) {
	deadline := t0.Add(time.Hour)
	task := tasks.Task{
		ID:      "t-1",
		Type:    "scan",
		Status:  tasks.StatusAssigned,
		OwnerID: "a",
		Requirements: tasks.Requirements{
			Capabilities: []string{"scan"},
			Near:         &directory.Position{X: 1, Y: 2},
			MaxDistance:  tasks.Float(5),
		},
		Payload:  codec.MustPayload("area", "north"),
		Attempt:  2,
		Deadline: &deadline,
	}

	for _, c := range []codec.Codec{codec.JSON, codec.CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			msg := &TaskDispatch{Task: task, TargetID: "b", OwnerID: "a", Attempt: 2}
			Stamp(msg, "a", t0)

			data, err := Encode(c, msg)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			decoded, err := Decode(c, data)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}

			got, ok := decoded.(*TaskDispatch)
			if !ok {
				t.Fatalf("decoded %T", decoded)
			}
			h := HeaderOf(got)
			if h.Type != TypeTaskDispatch || h.Sender() != "a" || !h.Timestamp.Equal(t0) {
				t.Errorf("header = %+v", h)
			}
			if got.TargetID != "b" || got.Attempt != 2 || got.Task.ID != "t-1" {
				t.Errorf("body = %+v", got)
			}
			if got.Task.Requirements.Near == nil || got.Task.Requirements.Near.Y != 2 {
				t.Error("requirements lost")
			}
			if string(got.Task.Payload.Data) != `"north"` {
				t.Errorf("payload = %q", got.Task.Payload.Data)
			}
			if got.Task.Deadline == nil || !got.Task.Deadline.Equal(deadline) {
				t.Error("deadline lost")
			}
		})
	}
}

func TestEncodeDecode_SharedBodies(t *testing.T) {
	prop := consensus.Proposal{
		ID:            "p-1",
		Proposer:      "a",
		Votes:         map[string]bool{"a": true},
		RequiredVotes: 2,
		Electorate:    3,
		Status:        consensus.StatusAccepted,
	}
	msgs := []Message{
		NewTaskEvent(TypeTaskCompleted, tasks.Task{ID: "t-1", Status: tasks.StatusCompleted}),
		NewProposalEvent(ProposalOutcome(prop.Status), prop),
	}

	for _, c := range []codec.Codec{codec.JSON, codec.CBOR} {
		for _, m := range msgs {
			Stamp(m, "a", t0)
			data, err := Encode(c, m)
			if err != nil {
				t.Fatalf("%s/%s: Encode error: %v", c.Name(), m.MessageType(), err)
			}
			decoded, err := Decode(c, data)
			if err != nil {
				t.Fatalf("%s/%s: Decode error: %v", c.Name(), m.MessageType(), err)
			}
			if decoded.MessageType() != m.MessageType() {
				t.Errorf("%s: type %s, want %s", c.Name(), decoded.MessageType(), m.MessageType())
			}
		}
	}

	decoded, _ := Decode(codec.JSON, mustEncode(t, msgs[1]))
	pe := decoded.(*ProposalEvent)
	if pe.Proposal.Status != consensus.StatusAccepted || !pe.Proposal.Votes["a"] {
		t.Errorf("proposal = %+v", pe.Proposal)
	}
}

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	data, err := Encode(codec.JSON, m)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestEncode_RequiresStamp(t *testing.T) {
	_, err := Encode(codec.JSON, &Vote{ProposalID: "p-1"})
	if !errors.Is(err, ErrMissingHeader) {
		t.Errorf("err = %v, want ErrMissingHeader", err)
	}

	ev := &TaskEvent{}
	Stamp(ev, "a", t0)
	if _, err := Encode(codec.JSON, ev); !errors.Is(err, ErrMissingHeader) {
		t.Errorf("untyped event: %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(codec.JSON, []byte(`{"type":"bogus","sender_id":"a"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type: %v", err)
	}
	if _, err := Decode(codec.JSON, []byte(`{"type":"heartbeat"}`)); !errors.Is(err, ErrMissingHeader) {
		t.Errorf("missing sender: %v", err)
	}
	if _, err := Decode(codec.JSON, []byte(`not json`)); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestProposalOutcome(t *testing.T) {
	tests := map[consensus.Status]string{
		consensus.StatusAccepted: TypeProposalAccepted,
		consensus.StatusRejected: TypeProposalRejected,
		consensus.StatusExpired:  TypeProposalExpired,
		consensus.StatusVoting:   "",
	}
	for status, want := range tests {
		if got := ProposalOutcome(status); got != want {
			t.Errorf("ProposalOutcome(%s) = %q, want %q", status, got, want)
		}
	}
}

func TestLogFields(t *testing.T) {
	msg := &Log{Level: "WARN", Message: "task failed", Fields: map[string]any{"task": "t-1", "retries": 2}}
	Stamp(msg, "a", t0)

	for _, c := range []codec.Codec{codec.JSON, codec.CBOR} {
		data, err := Encode(c, msg)
		if err != nil {
			t.Fatalf("%s: %v", c.Name(), err)
		}
		decoded, err := Decode(c, data)
		if err != nil {
			t.Fatalf("%s: %v", c.Name(), err)
		}
		got := decoded.(*Log)
		if got.Fields["task"] != "t-1" || got.Message != "task failed" {
			t.Errorf("%s: log = %+v", c.Name(), got)
		}
	}
}
