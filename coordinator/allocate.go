package coordinator

import (
	"strconv"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/tasks"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// createTask stores a new owned task and queues it for allocation.
func (n *node) createTask(spec tasks.Spec) (tasks.Task, error) {
	if spec.ID == "" {
		spec.ID = n.newID()
	}
	if spec.MaxRetries == 0 {
		spec.MaxRetries = n.cfg.DefaultMaxRetries
	}

	t, err := n.store.Create(spec, n.now())
	if err != nil {
		return tasks.Task{}, err
	}

	n.log.Info("task_created", map[string]interface{}{"task": t.ID, "type": t.Type})
	n.send(protocol.NewTaskEvent(protocol.TypeTaskCreated, t))
	n.enqueue(t.ID)
	return t, nil
}

// allocate assigns a pending owned task to the best eligible agent and
// dispatches it. Tasks with no candidate stay pending until the next
// maintenance pass or join.
func (n *node) allocate(taskID string) {
	t, ok := n.store.Get(taskID)
	if !ok || t.Status != tasks.StatusPending || !n.store.Owns(taskID) {
		return
	}

	ctx, span := n.tracer.StartAllocationSpan(n.ctx, taskID)
	candidates := n.dir.All()
	opts := telemetry.AllocationSpanOptions{
		TaskID:      taskID,
		TaskType:    t.Type,
		Candidates:  len(candidates),
		PayloadKind: t.Payload.Kind,
	}

	best, score, ok := tasks.Select(t, candidates)
	if !ok {
		err := errors.NoCandidate(taskID)
		n.log.Debug("no eligible agent", map[string]interface{}{"task": taskID, "type": t.Type})
		n.tracer.EndAllocationSpan(span, opts, err)
		return
	}

	t, err := n.store.Assign(taskID, best.ID, n.now())
	if err != nil {
		n.log.Error("assign failed", errFields(err))
		n.tracer.EndAllocationSpan(span, opts, err)
		return
	}
	if t.Requirements.IsExclusive() || best.CurrentTask == "" {
		n.dir.Assign(best.ID, taskID)
	}

	opts.AgentID, opts.Score, opts.Attempt = best.ID, score, t.Attempt
	n.tracer.EndAllocationSpan(span, opts, nil)
	n.log.TaskAssigned(taskID, best.ID, score, t.Attempt)

	n.send(protocol.NewTaskEvent(protocol.TypeTaskAssigned, t))

	d := &protocol.TaskDispatch{
		Task:     t,
		TargetID: best.ID,
		OwnerID:  n.id(),
		Attempt:  t.Attempt,
	}
	carrier := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	if len(carrier) > 0 {
		d.Trace = carrier
	}
	n.send(d)

	if best.ID == n.id() {
		n.execute(d)
	}
}

// finish ends the current attempt of an owned task. Success completes
// it; failure retries it while retries remain and fails it otherwise.
// The previous assignee is freed either way.
func (n *node) finish(taskID string, success bool, result codec.Payload, reason string) (tasks.Task, error) {
	prev, ok := n.store.Get(taskID)
	if !ok {
		return tasks.Task{}, errors.NotFound("task not found", errors.WithTaskID(taskID))
	}

	if success {
		t, err := n.store.Complete(taskID, result, n.now())
		if err != nil {
			return tasks.Task{}, err
		}
		n.release(prev)
		n.log.TaskFinished(t.ID, string(t.Status), t.Retries, "")
		n.send(protocol.NewTaskEvent(protocol.TypeTaskCompleted, t))
		return t, nil
	}

	if reason == "" {
		reason = "task reported failure"
	}
	t, retry, err := n.store.Fail(taskID, reason, n.now())
	if err != nil {
		return tasks.Task{}, err
	}
	n.release(prev)

	if retry {
		n.log.TaskFinished(t.ID, "retrying", t.Retries, reason)
		n.enqueue(t.ID)
		return t, nil
	}
	n.log.TaskFinished(t.ID, string(t.Status), t.Retries, reason)
	n.send(protocol.NewTaskEvent(protocol.TypeTaskFailed, t))
	return t, nil
}

// release frees the agent that held prev, if it still does, and gives
// waiting tasks another chance at it.
func (n *node) release(prev tasks.Task) {
	if prev.AssignedTo != "" && n.dir.Release(prev.AssignedTo, prev.ID) {
		n.enqueuePending()
	}
}

// recall tells the assignee of a task that was active in prev to stop.
func (n *node) recall(prev tasks.Task) {
	if !prev.Status.IsActive() || prev.AssignedTo == "" {
		return
	}
	c := &protocol.TaskCancel{TaskID: prev.ID, TargetID: prev.AssignedTo, OwnerID: n.id()}
	n.send(c)
	if prev.AssignedTo == n.id() {
		n.abort(c)
	}
}

// cancelTask cancels a non-terminal owned task.
func (n *node) cancelTask(taskID string) (tasks.Task, error) {
	prev, ok := n.store.Get(taskID)
	if !ok {
		return tasks.Task{}, errors.NotFound("task not found", errors.WithTaskID(taskID))
	}
	t, err := n.store.Cancel(taskID, n.now())
	if err != nil {
		return tasks.Task{}, err
	}
	n.release(prev)
	n.log.TaskFinished(t.ID, string(t.Status), t.Retries, "")
	n.send(protocol.NewTaskEvent(protocol.TypeTaskCancelled, t))
	n.recall(prev)
	return t, nil
}

// expire fails an owned task whose deadline passed.
func (n *node) expire(taskID string) {
	prev, ok := n.store.Get(taskID)
	if !ok {
		return
	}
	t, err := n.store.Expire(taskID, n.now())
	if err != nil {
		return
	}
	n.release(prev)
	n.log.TaskFinished(t.ID, string(t.Status), t.Retries, t.Error)
	n.send(protocol.NewTaskEvent(protocol.TypeTaskFailed, t))
	n.recall(prev)
}

// applyResult applies an executor's report to an owned task. Reports
// for an attempt that is no longer current are ignored.
func (n *node) applyResult(r *protocol.TaskResult) {
	if !n.store.Current(r.TaskID, r.AgentID, r.Attempt) {
		n.log.Debug("stale task result", errors.Stale("result does not match current assignment",
			errors.WithTaskID(r.TaskID), errors.WithAgentID(r.AgentID),
			errors.WithMetadata("attempt", strconv.Itoa(r.Attempt))).Fields())
		return
	}
	if _, err := n.finish(r.TaskID, r.Success, r.Result, r.Error); err != nil {
		n.log.Warn("apply result failed", errFields(err))
	}
}

// onTaskEvent records task events from peers. A started event for an
// owned task moves it to in_progress; events for tasks owned elsewhere
// are kept as snapshots.
func (n *node) onTaskEvent(e *protocol.TaskEvent) {
	if e.Task.OwnerID != n.id() {
		n.store.Observe(e.Task)
		return
	}
	if e.Type == protocol.TypeTaskStarted {
		if _, err := n.store.Start(e.Task.ID, e.Task.AssignedTo, e.Task.Attempt); err != nil {
			n.log.Debug("ignored start", errFields(err))
		}
	}
}
