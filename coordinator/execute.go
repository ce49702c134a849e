package coordinator

import (
	"context"
	"strconv"

	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/tasks"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// execute runs a task dispatched to this node. Redelivered dispatches
// of the same attempt are dropped.
func (n *node) execute(d *protocol.TaskDispatch) {
	key := d.Task.ID + "#" + strconv.Itoa(d.Attempt)
	if n.seen.CheckAndMark(key) {
		n.log.Debug("duplicate dispatch", map[string]interface{}{"task": d.Task.ID, "attempt": d.Attempt})
		return
	}

	switch {
	case n.draining:
		n.report(d, errors.New(errors.ErrCodeUnavailable, "agent draining", errors.WithAgentID(n.id())))
		return
	case n.taskHandler == nil:
		n.report(d, errors.Internal("no task handler", errors.WithAgentID(n.id())))
		return
	}

	t := d.Task.Clone()
	t.Status = tasks.StatusInProgress
	t.AssignedTo = n.id()
	t.Attempt = d.Attempt
	n.send(protocol.NewTaskEvent(protocol.TypeTaskStarted, t))
	if d.OwnerID == n.id() {
		if _, err := n.store.Start(t.ID, t.AssignedTo, t.Attempt); err != nil {
			n.log.Debug("ignored start", errFields(err))
		}
	}
	n.dir.Assign(n.id(), t.ID)

	if old, ok := n.running[t.ID]; ok {
		old.cancelled = true
		old.cancel()
	}
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.TaskTimeout)
	exec := &execution{taskID: t.ID, ownerID: d.OwnerID, attempt: d.Attempt, cancel: cancel}
	n.running[t.ID] = exec

	parent := telemetry.ExtractContext(ctx, telemetry.MapCarrier(d.Trace))
	handler, tracer := n.taskHandler, n.tracer
	n.env.spawn(func() {
		spanCtx, span := tracer.StartTaskSpan(parent, t.ID, t.Type, t.Attempt)
		result, err := runHandler(spanCtx, handler, t)
		tracer.EndTaskSpan(span, err)
		cancel()
		n.env.post(func() { n.executed(exec, result, err) })
	})
}

func runHandler(ctx context.Context, h TaskHandler, t tasks.Task) (result codec.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r, errors.WithTaskID(t.ID))
		}
	}()
	return h(ctx, t)
}

// executed handles a handler's return on the node goroutine.
func (n *node) executed(exec *execution, result codec.Payload, err error) {
	if cur, ok := n.running[exec.taskID]; ok && cur == exec {
		delete(n.running, exec.taskID)
		n.dir.Release(n.id(), exec.taskID)
		n.signalIdle()
	}

	if exec.cancelled {
		n.log.Debug("task handler aborted", map[string]interface{}{"task": exec.taskID, "attempt": exec.attempt})
		return
	}
	n.sendResult(exec.taskID, exec.ownerID, exec.attempt, result, err)
}

// report answers a dispatch without running it.
func (n *node) report(d *protocol.TaskDispatch, err error) {
	n.log.Warn("dispatch refused", errFields(err))
	n.sendResult(d.Task.ID, d.OwnerID, d.Attempt, codec.Payload{}, err)
}

func (n *node) sendResult(taskID, ownerID string, attempt int, result codec.Payload, err error) {
	r := &protocol.TaskResult{
		TaskID:  taskID,
		OwnerID: ownerID,
		AgentID: n.id(),
		Attempt: attempt,
		Success: err == nil,
	}
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Result = result
	}
	n.send(r)
	if ownerID == n.id() {
		n.applyResult(r)
	}
}

// abort stops a running handler on the owner's request. The handler's
// eventual return sends no result.
func (n *node) abort(c *protocol.TaskCancel) {
	exec, ok := n.running[c.TaskID]
	if !ok || exec.ownerID != c.OwnerID {
		return
	}
	exec.cancelled = true
	exec.cancel()
	n.log.Info("task aborted", map[string]interface{}{"task": c.TaskID, "owner": c.OwnerID})
}

// signalIdle wakes drain waiters once nothing runs.
func (n *node) signalIdle() {
	if len(n.running) > 0 {
		return
	}
	for _, ch := range n.idle {
		close(ch)
	}
	n.idle = nil
}

// startDrain refuses further dispatches and marks self offline so peers
// stop choosing it. ch is closed once no handler runs.
func (n *node) startDrain(ch chan struct{}) {
	if !n.draining {
		n.draining = true
		n.log.Info("draining", map[string]interface{}{"running": len(n.running)})
		n.updateSelf(directory.Agent{Status: directory.StatusOffline})
	}
	n.idle = append(n.idle, ch)
	n.signalIdle()
}
