package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the normalized completion signal persisted by the engine:
// success or failure, an optional result payload, and a free-text
// remark shown to operators.
type Outcome struct {
	Success bool
	Result  string
	Remark  string
	Operate *Operate
}

// Run is the per-execution context handed to a handler. It is created
// fresh from a task snapshot for every invocation and discarded after
// the handler returns.
type Run struct {
	task    *Task
	sink    LogSink
	outcome *Outcome
}

func newRun(t *Task, sink LogSink) *Run {
	return &Run{task: t, sink: sink}
}

// ID returns the task id.
func (r *Run) ID() string {
	return r.task.ID
}

// Payload returns the opaque payload the task was created with.
func (r *Run) Payload() json.RawMessage {
	return r.task.Payload
}

// LogID returns the key of this task's log stream.
func (r *Run) LogID() string {
	return LogID(r.task.ID)
}

// Log appends a plain progress entry to the task's log stream.
// Sink failures are swallowed; logging must never fail the task.
func (r *Run) Log(message string) {
	r.sink.Write(r.LogID(), message, nil, 0, "info")
}

// Logf appends a formatted plain entry.
func (r *Run) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}

// LogProgress appends an entry carrying a 0-100 percentage.
func (r *Run) LogProgress(message string, percent float64) {
	r.sink.Write(r.LogID(), message, &Progress{Current: int(percent), Total: 100}, 0, "info")
}

// LogStep appends an entry carrying step-based progress, overwriting
// the previous line so tight loops render as a single updating row.
func (r *Run) LogStep(message string, total, current int) {
	r.sink.Write(r.LogID(), message, &Progress{Current: current, Total: total}, 1, "info")
}

// Step formats a zero-padded "current/total" string for display,
// e.g. Step(120, 7) == "007/120".
func (r *Run) Step(total, current int) string {
	width := len(fmt.Sprintf("%d", total))
	return fmt.Sprintf("%0*d/%d", width, current, total)
}

// Complete records the explicit success signal for this run. The
// message becomes the persisted remark; result may carry a payload such
// as a downloadable artifact path.
func (r *Run) Complete(message, result string) {
	r.outcome = &Outcome{Success: true, Result: result, Remark: message}
}

// CompleteWithOperate is Complete plus a post-completion action
// descriptor for UIs (e.g. a download link).
func (r *Run) CompleteWithOperate(message, result string, op *Operate) {
	r.outcome = &Outcome{Success: true, Result: result, Remark: message, Operate: op}
}

// Sleep pauses cooperatively for d, returning early with the context's
// error if it is cancelled. Tasks run in dedicated worker processes, so
// blocking here is acceptable.
func (r *Run) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// outcomeFor normalizes the three ways a handler run can end into one
// Outcome: an error return is a failure, an explicit Complete wins
// otherwise, and a bare nil return is implicit success.
func (r *Run) outcomeFor(runErr error) Outcome {
	if runErr != nil {
		return Outcome{Success: false, Remark: runErr.Error()}
	}
	if r.outcome != nil {
		return *r.outcome
	}
	return Outcome{Success: true, Remark: "processing complete"}
}
