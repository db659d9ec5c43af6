// Package task implements a database-polled asynchronous task engine.
//
// Task records are content-addressed: the record id is a fingerprint of
// the handler command plus its serialized payload, so creating the same
// work twice collapses to a single row. An external runner loop claims
// eligible records one at a time under a short transaction and executes
// their registered handlers.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a task record.
type Status int

const (
	// StatusWait means the task has been created and not yet claimed.
	StatusWait Status = 0
	// StatusStarted means a runner has claimed the task and is executing it.
	StatusStarted Status = 1
	// StatusComplete means the task reached its terminal state.
	StatusComplete Status = 2
	// StatusAgain means the task has run before and is scheduled to run
	// again, either from a loop re-arm or a reset.
	StatusAgain Status = 3
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusWait:
		return "wait"
	case StatusStarted:
		return "started"
	case StatusComplete:
		return "complete"
	case StatusAgain:
		return "again"
	default:
		return "unknown"
	}
}

// IsValidStatus returns true if the integer maps to a known Status.
func IsValidStatus(n int) bool {
	switch Status(n) {
	case StatusWait, StatusStarted, StatusComplete, StatusAgain:
		return true
	default:
		return false
	}
}

// Progress represents task progress information
type Progress struct {
	Current int `json:"current,omitempty"` // Completed operations
	Total   int `json:"total,omitempty"`   // Total operations
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Operate describes how a UI should let a user act on a completed
// task's result, e.g. a download link.
type Operate struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	NewWindow bool   `json:"new_window,omitempty"`
}

// Task is one persistent task record.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Command     string          `json:"command"`
	Payload     json.RawMessage `json:"payload,omitempty"` // Handler-specific data (domain-owned)
	LoopSeconds int64           `json:"loop_seconds"`      // 0 = run once, >0 = re-arm after this many seconds
	PID         int             `json:"pid"`               // OS process id of the last claimer, 0 when unclaimed
	Attempts    int             `json:"attempts"`
	Status      Status          `json:"status"`
	PlanTime    time.Time       `json:"plan_time"` // Earliest time the task is eligible for claiming
	StartTime   *time.Time      `json:"start_time,omitempty"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	CreateTime  time.Time       `json:"create_time"`
	Success     bool            `json:"success"`
	Result      string          `json:"result,omitempty"`
	Remark      string          `json:"remark,omitempty"`
	Operate     *Operate        `json:"operate,omitempty"`
}

// Fingerprint computes the deterministic task id for a command and its
// payload. Identical (command, payload) pairs always map to the same id,
// which is what enforces create-time deduplication.
func Fingerprint(command string, payload json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(command))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Waiting reports whether the task is eligible to be claimed.
func (t *Task) Waiting() bool {
	return t.Status == StatusWait || t.Status == StatusAgain
}

// Pending reports whether the task still has work ahead of it: waiting
// to be claimed or currently executing.
func (t *Task) Pending() bool {
	return t.Waiting() || t.Status == StatusStarted
}

// Done reports whether the task reached its terminal state.
func (t *Task) Done() bool {
	return t.Status == StatusComplete
}

// Duration returns the wall time of the most recent run window. The
// second return is false while the task is started (no end time yet) or
// has never run.
func (t *Task) Duration() (time.Duration, bool) {
	if t.Status == StatusStarted || t.StartTime == nil || t.EndTime == nil {
		return 0, false
	}
	return t.EndTime.Sub(*t.StartTime), true
}

// LogID returns the log stream key for a task id.
func LogID(taskID string) string {
	return "task_" + taskID
}

// MarshalOperate converts an Operate to its JSON column form.
func MarshalOperate(op *Operate) (string, error) {
	if op == nil {
		return "", nil
	}
	data, err := json.Marshal(op)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalOperate converts a JSON column value to an Operate.
func UnmarshalOperate(data string) (*Operate, error) {
	if data == "" {
		return nil, nil
	}
	var op Operate
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return nil, err
	}
	return &op, nil
}
