package task

import (
	"fmt"

	"github.com/wrenlabs/taskwell/errors"
)

// Sentinel errors for the task engine. Check with errors.Is.
var (
	// ErrAlreadyStarted is the sentinel matched by AlreadyStartedError.
	ErrAlreadyStarted = errors.New("task already started")

	// ErrInvalidTitle indicates a handler's configure step produced an
	// empty title.
	ErrInvalidTitle = errors.New("task title is empty")

	// ErrTaskRunning indicates an operation was refused because the task
	// is mid-flight.
	ErrTaskRunning = errors.New("task is running")

	// ErrHandlerNotSpecified indicates an empty command string.
	ErrHandlerNotSpecified = errors.New("task command not specified")

	// ErrHandlerNotRegistered indicates no handler is registered for a
	// command string.
	ErrHandlerNotRegistered = errors.New("no handler registered for command")
)

// AlreadyStartedError is returned by Store.Create when the fingerprint
// matches a record that is currently executing. It carries the existing
// record so callers can treat the task as already enqueued.
type AlreadyStartedError struct {
	Task *Task
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("task %s already started: %s", e.Task.ID, e.Task.Title)
}

// Is makes errors.Is(err, ErrAlreadyStarted) match.
func (e *AlreadyStartedError) Is(target error) bool {
	return target == ErrAlreadyStarted
}
