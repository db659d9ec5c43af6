package task

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/wrenlabs/taskwell/errors"
)

// Plan is the mutable builder a handler's Configure step receives. It
// arrives pre-seeded with the caller's requested title, payload, delay
// and loop interval; the handler may override any of them before the
// record is persisted. The final title, after trimming, must be
// non-empty.
type Plan struct {
	Title        string
	Payload      json.RawMessage
	DelaySeconds int64
	LoopSeconds  int64
}

// Handler is the pluggable unit of work the engine executes.
//
// Configure runs once at creation time, before the record is persisted.
// Run performs the work against a Run context. A handler signals the
// outcome either by calling Run.Complete (success, optionally carrying
// a result payload) or by returning an error (failure). A bare nil
// return without an explicit Complete is treated as implicit success
// with the remark "processing complete".
type Handler interface {
	Configure(plan *Plan) error
	Run(rc *Run) error
}

// DownloadResponder is an optional capability a handler may implement
// to serve a completed task's result. When absent, the engine treats
// the result string as a filesystem path and streams the file directly.
type DownloadResponder interface {
	OpenDownload(t *Task, filename, mimetype string) (io.ReadCloser, error)
}

// Registry maps command strings to handler factories.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	factories map[string]func() Handler
	mu        sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() Handler),
	}
}

// Register adds a handler factory for a command.
// Panics if a factory is already registered for that command.
func (r *Registry) Register(command string, factory func() Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[command]; exists {
		panic("handler already registered for command: " + command)
	}
	r.factories[command] = factory
}

// Resolve returns a handler instance for a command. An empty command
// yields ErrHandlerNotSpecified; an unknown one ErrHandlerNotRegistered.
func (r *Registry) Resolve(command string) (Handler, error) {
	if command == "" {
		return nil, errors.WithStack(ErrHandlerNotSpecified)
	}

	r.mu.RLock()
	factory, exists := r.factories[command]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Wrapf(ErrHandlerNotRegistered, "%q", command)
	}
	return factory(), nil
}

// Has checks if a factory is registered for a command.
func (r *Registry) Has(command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[command]
	return exists
}

// Commands returns all registered command strings.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]string, 0, len(r.factories))
	for command := range r.factories {
		commands = append(commands, command)
	}
	return commands
}
