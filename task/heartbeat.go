package task

import (
	"database/sql"
	"sync"
	"time"

	"github.com/wrenlabs/taskwell/errors"
)

// heartbeatMinInterval is both the write rate limit and the floor on the
// staleness window: a runner beats at most this often, so any smaller
// timeout would report a healthy runner as gone.
const heartbeatMinInterval = 3 * time.Second

// Marker describes the last observed runner heartbeat.
type Marker struct {
	Time    time.Time `json:"time"`
	PID     int       `json:"pid"`
	Service string    `json:"service"`
}

// Heartbeat persists a single-row liveness marker for the runner
// process, letting other processes (the CLI, a UI) tell whether a
// runner is alive without talking to it.
type Heartbeat struct {
	db    *sql.DB
	clock func() time.Time

	mu        sync.Mutex
	lastWrite time.Time
}

// NewHeartbeat creates a heartbeat over db.
func NewHeartbeat(db *sql.DB) *Heartbeat {
	return &Heartbeat{db: db, clock: time.Now}
}

// SetRunning records that the runner is alive. Calls are rate-limited:
// at most one row write per heartbeatMinInterval, so a hot poll loop
// can call this unconditionally.
func (h *Heartbeat) SetRunning(pid int, service string) error {
	now := h.clock()

	h.mu.Lock()
	if !h.lastWrite.IsZero() && now.Sub(h.lastWrite) < heartbeatMinInterval {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	_, err := h.db.Exec(`
		INSERT INTO runner_heartbeat (id, beat_at, pid, service)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET beat_at = excluded.beat_at,
			pid = excluded.pid, service = excluded.service
	`, now, pid, service)
	if err != nil {
		return errors.Wrap(err, "failed to write heartbeat")
	}

	// Stamp only after the row landed so a failed write does not
	// suppress the retry on the next poll.
	h.mu.Lock()
	h.lastWrite = now
	h.mu.Unlock()
	return nil
}

// GetRunning returns the runner's marker when the last beat is fresher
// than timeout, or nil when no runner appears to be alive. The
// effective window is never smaller than heartbeatMinInterval since
// beats are written at most that often.
func (h *Heartbeat) GetRunning(timeout time.Duration) (*Marker, error) {
	if timeout < heartbeatMinInterval {
		timeout = heartbeatMinInterval
	}

	var m Marker
	row := h.db.QueryRow(`SELECT beat_at, pid, service FROM runner_heartbeat WHERE id = 1`)
	if err := row.Scan(&m.Time, &m.PID, &m.Service); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read heartbeat")
	}

	if h.clock().Sub(m.Time) > timeout {
		return nil, nil
	}
	return &m, nil
}
