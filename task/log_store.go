package task

import (
	"database/sql"
	"time"

	"golang.org/x/time/rate"

	"github.com/wrenlabs/taskwell/errors"
)

// LogSink is the narrow contract the engine uses to record per-task
// progress. Streams are append-only and keyed by logID (see LogID).
// Deployments may substitute their own sink; LogStore is the built-in
// SQLite implementation.
type LogSink interface {
	// Create initializes a fresh stream for a task.
	Create(logID, message string) error
	// Write appends a structured entry. progress may be nil (plain log
	// line); backtrack > 0 asks renderers to overwrite that many
	// previous lines.
	Write(logID, message string, progress *Progress, backtrack int, level string) error
	// Info appends a plain informational entry.
	Info(logID, message string) error
	// Finish marks the stream's task as finished.
	Finish(logID, remark string, success bool) error
}

// LogLine is one persisted entry of a task's log stream.
type LogLine struct {
	Message   string    `json:"message"`
	Progress  *Progress `json:"progress,omitempty"`
	Backtrack int       `json:"backtrack,omitempty"`
	Level     string    `json:"level"`
	Finished  bool      `json:"finished,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogStore persists task log streams in the task_logs table.
//
// Progress-carrying writes are throttled: a handler updating step
// progress in a tight loop would otherwise turn every iteration into a
// row insert. Dropped progress entries are harmless since the next one
// supersedes them; plain lines, Create, Info and Finish always land.
type LogStore struct {
	db      *sql.DB
	clock   func() time.Time
	limiter *rate.Limiter
}

// NewLogStore creates a log store over db.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{
		db:      db,
		clock:   time.Now,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 10),
	}
}

// Create initializes a fresh stream: any previous lines for the logID
// are removed and an opening entry is written.
func (s *LogStore) Create(logID, message string) error {
	if _, err := s.db.Exec(`DELETE FROM task_logs WHERE log_id = ?`, logID); err != nil {
		return errors.Wrapf(err, "failed to clear log stream %s", logID)
	}
	return s.append(logID, message, nil, 0, "info", false, nil)
}

// Write appends a structured entry.
func (s *LogStore) Write(logID, message string, progress *Progress, backtrack int, level string) error {
	if progress != nil && !s.limiter.Allow() {
		return nil // throttled; the next progress entry supersedes this one
	}
	return s.append(logID, message, progress, backtrack, level, false, nil)
}

// Info appends a plain informational entry.
func (s *LogStore) Info(logID, message string) error {
	return s.append(logID, message, nil, 0, "info", false, nil)
}

// Finish marks the stream's task as finished with its outcome.
func (s *LogStore) Finish(logID, remark string, success bool) error {
	return s.append(logID, remark, nil, 0, "info", true, &success)
}

func (s *LogStore) append(logID, message string, progress *Progress, backtrack int, level string, finished bool, success *bool) error {
	var current, total interface{}
	if progress != nil {
		current, total = progress.Current, progress.Total
	}

	var successCol interface{}
	if success != nil {
		successCol = *success
	}

	_, err := s.db.Exec(`
		INSERT INTO task_logs (
			log_id, message, progress_current, progress_total,
			backtrack, level, finished, success, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, logID, message, current, total, backtrack, level, finished, successCol, s.clock())

	if err != nil {
		return errors.Wrapf(err, "failed to append to log stream %s", logID)
	}
	return nil
}

// Lines returns a stream's entries in append order.
func (s *LogStore) Lines(logID string) ([]LogLine, error) {
	rows, err := s.db.Query(`
		SELECT message, progress_current, progress_total, backtrack, level, finished, success, created_at
		FROM task_logs
		WHERE log_id = ?
		ORDER BY id ASC
	`, logID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query log stream %s", logID)
	}
	defer rows.Close()

	var lines []LogLine
	for rows.Next() {
		var line LogLine
		var current, total sql.NullInt64
		var success sql.NullBool

		if err := rows.Scan(&line.Message, &current, &total, &line.Backtrack, &line.Level, &line.Finished, &success, &line.CreatedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to scan log line for %s", logID)
		}

		if current.Valid || total.Valid {
			line.Progress = &Progress{Current: int(current.Int64), Total: int(total.Int64)}
		}
		if success.Valid {
			v := success.Bool
			line.Success = &v
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating log stream %s", logID)
	}
	return lines, nil
}
