package task

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wrenlabs/taskwell/errors"
)

const (
	// maxListLimit is the maximum number of tasks a list query returns
	maxListLimit = 10000
	// subscriberChannelBufferSize is the buffer size for subscriber channels
	subscriberChannelBufferSize = 100
)

// Store is the task scheduler: it creates, claims, completes, resets
// and garbage-collects task records. The task table is the single
// source of truth and the claim transaction is the only mutual
// exclusion primitive, so multiple runner processes may share one
// store's database safely.
type Store struct {
	db       *sql.DB
	registry *Registry
	sink     LogSink
	log      *zap.SugaredLogger
	clock    func() time.Time

	mu          sync.RWMutex
	subscribers []chan *Task
}

// NewStore creates a task store. If sink is nil the built-in SQLite
// LogStore over the same database is used; if logger is nil logging is
// disabled.
func NewStore(db *sql.DB, registry *Registry, sink LogSink, logger *zap.SugaredLogger) *Store {
	if sink == nil {
		sink = NewLogStore(db)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		db:       db,
		registry: registry,
		sink:     sink,
		log:      logger.Named("task"),
		clock:    time.Now,
	}
}

// Create registers a unit of work. The record id is the fingerprint of
// (command, payload), so repeated creates of identical work collapse to
// one row: if the existing record is mid-flight the call fails with
// AlreadyStartedError; otherwise the row is replaced wholesale and the
// schedule restarts (attempts resets to zero, matching the full-row
// upsert semantics).
//
// The handler's Configure step runs before persisting and may override
// title, delay and loop interval; an empty trimmed title fails with
// ErrInvalidTitle.
func (s *Store) Create(command string, payload []byte, title string, delaySeconds, loopSeconds int64) (*Task, error) {
	handler, err := s.registry.Resolve(command)
	if err != nil {
		return nil, err
	}

	id := Fingerprint(command, payload)

	existing, err := s.Get(id)
	if err != nil && !errors.IsNotFoundError(err) {
		return nil, err
	}
	if existing != nil && existing.Status == StatusStarted {
		return nil, &AlreadyStartedError{Task: existing}
	}

	plan := &Plan{
		Title:        title,
		Payload:      payload,
		DelaySeconds: delaySeconds,
		LoopSeconds:  loopSeconds,
	}
	if err := handler.Configure(plan); err != nil {
		return nil, errors.Wrapf(err, "configure failed for command %q", command)
	}

	plan.Title = strings.TrimSpace(plan.Title)
	if plan.Title == "" {
		return nil, errors.Wrapf(ErrInvalidTitle, "command %q", command)
	}

	now := s.clock()
	t := &Task{
		ID:          id,
		Title:       plan.Title,
		Command:     command,
		Payload:     plan.Payload,
		LoopSeconds: plan.LoopSeconds,
		Status:      StatusWait,
		PlanTime:    now.Add(time.Duration(plan.DelaySeconds) * time.Second),
		CreateTime:  now,
	}

	landed, err := s.insertTask(t)
	if err != nil {
		err = errors.Wrap(err, "failed to create task")
		err = errors.WithDetailf(err, "Task ID: %s", t.ID)
		err = errors.WithDetailf(err, "Command: %s", t.Command)
		return nil, err
	}
	if !landed {
		// The record moved to started between the lookup above and the
		// write; the upsert guard refused rather than overwrite
		// in-flight work.
		current, gerr := s.Get(t.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &AlreadyStartedError{Task: current}
	}

	if err := s.sink.Create(LogID(t.ID), "task created: "+t.Title); err != nil {
		s.log.Warnw("Failed to initialize task log stream", "task_id", t.ID, "error", err)
	}

	s.notifySubscribers(t)
	return t, nil
}

// insertTask writes a task record as a full-row upsert. The conflict
// clause refuses to replace a row in the started state, so a record
// claimed between the caller's lookup and this write stays intact.
// Returns false when the guard rejected the write.
func (s *Store) insertTask(t *Task) (bool, error) {
	payloadCol := sql.NullString{String: string(t.Payload), Valid: len(t.Payload) > 0}

	res, err := s.db.Exec(`
		INSERT INTO tasks (
			id, title, command, payload, loop_seconds,
			pid, attempts, status, plan_time,
			start_time, end_time, create_time,
			success, result, remark, operate
		) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, NULL, NULL, ?, 0, '', '', NULL)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			command = excluded.command,
			payload = excluded.payload,
			loop_seconds = excluded.loop_seconds,
			pid = 0,
			attempts = 0,
			status = excluded.status,
			plan_time = excluded.plan_time,
			start_time = NULL,
			end_time = NULL,
			create_time = excluded.create_time,
			success = 0,
			result = '',
			remark = '',
			operate = NULL
		WHERE tasks.status != ?
	`, t.ID, t.Title, t.Command, payloadCol, t.LoopSeconds, t.Status, t.PlanTime, t.CreateTime, StatusStarted)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Get retrieves a task by id.
func (s *Store) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskSelectColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return t, nil
}

// GetWait claims the next eligible task: the oldest-by-plan-time record
// whose plan time has arrived and whose status is wait or again. The
// claim (status=started, attempts+1, start time stamped) happens inside
// one transaction with a conditional update, so two concurrent callers
// can never both claim the same row; the loser observes zero affected
// rows and reports no task. Returns (nil, nil) when nothing is
// claimable.
func (s *Store) GetWait(ctx context.Context) (*Task, error) {
	now := s.clock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskSelectColumns+`
		FROM tasks
		WHERE plan_time <= ? AND status IN (?, ?)
		ORDER BY plan_time ASC
		LIMIT 1
	`, now, StatusWait, StatusAgain)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // nothing eligible
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select claimable task")
	}

	start := s.clock()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, attempts = attempts + 1, start_time = ?, end_time = NULL
		WHERE id = ? AND status IN (?, ?)
	`, StatusStarted, start, t.ID, StatusWait, StatusAgain)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim task %s", t.ID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if affected != 1 {
		// Another claimer won between our read and write.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit claim of task %s", t.ID)
	}

	t.Status = StatusStarted
	t.Attempts++
	t.StartTime = &start
	t.EndTime = nil

	if err := s.sink.Info(LogID(t.ID), "processing started"); err != nil {
		s.log.Warnw("Failed to log claim", "task_id", t.ID, "error", err)
	}

	s.notifySubscribers(t)
	return t, nil
}

// Run executes a claimed task's handler. The pid, when positive, is
// recorded on the record first. Running an already-complete task is an
// idempotent no-op, guarding against duplicate runner invocations.
//
// Whatever way the handler run ends - explicit Complete, bare return,
// or error - the outcome is persisted via setComplete. A handler error
// is additionally returned to the caller so process-level logging sees
// it too; a secondary failure while persisting the completion is logged
// but never masks the handler's own outcome.
func (s *Store) Run(ctx context.Context, id string, pid int) error {
	if pid > 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET pid = ? WHERE id = ?`, pid, id); err != nil {
			return errors.Wrapf(err, "failed to record pid for task %s", id)
		}
	}

	t, err := s.Get(id)
	if err != nil {
		return err
	}
	if t.Status == StatusComplete {
		return nil
	}

	handler, err := s.registry.Resolve(t.Command)
	if err != nil {
		// Misconfiguration is fatal for this task: record the failure
		// terminally (no loop re-arm), then surface it.
		t.LoopSeconds = 0
		if cerr := s.setComplete(t, Outcome{Success: false, Remark: err.Error()}); cerr != nil {
			s.log.Errorw("Failed to persist completion after handler resolve failure",
				"task_id", t.ID, "error", cerr)
		}
		return err
	}

	rc := newRun(t, s.sink)
	runErr := handler.Run(rc)

	if cerr := s.setComplete(t, rc.outcomeFor(runErr)); cerr != nil {
		s.log.Errorw("Failed to persist task completion",
			"task_id", t.ID, "run_error", runErr, "error", cerr)
	}

	if runErr != nil {
		return errors.Wrapf(runErr, "task %s failed", t.ID)
	}
	return nil
}

// setComplete persists a run outcome. Looping tasks re-arm themselves:
// status goes to again with the plan time pushed out by the loop
// interval, so they never reach the terminal complete state. Run-once
// tasks become complete.
func (s *Store) setComplete(t *Task, oc Outcome) error {
	now := s.clock()

	if t.LoopSeconds > 0 {
		t.Status = StatusAgain
		t.PlanTime = now.Add(time.Duration(t.LoopSeconds) * time.Second)
	} else {
		t.Status = StatusComplete
	}
	t.PID = 0
	t.EndTime = &now
	t.Success = oc.Success
	t.Result = oc.Result
	t.Remark = oc.Remark
	if oc.Operate != nil {
		t.Operate = oc.Operate
	}

	operateJSON, err := MarshalOperate(t.Operate)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal operate for task %s", t.ID)
	}
	operateCol := sql.NullString{String: operateJSON, Valid: operateJSON != ""}

	_, err = s.db.Exec(`
		UPDATE tasks
		SET status = ?, plan_time = ?, pid = 0, end_time = ?,
		    success = ?, result = ?, remark = ?, operate = ?
		WHERE id = ?
	`, t.Status, t.PlanTime, now, t.Success, t.Result, t.Remark, operateCol, t.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to persist completion of task %s", t.ID)
	}

	if err := s.sink.Finish(LogID(t.ID), oc.Remark, oc.Success); err != nil {
		s.log.Warnw("Failed to finish task log stream", "task_id", t.ID, "error", err)
	}

	s.notifySubscribers(t)
	return nil
}

// Reset makes a task immediately claimable again. Refused with
// ErrTaskRunning while the task is mid-flight.
func (s *Store) Reset(id string) error {
	t, err := s.Get(id)
	if err != nil {
		return err
	}
	if t.Status == StatusStarted {
		return errors.Wrapf(ErrTaskRunning, "task %s", id)
	}

	now := s.clock()
	if _, err := s.db.Exec(`
		UPDATE tasks SET plan_time = ?, status = ?, pid = 0 WHERE id = ?
	`, now, StatusAgain, id); err != nil {
		return errors.Wrapf(err, "failed to reset task %s", id)
	}

	t.PlanTime = now
	t.Status = StatusAgain
	t.PID = 0
	s.notifySubscribers(t)
	return nil
}

// Delete removes a task record and its log stream.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete task %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("task %s", id)
	}

	if _, err := s.db.Exec(`DELETE FROM task_logs WHERE log_id = ?`, LogID(id)); err != nil {
		s.log.Warnw("Failed to delete task log stream", "task_id", id, "error", err)
	}
	return nil
}

// Clean is the periodic maintenance sweep. Records stuck in started
// past resetTimeout (their runner died mid-task) are returned to a
// claimable state; terminal complete records older than deleteAfter are
// deleted. Returns both counts for observability.
func (s *Store) Clean(resetTimeout, deleteAfter time.Duration) (reset int, deleted int, err error) {
	now := s.clock()

	res, err := s.db.Exec(`
		UPDATE tasks
		SET pid = 0, status = ?, plan_time = ?, remark = 'timed out, was reset'
		WHERE status = ? AND start_time < ?
	`, StatusAgain, now, StatusStarted, now.Add(-resetTimeout))
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to reset stale tasks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get rows affected")
	}
	reset = int(n)

	res, err = s.db.Exec(`
		DELETE FROM tasks
		WHERE status = ? AND end_time < ?
	`, StatusComplete, now.Add(-deleteAfter))
	if err != nil {
		return reset, 0, errors.Wrap(err, "failed to delete old tasks")
	}
	n, err = res.RowsAffected()
	if err != nil {
		return reset, 0, errors.Wrap(err, "failed to get rows affected")
	}
	deleted = int(n)

	if reset > 0 || deleted > 0 {
		s.log.Infow("Cleanup sweep", "reset", reset, "deleted", deleted)
	}
	return reset, deleted, nil
}

// List returns tasks, optionally filtered by status, newest first.
func (s *Store) List(status *Status, limit int) ([]*Task, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.db.Query(`
			SELECT `+taskSelectColumns+` FROM tasks
			WHERE status = ? ORDER BY create_time DESC LIMIT ?
		`, *status, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT `+taskSelectColumns+` FROM tasks
			ORDER BY create_time DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	return scanTasks(rows, "tasks")
}

// Stats holds task counts by status.
type Stats struct {
	Waiting  int `json:"waiting"`
	Started  int `json:"started"`
	Complete int `json:"complete"`
	Again    int `json:"again"`
	Total    int `json:"total"`
}

// GetStats returns task counts grouped by status.
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count tasks")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan task counts")
		}
		switch status {
		case StatusWait:
			stats.Waiting = count
		case StatusStarted:
			stats.Started = count
		case StatusComplete:
			stats.Complete = count
		case StatusAgain:
			stats.Again = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// Subscribe returns a channel that receives task updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (s *Store) Subscribe() chan *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Task, subscriberChannelBufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed
// by this method - callers should close it themselves after
// unsubscribing if needed. This prevents double-close panics.
func (s *Store) Unsubscribe(ch chan *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends task updates to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (s *Store) notifySubscribers(t *Task) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- t:
		default: // channel full, skip
		}
	}
}
