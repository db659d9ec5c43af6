package task

import (
	"database/sql"

	"github.com/wrenlabs/taskwell/errors"
)

// taskScanArgs holds the nullable column targets needed when scanning a
// task row. Mirrors the column order of taskSelectColumns.
type taskScanArgs struct {
	Payload   sql.NullString
	StartTime sql.NullTime
	EndTime   sql.NullTime
	Operate   sql.NullString
}

// taskSelectColumns is the standard column list for task SELECT queries.
const taskSelectColumns = `id, title, command, payload, loop_seconds,
	pid, attempts, status, plan_time, start_time, end_time,
	create_time, success, result, remark, operate`

func taskScanTargets(t *Task, args *taskScanArgs) []interface{} {
	return []interface{}{
		&t.ID,
		&t.Title,
		&t.Command,
		&args.Payload,
		&t.LoopSeconds,
		&t.PID,
		&t.Attempts,
		&t.Status,
		&t.PlanTime,
		&args.StartTime,
		&args.EndTime,
		&t.CreateTime,
		&t.Success,
		&t.Result,
		&t.Remark,
		&args.Operate,
	}
}

func processTaskScanArgs(t *Task, args *taskScanArgs) error {
	if args.Payload.Valid {
		t.Payload = []byte(args.Payload.String)
	}
	if args.StartTime.Valid {
		t.StartTime = &args.StartTime.Time
	}
	if args.EndTime.Valid {
		t.EndTime = &args.EndTime.Time
	}
	if args.Operate.Valid {
		op, err := UnmarshalOperate(args.Operate.String)
		if err != nil {
			return errors.Wrapf(err, "failed to unmarshal operate for task %s", t.ID)
		}
		t.Operate = op
	}
	return nil
}

// scanTaskRow scans a single task from a queryable row source.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	args := &taskScanArgs{}

	if err := row.Scan(taskScanTargets(&t, args)...); err != nil {
		return nil, err
	}
	if err := processTaskScanArgs(&t, args); err != nil {
		return nil, err
	}
	return &t, nil
}

// scanTasks scans all rows, used by the list queries.
func scanTasks(rows *sql.Rows, context string) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return tasks, nil
}
