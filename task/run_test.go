package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenlabs/taskwell/errors"
)

// memorySink records every sink call in memory for assertions.
type memorySink struct {
	created  []string
	lines    []LogLine
	finished bool
	success  bool
	remark   string
}

func (m *memorySink) Create(logID, message string) error {
	m.created = append(m.created, logID)
	return nil
}

func (m *memorySink) Write(logID, message string, progress *Progress, backtrack int, level string) error {
	m.lines = append(m.lines, LogLine{Message: message, Progress: progress, Backtrack: backtrack, Level: level})
	return nil
}

func (m *memorySink) Info(logID, message string) error {
	return m.Write(logID, message, nil, 0, "info")
}

func (m *memorySink) Finish(logID, remark string, success bool) error {
	m.finished = true
	m.remark = remark
	m.success = success
	return nil
}

func TestRunStepFormatting(t *testing.T) {
	rc := newRun(&Task{ID: "t1"}, &memorySink{})

	assert.Equal(t, "007/120", rc.Step(120, 7))
	assert.Equal(t, "3/9", rc.Step(9, 3))
	assert.Equal(t, "042/999", rc.Step(999, 42))
	assert.Equal(t, "0010/1000", rc.Step(1000, 10))
}

func TestRunLogging(t *testing.T) {
	sink := &memorySink{}
	rc := newRun(&Task{ID: "t1"}, sink)

	rc.Log("plain line")
	rc.Logf("formatted %d", 7)
	rc.LogProgress("halfway", 50)
	rc.LogStep("step", 10, 3)

	require.Len(t, sink.lines, 4)
	assert.Equal(t, "plain line", sink.lines[0].Message)
	assert.Equal(t, "formatted 7", sink.lines[1].Message)
	assert.Equal(t, &Progress{Current: 50, Total: 100}, sink.lines[2].Progress)
	assert.Equal(t, &Progress{Current: 3, Total: 10}, sink.lines[3].Progress)
	assert.Equal(t, 1, sink.lines[3].Backtrack, "step entries overwrite the previous line")
}

func TestOutcomeForErrorWins(t *testing.T) {
	rc := newRun(&Task{ID: "t1"}, &memorySink{})
	rc.Complete("done anyway", "ignored")

	oc := rc.outcomeFor(errors.New("boom"))
	assert.False(t, oc.Success)
	assert.Equal(t, "boom", oc.Remark)
}

func TestOutcomeForExplicitComplete(t *testing.T) {
	rc := newRun(&Task{ID: "t1"}, &memorySink{})
	rc.Complete("exported 120 rows", "/tmp/export.xlsx")

	oc := rc.outcomeFor(nil)
	assert.True(t, oc.Success)
	assert.Equal(t, "exported 120 rows", oc.Remark)
	assert.Equal(t, "/tmp/export.xlsx", oc.Result)
}

func TestOutcomeForImplicitSuccess(t *testing.T) {
	rc := newRun(&Task{ID: "t1"}, &memorySink{})

	oc := rc.outcomeFor(nil)
	assert.True(t, oc.Success)
	assert.Equal(t, "processing complete", oc.Remark)
	assert.Empty(t, oc.Result)
}

func TestOutcomeForCompleteWithOperate(t *testing.T) {
	rc := newRun(&Task{ID: "t1"}, &memorySink{})
	rc.CompleteWithOperate("ready", "/tmp/out.csv", &Operate{URL: "/download/t1", Name: "out.csv"})

	oc := rc.outcomeFor(nil)
	require.NotNil(t, oc.Operate)
	assert.Equal(t, "/download/t1", oc.Operate.URL)
}

func TestRunSleepCancellable(t *testing.T) {
	rc := newRun(&Task{ID: "t1"}, &memorySink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := rc.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
