package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint("report", []byte(`{"month":"2026-01"}`))
	b := Fingerprint("report", []byte(`{"month":"2026-01"}`))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex sha256
}

func TestFingerprintSeparatesCommandAndPayload(t *testing.T) {
	// The separator prevents ("ab", "c") colliding with ("a", "bc").
	assert.NotEqual(t, Fingerprint("ab", []byte("c")), Fingerprint("a", []byte("bc")))
	assert.NotEqual(t, Fingerprint("report", []byte("x")), Fingerprint("report", []byte("y")))
	assert.NotEqual(t, Fingerprint("report", []byte("x")), Fingerprint("export", []byte("x")))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "wait", StatusWait.String())
	assert.Equal(t, "started", StatusStarted.String())
	assert.Equal(t, "complete", StatusComplete.String())
	assert.Equal(t, "again", StatusAgain.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestTaskLifecyclePredicates(t *testing.T) {
	task := &Task{Status: StatusWait}
	assert.True(t, task.Waiting())
	assert.True(t, task.Pending())
	assert.False(t, task.Done())

	task.Status = StatusStarted
	assert.False(t, task.Waiting())
	assert.True(t, task.Pending())

	task.Status = StatusAgain
	assert.True(t, task.Waiting())

	task.Status = StatusComplete
	assert.False(t, task.Pending())
	assert.True(t, task.Done())
}

func TestDuration(t *testing.T) {
	start := time.Now()
	end := start.Add(90 * time.Second)

	task := &Task{}
	_, ok := task.Duration()
	assert.False(t, ok, "never-run task has no duration")

	task.StartTime = &start
	task.Status = StatusStarted
	_, ok = task.Duration()
	assert.False(t, ok, "in-flight task has no duration yet")

	task.Status = StatusComplete
	task.EndTime = &end
	d, ok := task.Duration()
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
}

func TestOperateColumnRoundTrip(t *testing.T) {
	encoded, err := MarshalOperate(&Operate{URL: "/download/abc", Name: "report.xlsx", NewWindow: true})
	require.NoError(t, err)

	op, err := UnmarshalOperate(encoded)
	require.NoError(t, err)
	assert.Equal(t, "/download/abc", op.URL)
	assert.Equal(t, "report.xlsx", op.Name)
	assert.True(t, op.NewWindow)

	// nil and empty map to each other
	encoded, err = MarshalOperate(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)

	op, err = UnmarshalOperate("")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestProgressPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Progress{}.Percentage())
	assert.Equal(t, 50.0, Progress{Current: 5, Total: 10}.Percentage())
	assert.Equal(t, 100.0, Progress{Current: 10, Total: 10}.Percentage())
}
