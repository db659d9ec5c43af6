package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twtest "github.com/wrenlabs/taskwell/internal/testing"
)

func testRunnerConfig() RunnerConfig {
	cfg := DefaultRunnerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CleanInterval = time.Hour // keep the sweep out of timing-sensitive tests
	return cfg
}

func waitForStatus(t *testing.T, store *Store, id string, want Status) *Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.Get(id)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
	return nil
}

func TestRunnerProcessesTask(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	registry := NewRegistry()
	store := NewStore(conn, registry, nil, nil)
	hb := NewHeartbeat(conn)

	registerStub(registry, "report", &stubHandler{
		run: func(rc *Run) error {
			rc.Complete("done", "")
			return nil
		},
	})

	runner := NewRunner(store, hb, testRunnerConfig(), nil)
	runner.Start()
	defer runner.Stop()

	created, err := store.Create("report", []byte(`{}`), "Report", 0, 0)
	require.NoError(t, err)

	done := waitForStatus(t, store, created.ID, StatusComplete)
	assert.True(t, done.Success)

	// The runner left its liveness marker behind
	marker, err := hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, runner.pid, marker.PID)
}

func TestRunnerRecoversAbandonedTasksOnStart(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	registry := NewRegistry()
	store := NewStore(conn, registry, nil, nil)

	registerStub(registry, "report", &stubHandler{})

	// Simulate a crash: a claimed task whose start time is long past.
	created, err := store.Create("report", []byte(`{}`), "Report", 0, 0)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE tasks SET status = ?, start_time = ?, pid = 99999 WHERE id = ?`,
		StatusStarted, time.Now().Add(-time.Hour), created.ID)
	require.NoError(t, err)

	cfg := testRunnerConfig()
	cfg.ResetTimeout = time.Minute

	runner := NewRunner(store, nil, cfg, nil)
	runner.Start()
	defer runner.Stop()

	// The startup sweep resets the abandoned task and a worker reruns it
	done := waitForStatus(t, store, created.ID, StatusComplete)
	assert.True(t, done.Success)
	assert.GreaterOrEqual(t, done.Attempts, 1)
}

func TestRunnerStopAndRestart(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	registry := NewRegistry()
	store := NewStore(conn, registry, nil, nil)

	registerStub(registry, "report", &stubHandler{})

	runner := NewRunner(store, nil, testRunnerConfig(), nil)
	runner.Start()
	runner.Stop()

	// Restart recreates the worker context and keeps processing
	runner.Start()
	defer runner.Stop()

	created, err := store.Create("report", []byte(`{}`), "Report", 0, 0)
	require.NoError(t, err)

	waitForStatus(t, store, created.ID, StatusComplete)
}
