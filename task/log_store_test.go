package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twtest "github.com/wrenlabs/taskwell/internal/testing"
)

func TestLogStoreCreateResetsStream(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	logs := NewLogStore(conn)

	require.NoError(t, logs.Create("task_abc", "first run"))
	require.NoError(t, logs.Info("task_abc", "working"))
	require.NoError(t, logs.Finish("task_abc", "done", true))

	// A fresh Create wipes the previous run's lines
	require.NoError(t, logs.Create("task_abc", "second run"))

	lines, err := logs.Lines("task_abc")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "second run", lines[0].Message)
	assert.False(t, lines[0].Finished)
}

func TestLogStoreLinesInOrder(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	logs := NewLogStore(conn)

	require.NoError(t, logs.Create("task_abc", "created"))
	require.NoError(t, logs.Info("task_abc", "step one"))
	require.NoError(t, logs.Write("task_abc", "step two", nil, 1, "info"))
	require.NoError(t, logs.Finish("task_abc", "all done", true))

	lines, err := logs.Lines("task_abc")
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.Equal(t, "created", lines[0].Message)
	assert.Equal(t, "step one", lines[1].Message)
	assert.Equal(t, 1, lines[2].Backtrack)

	last := lines[3]
	assert.Equal(t, "all done", last.Message)
	assert.True(t, last.Finished)
	require.NotNil(t, last.Success)
	assert.True(t, *last.Success)
}

func TestLogStoreProgressColumns(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	logs := NewLogStore(conn)

	require.NoError(t, logs.Create("task_abc", "created"))
	require.NoError(t, logs.Write("task_abc", "halfway", &Progress{Current: 5, Total: 10}, 0, "info"))

	lines, err := logs.Lines("task_abc")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Nil(t, lines[0].Progress)
	require.NotNil(t, lines[1].Progress)
	assert.Equal(t, 5, lines[1].Progress.Current)
	assert.Equal(t, 10, lines[1].Progress.Total)
}

func TestLogStoreThrottlesProgressWrites(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	logs := NewLogStore(conn)

	require.NoError(t, logs.Create("task_abc", "created"))

	// A burst of progress writes beyond the limiter burst gets dropped,
	// while plain lines always land.
	for i := 0; i < 100; i++ {
		require.NoError(t, logs.Write("task_abc", "progress", &Progress{Current: i, Total: 100}, 0, "info"))
	}
	require.NoError(t, logs.Info("task_abc", "still here"))

	lines, err := logs.Lines("task_abc")
	require.NoError(t, err)
	assert.Less(t, len(lines), 102, "progress burst was throttled")
	assert.Equal(t, "still here", lines[len(lines)-1].Message)
}

func TestStreamsAreIndependent(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	logs := NewLogStore(conn)

	require.NoError(t, logs.Create("task_a", "a"))
	require.NoError(t, logs.Create("task_b", "b"))
	require.NoError(t, logs.Info("task_a", "only a"))

	aLines, err := logs.Lines("task_a")
	require.NoError(t, err)
	assert.Len(t, aLines, 2)

	bLines, err := logs.Lines("task_b")
	require.NoError(t, err)
	assert.Len(t, bLines, 1)
}
