package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twtest "github.com/wrenlabs/taskwell/internal/testing"
)

func TestHeartbeatRoundTrip(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	hb := NewHeartbeat(conn)

	require.NoError(t, hb.SetRunning(1234, "taskwell"))

	marker, err := hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, 1234, marker.PID)
	assert.Equal(t, "taskwell", marker.Service)
}

func TestHeartbeatAbsent(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	hb := NewHeartbeat(conn)

	marker, err := hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	assert.Nil(t, marker, "no beat ever written means no runner")
}

func TestHeartbeatStaleness(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	hb := NewHeartbeat(conn)

	now := time.Now()
	hb.clock = func() time.Time { return now }
	require.NoError(t, hb.SetRunning(1234, "taskwell"))

	// Within the window the runner is alive
	hb.clock = func() time.Time { return now.Add(8 * time.Second) }
	marker, err := hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	assert.NotNil(t, marker)

	// Past the window it is considered gone
	hb.clock = func() time.Time { return now.Add(11 * time.Second) }
	marker, err = hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestHeartbeatTimeoutFloor(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	hb := NewHeartbeat(conn)

	now := time.Now()
	hb.clock = func() time.Time { return now }
	require.NoError(t, hb.SetRunning(1234, "taskwell"))

	// Beats are written at most every 3s, so a 1s timeout must not
	// report a healthy runner as gone 2s after its last beat.
	hb.clock = func() time.Time { return now.Add(2 * time.Second) }
	marker, err := hb.GetRunning(time.Second)
	require.NoError(t, err)
	assert.NotNil(t, marker, "staleness window is floored at the beat interval")
}

func TestHeartbeatRetriesAfterFailedWrite(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	hb := NewHeartbeat(conn)

	now := time.Now()
	hb.clock = func() time.Time { return now }

	// Break the table so the write fails
	_, err := conn.Exec(`DROP TABLE runner_heartbeat`)
	require.NoError(t, err)
	require.Error(t, hb.SetRunning(1234, "taskwell"))

	_, err = conn.Exec(`
		CREATE TABLE runner_heartbeat (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			beat_at TIMESTAMP NOT NULL,
			pid     INTEGER NOT NULL,
			service TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	// A failed write must not consume the rate-limit window: the very
	// next beat, still within 3s, has to land.
	require.NoError(t, hb.SetRunning(1234, "taskwell"))

	marker, err := hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, 1234, marker.PID)
}

func TestHeartbeatWriteRateLimit(t *testing.T) {
	conn := twtest.CreateTestDB(t)
	hb := NewHeartbeat(conn)

	now := time.Now()
	hb.clock = func() time.Time { return now }
	require.NoError(t, hb.SetRunning(1234, "taskwell"))

	// A beat 1s later is suppressed: the stored marker keeps the old pid
	hb.clock = func() time.Time { return now.Add(time.Second) }
	require.NoError(t, hb.SetRunning(9999, "taskwell"))

	marker, err := hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, 1234, marker.PID)

	// Past the interval the write lands
	hb.clock = func() time.Time { return now.Add(4 * time.Second) }
	require.NoError(t, hb.SetRunning(9999, "taskwell"))

	marker, err = hb.GetRunning(10 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, 9999, marker.PID)
}
