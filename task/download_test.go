package task

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenlabs/taskwell/errors"
)

// downloadStub is a stubHandler that also serves its own downloads.
type downloadStub struct {
	stubHandler
	content string
}

func (h *downloadStub) OpenDownload(t *Task, filename, mimetype string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(h.content)), nil
}

func completeTaskWithResult(t *testing.T, store *Store, command, result string) *Task {
	t.Helper()
	created, err := store.Create(command, []byte(`{}`), "Download test", 0, 0)
	require.NoError(t, err)
	_, err = store.GetWait(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Run(context.Background(), created.ID, 0))

	done, err := store.Get(created.ID)
	require.NoError(t, err)
	return done
}

func TestOpenResultViaHandler(t *testing.T) {
	store, registry, _ := newTestStore(t)

	stub := &downloadStub{content: "report contents"}
	stub.run = func(rc *Run) error {
		rc.Complete("ready", "report.xlsx")
		return nil
	}
	registry.Register("export", func() Handler { return stub })

	done := completeTaskWithResult(t, store, "export", "report.xlsx")

	rc, err := store.OpenResult(done.ID, "report.xlsx", "application/octet-stream")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "report contents", string(data))
}

func TestOpenResultPathFallback(t *testing.T) {
	store, registry, _ := newTestStore(t)

	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c"), 0o644))

	registerStub(registry, "export", &stubHandler{
		run: func(rc *Run) error {
			rc.Complete("ready", path)
			return nil
		},
	})

	done := completeTaskWithResult(t, store, "export", path)

	rc, err := store.OpenResult(done.ID, "export.csv", "text/csv")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", string(data))
}

func TestOpenResultRefusedBeforeCompletion(t *testing.T) {
	store, registry, _ := newTestStore(t)
	registerStub(registry, "export", &stubHandler{})

	created, err := store.Create("export", []byte(`{}`), "Pending", 0, 0)
	require.NoError(t, err)

	_, err = store.OpenResult(created.ID, "f", "m")
	assert.Error(t, err)
}

func TestOpenResultMissingFile(t *testing.T) {
	store, registry, _ := newTestStore(t)
	registerStub(registry, "export", &stubHandler{
		run: func(rc *Run) error {
			rc.Complete("ready", "/nonexistent/file.bin")
			return nil
		},
	})

	done := completeTaskWithResult(t, store, "export", "/nonexistent/file.bin")

	_, err := store.OpenResult(done.ID, "f", "m")
	assert.True(t, errors.IsNotFoundError(err))
}
