package task

import (
	"io"
	"os"

	"github.com/wrenlabs/taskwell/errors"
)

// OpenResult opens a completed task's result for streaming. Handlers
// implementing DownloadResponder serve the content themselves; for all
// others the result string is treated as a filesystem path and the file
// is opened directly.
func (s *Store) OpenResult(id, filename, mimetype string) (io.ReadCloser, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !t.Done() {
		return nil, errors.Newf("task %s has not completed", id)
	}
	if t.Result == "" {
		return nil, errors.NewNotFoundError("task %s has no result", id)
	}

	handler, err := s.registry.Resolve(t.Command)
	if err != nil {
		return nil, err
	}

	if responder, ok := handler.(DownloadResponder); ok {
		rc, err := responder.OpenDownload(t, filename, mimetype)
		if err != nil {
			return nil, errors.Wrapf(err, "handler download failed for task %s", id)
		}
		return rc, nil
	}

	f, err := os.Open(t.Result)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("result file for task %s", id)
		}
		return nil, errors.Wrapf(err, "failed to open result for task %s", id)
	}
	return f, nil
}
