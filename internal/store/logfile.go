package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Log stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ExecutionDir returns the per-execution directory under the data root.
func (s *Store) ExecutionDir(id string) string {
	return filepath.Join(s.dataDir, "executions", id)
}

// LogPath returns the path of one raw log stream for an execution.
func (s *Store) LogPath(id, stream string) string {
	return filepath.Join(s.ExecutionDir(id), stream+".log")
}

// OpenLog creates (or appends to) the raw log file for one stream. The
// caller owns the returned writer and must close it when the process
// exits.
func (s *Store) OpenLog(id, stream string) (io.WriteCloser, error) {
	dir := s.ExecutionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create execution dir: %w", err)
	}
	f, err := os.OpenFile(s.LogPath(id, stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", stream, err)
	}
	return f, nil
}

// ReadLog returns the full contents of one raw log stream. A missing
// file reads as empty: an execution may exit before producing output.
func (s *Store) ReadLog(id, stream string) ([]byte, error) {
	data, err := os.ReadFile(s.LogPath(id, stream))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}
