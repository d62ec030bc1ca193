package writer

import (
	"Go2NetVision/internal/metrics"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"
)

// FileSink writes artifacts into a directory. Every open file holds one
// permit from a pool shared by all writers, which bounds the number of
// descriptors open at once.
type FileSink struct {
	dir     string
	permits *semaphore.Weighted
	metrics *metrics.Metrics
}

// maxNameAttempts bounds the suffixes tried when a key produced several sessions.
const maxNameAttempts = 10000

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string, permits *semaphore.Weighted, m *metrics.Metrics) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir, permits: permits, metrics: m}, nil
}

// Write stores data as dir/name. The permit is taken before the file is
// created and returned after it is closed, on every path.
func (s *FileSink) Write(name string, data []byte) (string, error) {
	if err := s.permits.Acquire(context.Background(), 1); err != nil {
		return "", fmt.Errorf("failed to acquire open-file permit: %w", err)
	}
	s.metrics.PermitsChanged(1)
	defer func() {
		s.permits.Release(1)
		s.metrics.PermitsChanged(-1)
	}()

	file, path, err := s.create(name)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write artifact '%s': %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact '%s': %w", path, err)
	}
	return path, nil
}

// create opens a new file for name. If the name is taken, for example by an
// earlier session of the same flow, "_1", "_2", ... is inserted before the
// extension. Existing files are never overwritten.
func (s *FileSink) create(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create artifact '%s': %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("failed to create artifact '%s': too many sessions with this name", name)
}
