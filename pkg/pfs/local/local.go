// Package local implements pkg/pfs against the node's own disk: each
// logical path becomes a file under a root directory, opened once and
// kept cached the way the teacher's cache package keeps chunk files
// open across writes.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tangramfs/tangramfs/pkg/pfs"
)

// Store is a disk-backed pfs.Store rooted at a single directory.
type Store struct {
	root string

	mu    sync.Mutex
	files map[string]*os.File
}

var _ pfs.Store = (*Store)(nil)

// New returns a Store that maps every logical path under root.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("pfs/local: create root %s: %w", root, err)
	}
	return &Store{root: root, files: make(map[string]*os.File)}, nil
}

// diskPath maps a logical path to a location under root, refusing to
// escape it.
func (s *Store) diskPath(logical string) (string, error) {
	clean := filepath.Clean("/" + logical)
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(filepath.Separator)) && full != filepath.Clean(s.root) {
		return "", fmt.Errorf("pfs/local: path %q escapes root", logical)
	}
	return full, nil
}

func (s *Store) handle(logical string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[logical]; ok {
		return f, nil
	}

	full, err := s.diskPath(logical)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("pfs/local: mkdir for %s: %w", logical, err)
	}
	f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pfs/local: open %s: %w", logical, err)
	}
	s.files[logical] = f
	return f, nil
}

// PRead implements pfs.Store.
func (s *Store) PRead(_ context.Context, path string, offset int64, p []byte) (int, error) {
	f, err := s.handle(path)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(p, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("pfs/local: read %s at %d: %w", path, offset, err)
	}
	return n, err
}

// PWrite implements pfs.Store.
func (s *Store) PWrite(_ context.Context, path string, offset int64, p []byte) (int, error) {
	f, err := s.handle(path)
	if err != nil {
		return 0, err
	}
	n, err := f.WriteAt(p, offset)
	if err != nil {
		return n, fmt.Errorf("pfs/local: write %s at %d: %w", path, offset, err)
	}
	return n, nil
}

// Flush implements pfs.Store by fsyncing the underlying file handle.
func (s *Store) Flush(_ context.Context, path string) error {
	f, err := s.handle(path)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("pfs/local: sync %s: %w", path, err)
	}
	return nil
}

// Stat implements pfs.Store.
func (s *Store) Stat(_ context.Context, path string) (int64, error) {
	full, err := s.diskPath(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return 0, pfs.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("pfs/local: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// Close closes every open file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for path, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pfs/local: close %s: %w", path, err)
		}
	}
	s.files = make(map[string]*os.File)
	return firstErr
}
