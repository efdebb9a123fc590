// Package scratch implements the node-local, append-only byte store a
// file session buffers its writes into before they are posted or
// flushed (§4.5's "append buf to the scratch file"). One Store backs
// one (file, rank) pair.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// escapePath turns a logical file path into a token safe to embed in a
// scratch file name, per the `tfs_tmp.<escaped_path>.<rank>` layout.
func escapePath(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(trimmed)
}

// FileName returns the scratch file name for file at rank within
// bufferDir, without joining the directory.
func FileName(file string, rank int) string {
	return fmt.Sprintf("tfs_tmp.%s.%d", escapePath(file), rank)
}

// Store is one rank's append-only scratch file for one logical file.
// Append is the only mutator; ReadAt satisfies extent.ScratchReader so
// the Extent Index can read straight out of it.
type Store struct {
	path string

	mu   sync.Mutex
	f    *os.File
	size int64
}

// Open creates (truncating any stale content) the scratch file for
// file at rank under bufferDir.
func Open(bufferDir, file string, rank int) (*Store, error) {
	if err := os.MkdirAll(bufferDir, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create buffer dir %s: %w", bufferDir, err)
	}
	path := filepath.Join(bufferDir, FileName(file, rank))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("scratch: open %s: %w", path, err)
	}
	return &Store{path: path, f: f}, nil
}

// Append writes p to the end of the scratch file and returns the
// offset it was written at.
func (s *Store) Append(p []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.size
	n, err := s.f.WriteAt(p, offset)
	if err != nil {
		return 0, fmt.Errorf("scratch: append to %s: %w", s.path, err)
	}
	s.size += int64(n)
	return offset, nil
}

// ReadAt implements extent.ScratchReader.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the number of bytes appended so far.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Path returns the scratch file's location on disk.
func (s *Store) Path() string {
	return s.path
}

// Close closes and removes the scratch file; once a file session
// closes there is nothing left to buffer.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.f.Close(); err != nil {
		return fmt.Errorf("scratch: close %s: %w", s.path, err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scratch: remove %s: %w", s.path, err)
	}
	return nil
}
