// Package persistedconfig reads and writes the small files a running
// job uses to locate its servers across process restarts: the global
// metadata/lock server's address (tfs.cfg), a per-node server's
// address (tfs-<hostname>.cfg), and the rank-ordered participant list
// (nodelist.txt). §6.
package persistedconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

// GlobalConfigName is the global metadata/lock server's config file,
// written under the job's persist directory.
const GlobalConfigName = "tfs.cfg"

// NodeConfigName returns the per-node server config file name for
// hostname, written under the job's buffer directory.
func NodeConfigName(hostname string) string {
	return fmt.Sprintf("tfs-%s.cfg", hostname)
}

// NodelistName is the flat, comma-separated list of participant
// hostnames in rank order.
const NodelistName = "nodelist.txt"

// WriteServerAddr atomically writes addr's wire encoding to path, so a
// racing reader never observes a half-written file.
func WriteServerAddr(path string, a addr.Address) error {
	var buf bytes.Buffer
	if err := a.Marshal(&buf); err != nil {
		return fmt.Errorf("persistedconfig: marshal %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("persistedconfig: write %s: %w", path, err)
	}
	return nil
}

// ReadServerAddr reads the address written by WriteServerAddr.
func ReadServerAddr(path string) (addr.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return addr.Address{}, fmt.Errorf("persistedconfig: open %s: %w", path, err)
	}
	defer f.Close()

	a, err := addr.Unmarshal(f)
	if err != nil {
		return addr.Address{}, fmt.Errorf("persistedconfig: decode %s: %w", path, err)
	}
	return a, nil
}

// WriteGlobalServerAddr writes the global server's address to
// <persistDir>/tfs.cfg.
func WriteGlobalServerAddr(persistDir string, a addr.Address) error {
	return WriteServerAddr(filepath.Join(persistDir, GlobalConfigName), a)
}

// WriteNodeServerAddr writes a per-node server's address to
// <bufferDir>/tfs-<hostname>.cfg.
func WriteNodeServerAddr(bufferDir, hostname string, a addr.Address) error {
	return WriteServerAddr(filepath.Join(bufferDir, NodeConfigName(hostname)), a)
}

// WriteNodelist atomically writes hosts, comma-separated in rank
// order, to <dir>/nodelist.txt.
func WriteNodelist(dir string, hosts []string) error {
	content := strings.Join(hosts, ",")
	if err := atomic.WriteFile(filepath.Join(dir, NodelistName), strings.NewReader(content)); err != nil {
		return fmt.Errorf("persistedconfig: write nodelist: %w", err)
	}
	return nil
}

// ReadNodelist reads the rank-ordered hostname list written by
// WriteNodelist. An empty file yields an empty, non-nil slice.
func ReadNodelist(dir string) ([]string, error) {
	path := filepath.Join(dir, NodelistName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persistedconfig: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var content strings.Builder
	for scanner.Scan() {
		content.WriteString(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("persistedconfig: read %s: %w", path, err)
	}

	s := content.String()
	if s == "" {
		return []string{}, nil
	}
	return strings.Split(s, ","), nil
}
