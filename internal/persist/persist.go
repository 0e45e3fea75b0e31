// Package persist implements the alternate, file-backed build mentioned in
// aesdsocket.c's USE_AESD_CHAR_DEVICE toggle: instead of the bare in-memory
// ring, command bytes additionally mirror to a regular file so the log
// survives nothing (spec.md is explicit the ring itself never persists)
// but the last-written snapshot is inspectable on disk and removed on
// clean shutdown, matching "/var/tmp/aesdsocketdata" in the original.
package persist

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// Mirror durably reflects the full text of the log to a single file on
// disk. Every Append atomically replaces the file's contents via a
// temp-file-plus-rename (github.com/natefinch/atomic), so a crash mid-write
// never leaves a torn command on disk — unlike the original's raw
// O_APPEND writes, which can be torn by a power loss between write() and
// the next read.
type Mirror struct {
	path string
	mu   sync.Mutex
}

// Open prepares a Mirror at path without touching the file. The file is
// created by the first Append; any pre-existing content is kept, and
// appended data follows it.
func Open(path string) (*Mirror, error) {
	if path == "" {
		return nil, fmt.Errorf("persist: empty path")
	}
	return &Mirror{path: path}, nil
}

// Append adds data to the mirrored file's logical contents and atomically
// rewrites the file with the new full contents.
func (m *Mirror) Append(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := os.ReadFile(m.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persist: read %s: %w", m.path, err)
	}

	var sb strings.Builder
	sb.Write(existing)
	sb.Write(data)

	if err := atomic.WriteFile(m.path, strings.NewReader(sb.String())); err != nil {
		return fmt.Errorf("persist: write %s: %w", m.path, err)
	}
	return nil
}

// Remove deletes the backing file, matching the original's promise that
// /var/tmp/aesdsocketdata does not persist across a clean shutdown.
func (m *Mirror) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persist: remove %s: %w", m.path, err)
	}
	return nil
}
