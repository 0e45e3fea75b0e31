// Package device implements the DeviceSurface: the single-lock façade over
// a ringlog.Log and an assembler.Assembler that aesdchar.c's aesd_read,
// aesd_write, aesd_llseek, and aesd_unlocked_ioctl present as one file
// descriptor's worth of operations, plus a per-session read cursor.
package device

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/aesdlog/aesdlogd/internal/assembler"
	"github.com/aesdlog/aesdlogd/internal/ringlog"
)

// Sentinel errors mirroring the outcome taxonomy in the design: Invalid,
// Interrupted, Fault. Oom surfaces as assembler.ErrOOM directly so callers
// can distinguish it without an extra wrap. Eof surfaces as io.EOF.
var (
	ErrInvalid     = errors.New("device: invalid argument")
	ErrInterrupted = errors.New("device: operation interrupted")
	// ErrFault mirrors the kernel-mode copy_to_user/copy_from_user failure
	// path. A userspace Go program has no such boundary, so this is never
	// produced except through FaultHook in tests.
	ErrFault = errors.New("device: copy fault")
)

// Anchor selects the base position for Seek, matching SEEK_SET/SEEK_CUR/SEEK_END.
type Anchor int

const (
	AnchorStart Anchor = iota
	AnchorCurrent
	AnchorEnd
)

// Session is a per-open-session read cursor (SessionCursor in the spec).
// It carries no other state and is owned exclusively by whichever caller
// holds it — Surface never looks a session up by ID, the caller passes the
// *Session back on every call.
type Session struct {
	ID     uuid.UUID
	cursor int64
}

// Cursor returns the session's current logical read position. Exposed for
// logging/diagnostics only — callers should not mutate it directly.
func (s *Session) Cursor() int64 { return s.cursor }

// Surface serializes all log operations through a single mutex, exactly as
// aesdchar.c's dev->lock guards dev->buffer and dev->working_entry
// together. The mutex is implemented as a size-1 channel so that
// acquisition can be interrupted by context cancellation, mirroring
// mutex_lock_interruptible's -ERESTARTSYS path.
type Surface struct {
	log *ringlog.Log
	asm *assembler.Assembler
	sem chan struct{}

	// FaultHook, when set, is consulted before each Read/Write and may
	// return ErrFault to simulate the kernel-mode copy boundary failing.
	// Tests use this; production code leaves it nil.
	FaultHook func() error
}

// New creates a Surface backed by a ring of the given capacity and an
// assembler bounded to maxCommandBytes (0 means unbounded).
func New(capacity, maxCommandBytes int) *Surface {
	s := &Surface{
		log: ringlog.New(capacity),
		asm: assembler.New(maxCommandBytes),
		sem: make(chan struct{}, 1),
	}
	s.sem <- struct{}{}
	return s
}

func (s *Surface) lock(ctx context.Context) error {
	select {
	case <-s.sem:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}

func (s *Surface) unlock() {
	s.sem <- struct{}{}
}

// Open creates a fresh session with cursor 0. No allocation beyond the
// cursor itself.
func (s *Surface) Open() *Session {
	return &Session{ID: uuid.New()}
}

// Release discards the session. It never touches the shared log.
func (s *Surface) Release(*Session) {}

// Read copies up to n bytes starting at the session's cursor, never
// crossing an entry boundary in one call — callers iterate to drain
// further. Returns a nil slice and io.EOF as the error when the cursor is at
// or past the total size.
func (s *Surface) Read(ctx context.Context, sess *Session, n int) ([]byte, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if s.FaultHook != nil {
		if err := s.FaultHook(); err != nil {
			return nil, err
		}
	}

	entry, off, ok := s.log.Resolve(sess.cursor)
	if !ok {
		return nil, io.EOF
	}

	avail := entry.Size() - off
	k := n
	if avail < k {
		k = avail
	}
	out := make([]byte, k)
	copy(out, entry.Bytes()[off:off+k])
	sess.cursor += int64(k)
	return out, nil
}

// Write appends chunk to the assembler and, if a command boundary (newline)
// was crossed, pushes the emitted entry into the log — evicting the oldest
// live entry first if the ring is full. Returns the chunk length on
// success, matching aesd_write's retval = count.
func (s *Surface) Write(ctx context.Context, sess *Session, chunk []byte) (int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()

	if s.FaultHook != nil {
		if err := s.FaultHook(); err != nil {
			return 0, err
		}
	}

	entry, emitted, err := s.asm.Append(chunk)
	if err != nil {
		return 0, err
	}
	if emitted {
		s.log.Push(entry)
	}
	return len(chunk), nil
}

// Seek repositions the session's cursor relative to the given anchor.
// Positions beyond the current total size are legal; a subsequent Read
// simply returns io.EOF.
func (s *Surface) Seek(ctx context.Context, sess *Session, offset int64, anchor Anchor) (int64, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()

	var base int64
	switch anchor {
	case AnchorStart:
		base = 0
	case AnchorCurrent:
		base = sess.cursor
	case AnchorEnd:
		base = s.log.TotalSize()
	default:
		return 0, ErrInvalid
	}

	newPos := base + offset
	if newPos < 0 {
		return 0, ErrInvalid
	}
	sess.cursor = newPos
	return newPos, nil
}

// SeekToCommand repositions the session's cursor to the start of the k-th
// live entry (oldest-first) plus off bytes, delegating the arithmetic to
// ringlog.Log.SeekToCommand — the Go equivalent of
// aesd_unlocked_ioctl/aesd_adjust_file_offset.
func (s *Surface) SeekToCommand(ctx context.Context, sess *Session, k, off uint32) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	pos, err := s.log.SeekToCommand(k, off)
	if err != nil {
		return ErrInvalid
	}
	sess.cursor = pos
	return nil
}
