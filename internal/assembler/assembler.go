// Package assembler turns an arbitrary stream of byte chunks from
// independent writers into newline-terminated commands, mirroring
// aesd_write's krealloc/memchr logic in aesdchar.c.
package assembler

import (
	"bytes"
	"errors"

	"github.com/aesdlog/aesdlogd/internal/ringlog"
)

// ErrOOM is returned when growing the working buffer would exceed MaxSize.
// The working buffer is left unchanged on this error, exactly as a failed
// krealloc leaves dev->working_entry untouched in aesdchar.c.
var ErrOOM = errors.New("assembler: command exceeds maximum size")

// Assembler accumulates bytes into a single growable working buffer and
// emits one ringlog.Entry whenever a newline appears anywhere in it. Per
// the "full-buffer-on-newline quirk" the source exhibits, the emitted entry
// is the entire working buffer — including the newline and any bytes that
// arrived after it in the same chunk — not merely the bytes up to the
// newline. A single Assembler instance is not safe for concurrent use on
// its own; callers (device.Surface) must serialize access.
type Assembler struct {
	working []byte
	// MaxSize bounds the working buffer. Zero means unbounded, matching
	// the source, which never bounds dev->working_entry_size.
	MaxSize int
}

// New creates an empty Assembler. maxSize of 0 means unbounded.
func New(maxSize int) *Assembler {
	return &Assembler{MaxSize: maxSize}
}

// Append grows the working buffer by chunk and, if a newline is now present
// anywhere in it, emits the entire buffer as a ringlog.Entry and resets to
// empty. It returns the entry and true if one was emitted.
//
// On ErrOOM the working buffer is left exactly as it was before the call.
func (a *Assembler) Append(chunk []byte) (ringlog.Entry, bool, error) {
	if a.MaxSize > 0 && len(a.working)+len(chunk) > a.MaxSize {
		return ringlog.Entry{}, false, ErrOOM
	}

	a.working = append(a.working, chunk...)

	if idx := bytes.IndexByte(a.working, '\n'); idx >= 0 {
		entry := ringlog.NewEntry(a.working)
		a.working = nil
		return entry, true, nil
	}

	return ringlog.Entry{}, false, nil
}

// Pending returns a copy of the bytes currently buffered but not yet
// emitted as an entry. Used only for diagnostics.
func (a *Assembler) Pending() []byte {
	return append([]byte(nil), a.working...)
}
