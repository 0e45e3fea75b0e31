// Package ringlog implements the bounded, FIFO command log described in
// aesd_ioctl.h and aesdchar.c: a fixed-capacity ring of write commands with
// position-addressed reads and command/offset seek resolution.
package ringlog

import (
	"errors"
	"sync"
)

// ErrInvalidSeek is returned by SeekToCommand when the command index or
// intra-command offset is out of range for the live entries.
var ErrInvalidSeek = errors.New("ringlog: invalid command/offset")

// Entry is one newline-terminated write command retained in the log. Once
// admitted, its bytes are never mutated — callers must treat the returned
// slice as read-only.
type Entry struct {
	data []byte
}

// Size returns the entry's length in bytes.
func (e Entry) Size() int { return len(e.data) }

// Bytes returns the entry's payload. The caller must not modify it.
func (e Entry) Bytes() []byte { return e.data }

// Log is a fixed-capacity ring of Entry slots, matching struct
// aesd_circular_buffer: inOffs is the next slot to write, outOffs is the
// oldest live entry, full marks saturation.
//
// Log carries its own mutex so it is independently safe for concurrent use,
// but in this daemon every caller reaches it through device.Surface's
// single mutex first — this lock is defense in depth, not the primary
// serialization point (see aesd_adjust_file_offset and aesd_write in
// aesdchar.c, which both run under dev->lock).
type Log struct {
	mu      sync.Mutex
	entries []Entry
	inOffs  int
	outOffs int
	full    bool
}

// New creates an empty ring with room for capacity live entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		panic("ringlog: capacity must be positive")
	}
	return &Log{entries: make([]Entry, capacity)}
}

// Capacity returns the fixed number of slots in the ring.
func (l *Log) Capacity() int {
	return len(l.entries)
}

// liveCount returns the number of currently live entries. Caller must hold l.mu.
func (l *Log) liveCount() int {
	n := len(l.entries)
	if l.full {
		return n
	}
	return ((l.inOffs - l.outOffs) + n) % n
}

// Push inserts a new entry, evicting and releasing the oldest one first if
// the ring is full. Ownership of entry's bytes transfers to the ring.
func (l *Log) Push(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if l.full {
		// Release the outgoing entry's storage before overwriting the slot.
		l.entries[l.inOffs] = Entry{}
		l.outOffs = (l.outOffs + 1) % n
	}
	l.entries[l.inOffs] = entry
	l.inOffs = (l.inOffs + 1) % n
	if l.inOffs == l.outOffs {
		l.full = true
	}
}

// TotalSize returns the sum of sizes of all live entries.
func (l *Log) TotalSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSizeLocked()
}

func (l *Log) totalSizeLocked() int64 {
	var total int64
	n := len(l.entries)
	count := l.liveCount()
	idx := l.outOffs
	for i := 0; i < count; i++ {
		total += int64(l.entries[idx].Size())
		idx = (idx + 1) % n
	}
	return total
}

// Resolve walks the live entries oldest-to-newest, summing sizes, to find
// the entry containing logical position p and the offset within it. The
// second return value reports whether an entry was found (p < total size).
func (l *Log) Resolve(p int64) (Entry, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p < 0 {
		return Entry{}, 0, false
	}
	n := len(l.entries)
	count := l.liveCount()
	idx := l.outOffs
	var cum int64
	for i := 0; i < count; i++ {
		e := l.entries[idx]
		sz := int64(e.Size())
		if p < cum+sz {
			return e, int(p - cum), true
		}
		cum += sz
		idx = (idx + 1) % n
	}
	return Entry{}, 0, false
}

// SeekToCommand resolves the k-th live entry (counting from oldest) plus an
// intra-entry offset into an absolute logical position, exactly matching
// aesd_adjust_file_offset in aesdchar.c: fails if k is out of range or off
// is at or beyond the target entry's size.
func (l *Log) SeekToCommand(k uint32, off uint32) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	count := l.liveCount()
	if int(k) >= count {
		return 0, ErrInvalidSeek
	}

	targetIdx := (l.outOffs + int(k)) % n
	if off >= uint32(l.entries[targetIdx].Size()) {
		return 0, ErrInvalidSeek
	}

	var pos int64
	idx := l.outOffs
	for i := uint32(0); i < k; i++ {
		pos += int64(l.entries[idx].Size())
		idx = (idx + 1) % n
	}
	pos += int64(off)
	return pos, nil
}

// ForEach iterates live entries oldest-to-newest. Used only at teardown.
func (l *Log) ForEach(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	count := l.liveCount()
	idx := l.outOffs
	for i := 0; i < count; i++ {
		fn(l.entries[idx])
		idx = (idx + 1) % n
	}
}

// NewEntry wraps data as an Entry without copying. Callers must not retain
// or mutate data afterward — ownership transfers to the caller of Push.
func NewEntry(data []byte) Entry {
	return Entry{data: data}
}
