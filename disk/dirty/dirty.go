package dirty

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

const (
	// defaultRangeCapacity covers a full 84-cylinder double-sided disk
	// written track by track.
	defaultRangeCapacity = 168

	// standardPageSize is the typical OS page size (4KB).
	standardPageSize = 4096
)

// FlushMode controls durability guarantees for a flush.
type FlushMode int

const (
	// FlushAuto persists dirty ranges and then calls fdatasync().
	// On macOS, uses fsync.
	FlushAuto FlushMode = iota

	// FlushDataOnly only persists dirty ranges (msync or positioned writes).
	// The caller is responsible for syncing the file descriptor later.
	FlushDataOnly

	// FlushFull persists dirty ranges and forces write-through to the
	// device. On macOS, uses F_FULLFSYNC.
	FlushFull
)

func (m FlushMode) String() string {
	switch m {
	case FlushAuto:
		return "auto"
	case FlushDataOnly:
		return "data-only"
	case FlushFull:
		return "full"
	default:
		return fmt.Sprintf("FlushMode(%d)", int(m))
	}
}

// ParseFlushMode maps "auto", "data-only" and "full" to a FlushMode.
func ParseFlushMode(s string) (FlushMode, error) {
	switch s {
	case "", "auto":
		return FlushAuto, nil
	case "data-only", "data":
		return FlushDataOnly, nil
	case "full":
		return FlushFull, nil
	}
	return FlushAuto, fmt.Errorf("unknown flush mode %q", s)
}

// Range represents a dirty byte range (absolute image offsets).
type Range struct {
	Off int64 // Absolute offset in the image
	Len int64 // Length in bytes
}

// Tracker accumulates dirty ranges and flushes them efficiently.
//
// Add and Flush may be called from different goroutines.
type Tracker struct {
	mu       sync.Mutex
	t        Target
	ranges   []Range // raw ranges, coalesced at flush time
	pageSize int64
}

// NewTracker creates a dirty tracker for the given image.
func NewTracker(t Target) *Tracker {
	return &Tracker{
		t:        t,
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: standardPageSize,
	}
}

// Add records a dirty range. Ranges are page-aligned and merged at flush time.
func (tr *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	tr.mu.Lock()
	tr.ranges = append(tr.ranges, Range{Off: int64(off), Len: int64(length)})
	tr.mu.Unlock()
}

// Pending reports how many raw ranges are waiting to be flushed.
func (tr *Tracker) Pending() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.ranges)
}

// FlushData persists all dirty ranges without syncing the file descriptor.
//
// The context is checked between ranges. If cancelled mid-way, the ranges
// already persisted stay persisted and the remainder stays tracked.
func (tr *Tracker) FlushData(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if len(tr.ranges) == 0 {
		return nil
	}
	data := tr.t.Bytes()
	if len(data) == 0 {
		tr.ranges = tr.ranges[:0]
		return nil
	}

	coalesced := tr.coalesce()
	for i, r := range coalesced {
		if err := ctx.Err(); err != nil {
			tr.ranges = append(tr.ranges[:0], coalesced[i:]...)
			return err
		}
		start, end := clampRange(r, len(data))
		if start >= end {
			continue
		}
		if err := tr.flushRange(data, start, end); err != nil {
			tr.ranges = append(tr.ranges[:0], coalesced[i:]...)
			return fmt.Errorf("flush range [%d,%d): %w", start, end, err)
		}
	}

	tr.ranges = tr.ranges[:0]
	return nil
}

// Flush persists all dirty ranges and then syncs the backing file
// according to mode.
func (tr *Tracker) Flush(ctx context.Context, mode FlushMode) error {
	if err := tr.FlushData(ctx); err != nil {
		return err
	}
	if mode == FlushDataOnly {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f := tr.t.File()
	if f == nil {
		return nil
	}
	return syncFile(f, mode == FlushFull)
}

// Reset drops all tracked ranges without flushing them.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	tr.ranges = tr.ranges[:0]
	tr.mu.Unlock()
}

// Ranges returns the coalesced ranges a flush would persist.
func (tr *Tracker) Ranges() []Range {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.coalesce()
}

func (tr *Tracker) flushRange(data []byte, start, end int) error {
	if tr.t.Mapped() {
		return msync(data, start, end)
	}
	f := tr.t.File()
	if f == nil {
		return nil
	}
	return writeBack(f, data, start, end)
}

// writeBack persists a buffered (not mapped) range with a positioned write.
func writeBack(f *os.File, data []byte, start, end int) error {
	_, err := f.WriteAt(data[start:end], int64(start))
	return err
}

func clampRange(r Range, size int) (int, int) {
	start := int(r.Off)
	end := int(r.Off + r.Len)
	if end > size {
		end = size
	}
	return start, end
}

// coalesce page-aligns all ranges, sorts them, and merges overlapping/adjacent ranges.
//
// Returns a new slice of non-overlapping, sorted ranges.
func (tr *Tracker) coalesce() []Range {
	if len(tr.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(tr.ranges))
	for i, r := range tr.ranges {
		start := (r.Off / tr.pageSize) * tr.pageSize

		end := r.Off + r.Len
		if end%tr.pageSize != 0 {
			end = ((end / tr.pageSize) + 1) * tr.pageSize
		}

		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]

	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			end := max(current.Off+current.Len, next.Off+next.Len)
			current.Len = end - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}

	return append(merged, current)
}
