package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/pkg/types"
)

// ErrInjected is returned by Faulty for injected failures.
var ErrInjected = errors.New("injected fault")

// Faulty wraps a Backend and injects failures. All counters are 1-based
// call numbers; zero disables the fault.
type Faulty struct {
	disk.Backend

	mu sync.Mutex

	// FailWriteAt fails the Nth WriteTrack call.
	FailWriteAt int
	// FailWritesFrom fails every WriteTrack call from the Nth on.
	FailWritesFrom int
	// FailReadAt fails the Nth ReadTrack call.
	FailReadAt int
	// FailReads fails every ReadTrack call.
	FailReads bool
	// CorruptReads flips the first byte of the first N ReadTrack results.
	CorruptReads int
	// FailGeometry makes Geometry fail.
	FailGeometry bool
	// ReadDelay stalls every ReadTrack call.
	ReadDelay time.Duration

	reads  int
	writes int
	log    []types.Location
	calls  []string
}

// NewFaulty wraps b with no faults enabled.
func NewFaulty(b disk.Backend) *Faulty {
	return &Faulty{Backend: b}
}

func (f *Faulty) ReadTrack(cyl, head int) ([]byte, error) {
	f.mu.Lock()
	f.reads++
	n := f.reads
	fail := f.FailReads || n == f.FailReadAt
	corrupt := n <= f.CorruptReads
	delay := f.ReadDelay
	f.calls = append(f.calls, "read "+types.TrackLoc(cyl, head).String())
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, ErrInjected
	}
	data, err := f.Backend.ReadTrack(cyl, head)
	if err != nil {
		return nil, err
	}
	if corrupt && len(data) > 0 {
		data[0] ^= 0xFF
	}
	return data, nil
}

func (f *Faulty) WriteTrack(cyl, head int, data []byte) error {
	f.mu.Lock()
	f.writes++
	n := f.writes
	fail := n == f.FailWriteAt || (f.FailWritesFrom > 0 && n >= f.FailWritesFrom)
	f.calls = append(f.calls, "write "+types.TrackLoc(cyl, head).String())
	if !fail {
		f.log = append(f.log, types.TrackLoc(cyl, head))
	}
	f.mu.Unlock()

	if fail {
		return ErrInjected
	}
	return f.Backend.WriteTrack(cyl, head, data)
}

func (f *Faulty) Geometry() (types.Geometry, error) {
	if f.FailGeometry {
		return types.Geometry{}, ErrInjected
	}
	return f.Backend.Geometry()
}

// Reads returns the number of ReadTrack calls so far.
func (f *Faulty) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Writes returns the number of WriteTrack calls so far, failed ones included.
func (f *Faulty) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Written lists the tracks of successful writes, in call order.
func (f *Faulty) Written() []types.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Location(nil), f.log...)
}

// Calls lists every ReadTrack and WriteTrack call in order, failed ones
// included, as "read c1/h0" or "write c1/h0".
func (f *Faulty) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Heal disables every fault.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailWriteAt, f.FailWritesFrom, f.FailReadAt, f.CorruptReads = 0, 0, 0, 0
	f.FailReads, f.FailGeometry = false, false
}
