package tx

import (
	"context"

	"github.com/joshuapare/floppykit/disk"
)

// TrackWrite is one track for WriteTracksAtomic.
type TrackWrite struct {
	Cylinder int
	Head     int
	Data     []byte
}

// WriteTrackAtomic writes one track in its own transaction.
func WriteTrackAtomic(ctx context.Context, b disk.Backend, cyl, head int, data []byte, opts Options) (*Result, error) {
	return WriteTracksAtomic(ctx, b, []TrackWrite{{Cylinder: cyl, Head: head, Data: data}}, opts)
}

// WriteTracksAtomic writes several tracks in one transaction: all of them
// land, or (with opts.AutoRollback and opts.CreateBackup) none do.
func WriteTracksAtomic(ctx context.Context, b disk.Backend, tracks []TrackWrite, opts Options) (_ *Result, err error) {
	m, err := Begin(b, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, t := range tracks {
		if err := m.AddTrack(t.Cylinder, t.Head, t.Data); err != nil {
			return nil, err
		}
	}
	return m.Commit(ctx)
}
