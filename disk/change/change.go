// Package change defines Change, one staged write against a disk Backend:
// where it goes, the bytes it carries, the pre-write backup it owns and the
// outcome of executing it.
//
// Changes are owned by exactly one transaction or preview analyzer. The
// backup buffer lives on the Change value and goes away with it.
package change

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Kind is the type of a staged write.
type Kind int

const (
	WriteTrack Kind = iota
	WriteSector
	WriteFlux
	FormatTrack
	EraseTrack
)

var kindNames = [...]string{
	WriteTrack:  "write_track",
	WriteSector: "write_sector",
	WriteFlux:   "write_flux",
	FormatTrack: "format_track",
	EraseTrack:  "erase_track",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

const (
	// DefaultFill is the byte a formatted track is filled with.
	DefaultFill byte = 0xE5
	// EraseFill is the byte an erased track is filled with.
	EraseFill byte = 0x00
)

// Change is one staged write.
type Change struct {
	Kind     Kind
	Cylinder int
	Head     int
	Sector   int    // types.WholeTrack unless Kind is WriteSector
	Data     []byte // payload; empty for FormatTrack and EraseTrack
	Fill     byte   // filler for FormatTrack and EraseTrack

	Backup      []byte // whole-track contents captured before the first write
	BackupValid bool
	Executed    bool  // write completed successfully
	Touched     bool  // a write reached the medium, even if verification later failed
	RolledBack  bool  // restored from Backup
	Err         error // outcome of the last attempt
}

// NewTrack stages a track write. Data shorter than the track overwrites the
// start of the track and keeps the rest.
func NewTrack(cyl, head int, data []byte) *Change {
	return &Change{Kind: WriteTrack, Cylinder: cyl, Head: head, Sector: types.WholeTrack, Data: clone(data)}
}

// NewSector stages a single sector write (sector numbers are 0-based).
func NewSector(cyl, head, sector int, data []byte) *Change {
	return &Change{Kind: WriteSector, Cylinder: cyl, Head: head, Sector: sector, Data: clone(data)}
}

// NewFlux stages raw flux timing samples for a track.
func NewFlux(cyl, head int, samples []uint32) *Change {
	return &Change{Kind: WriteFlux, Cylinder: cyl, Head: head, Sector: types.WholeTrack, Data: disk.EncodeFlux(samples)}
}

// NewFormat stages a track format with the given filler byte.
func NewFormat(cyl, head int, fill byte) *Change {
	return &Change{Kind: FormatTrack, Cylinder: cyl, Head: head, Sector: types.WholeTrack, Fill: fill}
}

// NewErase stages a track erase.
func NewErase(cyl, head int) *Change {
	return &Change{Kind: EraseTrack, Cylinder: cyl, Head: head, Sector: types.WholeTrack, Fill: EraseFill}
}

// Loc returns the change target.
func (c *Change) Loc() types.Location {
	return types.Location{Cylinder: c.Cylinder, Head: c.Head, Sector: c.Sector}
}

// Region returns the byte range of the track the change targets.
func (c *Change) Region(geom types.Geometry) (off, n int) {
	ts := geom.TrackSize()
	switch c.Kind {
	case WriteSector:
		return c.Sector * geom.BytesPerSector, geom.BytesPerSector
	case WriteTrack, WriteFlux:
		return 0, min(len(c.Data), ts)
	default:
		return 0, ts
	}
}

// Check validates the change against geom. It rejects anything that cannot
// be written; it does not judge whether a write is wise.
func (c *Change) Check(geom types.Geometry) error {
	if c.Kind < WriteTrack || c.Kind > EraseTrack {
		return types.Errorf(types.ErrKindInvalidArgument, "unknown change kind %d", int(c.Kind))
	}
	if c.Kind == WriteSector {
		if err := disk.CheckSector(geom, c.Cylinder, c.Head, c.Sector); err != nil {
			return err
		}
		if len(c.Data) != geom.BytesPerSector {
			return types.Errorf(types.ErrKindInvalidArgument,
				"sector %s: %d bytes, sector holds %d", c.Loc(), len(c.Data), geom.BytesPerSector)
		}
		return nil
	}
	if err := disk.CheckTrack(geom, c.Cylinder, c.Head); err != nil {
		return err
	}
	switch c.Kind {
	case WriteTrack, WriteFlux:
		if len(c.Data) == 0 {
			return types.Errorf(types.ErrKindInvalidArgument, "%s %s: empty payload", c.Kind, c.Loc())
		}
		if len(c.Data) > geom.TrackSize() {
			return types.Errorf(types.ErrKindInvalidArgument,
				"%s %s: %d bytes, track holds %d", c.Kind, c.Loc(), len(c.Data), geom.TrackSize())
		}
	}
	return nil
}

// NeedsCurrent reports whether composing the change depends on the track's
// current contents.
func (c *Change) NeedsCurrent(geom types.Geometry) bool {
	switch c.Kind {
	case WriteSector:
		return true
	case WriteTrack, WriteFlux:
		return len(c.Data) < geom.TrackSize()
	default:
		return false
	}
}

// Compose returns the full track image after applying the change to current.
// current may be nil when NeedsCurrent is false.
func (c *Change) Compose(current []byte, geom types.Geometry) ([]byte, error) {
	if err := c.Check(geom); err != nil {
		return nil, err
	}
	ts := geom.TrackSize()
	out := make([]byte, ts)
	copy(out, current)

	switch c.Kind {
	case WriteSector:
		copy(out[c.Sector*geom.BytesPerSector:], c.Data)
	case WriteTrack, WriteFlux:
		copy(out, c.Data)
	case FormatTrack, EraseTrack:
		fill(out, c.Fill)
	}
	return out, nil
}

// Apply writes the change through b, reading the track first when the
// change only covers part of it.
func (c *Change) Apply(b disk.Backend) error {
	geom, err := b.Geometry()
	if err != nil {
		return types.Wrap(types.ErrKindIO, "geometry", err)
	}
	var current []byte
	if c.NeedsCurrent(geom) {
		if current, err = b.ReadTrack(c.Cylinder, c.Head); err != nil {
			return wrapIO("read", c.Loc(), err)
		}
	}
	track, err := c.Compose(current, geom)
	if err != nil {
		return err
	}
	if err := b.WriteTrack(c.Cylinder, c.Head, track); err != nil {
		return wrapIO("write", c.Loc(), err)
	}
	return nil
}

// CaptureBackup reads the whole target track and keeps it on the change.
func (c *Change) CaptureBackup(b disk.Backend) error {
	data, err := b.ReadTrack(c.Cylinder, c.Head)
	if err != nil {
		c.Backup, c.BackupValid = nil, false
		return wrapIO("backup", c.Loc(), err)
	}
	c.Backup = clone(data)
	c.BackupValid = true
	return nil
}

// Restore writes the captured backup back to the track and marks the
// change RolledBack.
func (c *Change) Restore(b disk.Backend) error {
	if err := c.WriteBackup(b); err != nil {
		return err
	}
	c.RolledBack = true
	return nil
}

// WriteBackup writes the captured backup back to the track. Unlike Restore
// it leaves c unchanged.
func (c *Change) WriteBackup(b disk.Backend) error {
	if !c.BackupValid {
		return types.Wrap(types.ErrKindNoBackup, "restore "+types.TrackLoc(c.Cylinder, c.Head).String(), nil)
	}
	if err := b.WriteTrack(c.Cylinder, c.Head, c.Backup); err != nil {
		return wrapIO("restore", c.Loc(), err)
	}
	return nil
}

// ReleaseBackup drops the backup buffer.
func (c *Change) ReleaseBackup() {
	c.Backup, c.BackupValid = nil, false
}

// Clone returns a staged copy of c: same target and payload, no backup and
// no execution state.
func (c *Change) Clone() *Change {
	return &Change{
		Kind:     c.Kind,
		Cylinder: c.Cylinder,
		Head:     c.Head,
		Sector:   c.Sector,
		Data:     clone(c.Data),
		Fill:     c.Fill,
	}
}

// Samples decodes the flux payload of a WriteFlux change.
func (c *Change) Samples() []uint32 {
	if c.Kind != WriteFlux {
		return nil
	}
	return disk.DecodeFlux(c.Data)
}

func (c *Change) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", c.Kind, c.Loc(), len(c.Data))
}

// SameTarget reports whether a and b overwrite the same bytes.
func SameTarget(a, b *Change) bool {
	if a.Cylinder != b.Cylinder || a.Head != b.Head {
		return false
	}
	if a.Kind == WriteSector && b.Kind == WriteSector {
		return a.Sector == b.Sector
	}
	return true
}

// IsBlank reports whether every byte of data is zero.
func IsBlank(data []byte) bool {
	return len(bytes.Trim(data, "\x00")) == 0
}

func wrapIO(op string, loc types.Location, err error) error {
	if _, ok := types.KindOf(err); ok {
		return fmt.Errorf("%s %s: %w", op, loc, err)
	}
	return types.Wrap(types.ErrKindIO, op+" "+loc.String(), err)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
