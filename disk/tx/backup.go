package tx

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Backup file layout (little-endian):
//
//	u32 magic 0x55465442 ("UFTB")
//	u32 version (1)
//	u32 entry count
//	per entry: u8 cylinder, u8 head, u8 valid, u64 size, size bytes
//
// Entries follow the staging order of the transaction that wrote them.
const (
	backupMagic   uint32 = 0x55465442
	backupVersion uint32 = 1

	// maxBackupEntry bounds a single entry read from disk.
	maxBackupEntry = types.MaxSectorsPerTrack * types.MaxBytesPerSector
)

// TrackBackup is one entry of a backup file.
type TrackBackup struct {
	Cylinder int
	Head     int
	Valid    bool
	Data     []byte
}

// backupSize must be called with m.mu held, or before the manager is shared.
func (m *Manager) backupSize() int64 {
	var n int64
	for _, c := range m.ops {
		if c.BackupValid {
			n += int64(len(c.Backup))
		}
	}
	return n
}

// BackupSize returns the bytes held by captured backups.
func (m *Manager) BackupSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupSize()
}

// BackupTrack captures backups for the staged operations on one track
// ahead of Commit.
func (m *Manager) BackupTrack(cyl, head int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return types.Errorf(types.ErrKindState, "tx %s: cannot back up in state %s", m.id, m.state)
	}
	found := false
	for i, c := range m.ops {
		if c.Cylinder != cyl || c.Head != head {
			continue
		}
		found = true
		if err := c.CaptureBackup(m.b); err != nil {
			return &types.OpError{Index: i, Op: "backup", Loc: c.Loc(), Err: err}
		}
	}
	if !found {
		return types.Errorf(types.ErrKindInvalidArgument,
			"tx %s: nothing staged on %s", m.id, types.TrackLoc(cyl, head))
	}
	return nil
}

// BackupAll captures backups for every staged operation ahead of Commit.
func (m *Manager) BackupAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending {
		return types.Errorf(types.ErrKindState, "tx %s: cannot back up in state %s", m.id, m.state)
	}
	for i, c := range m.ops {
		if err := c.CaptureBackup(m.b); err != nil {
			return &types.OpError{Index: i, Op: "backup", Loc: c.Loc(), Err: err}
		}
	}
	return nil
}

// SaveBackup writes the captured backups to path, one entry per staged
// operation.
func (m *Manager) SaveBackup(path string) error {
	m.mu.Lock()
	entries := make([]TrackBackup, len(m.ops))
	for i, c := range m.ops {
		entries[i] = TrackBackup{Cylinder: c.Cylinder, Head: c.Head, Valid: c.BackupValid, Data: c.Backup}
	}
	m.mu.Unlock()

	if err := WriteBackupFile(path, entries); err != nil {
		return err
	}
	m.log.Info("backup saved", "path", path, "entries", len(entries))
	return nil
}

// LoadBackup reads a backup file written by SaveBackup for the same staged
// operations and installs its valid entries as the operations' backups.
// Loading into a Failed transaction makes Rollback possible after a crash
// or a commit without CreateBackup.
func (m *Manager) LoadBackup(path string) error {
	entries, err := ReadBackupFile(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePending && m.state != StateFailed {
		return types.Errorf(types.ErrKindState, "tx %s: cannot load backup in state %s", m.id, m.state)
	}
	if len(entries) != len(m.ops) {
		return types.Errorf(types.ErrKindInvalidArgument,
			"backup %s has %d entries, transaction has %d operations", path, len(entries), len(m.ops))
	}
	ts := m.geom.TrackSize()
	for i, e := range entries {
		c := m.ops[i]
		if e.Cylinder != c.Cylinder || e.Head != c.Head {
			return types.Errorf(types.ErrKindInvalidArgument,
				"backup entry %d is for %s, operation targets %s",
				i, types.TrackLoc(e.Cylinder, e.Head), types.TrackLoc(c.Cylinder, c.Head))
		}
		if e.Valid && len(e.Data) != ts {
			return types.Errorf(types.ErrKindInvalidArgument,
				"backup entry %d: %d bytes, track holds %d", i, len(e.Data), ts)
		}
	}
	for i, e := range entries {
		if e.Valid {
			m.ops[i].Backup, m.ops[i].BackupValid = e.Data, true
		}
	}
	m.log.Info("backup loaded", "path", path, "entries", len(entries))
	return nil
}

// WriteBackupFile writes entries to path in the backup file format.
func WriteBackupFile(path string, entries []TrackBackup) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return types.Wrap(types.ErrKindIO, "create backup file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = types.Wrap(types.ErrKindIO, "close backup file", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	if err := encodeBackup(w, entries); err != nil {
		return types.Wrap(types.ErrKindIO, "write backup file", err)
	}
	if err := w.Flush(); err != nil {
		return types.Wrap(types.ErrKindIO, "write backup file", err)
	}
	return nil
}

func encodeBackup(w io.Writer, entries []TrackBackup) error {
	le := binary.LittleEndian
	hdr := le.AppendUint32(nil, backupMagic)
	hdr = le.AppendUint32(hdr, backupVersion)
	hdr = le.AppendUint32(hdr, uint32(len(entries)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	for _, e := range entries {
		if e.Cylinder < 0 || e.Cylinder > 0xFF || e.Head < 0 || e.Head > 0xFF {
			return fmt.Errorf("entry %s does not fit the backup format", types.TrackLoc(e.Cylinder, e.Head))
		}
		var size uint64
		var valid byte
		if e.Valid {
			valid, size = 1, uint64(len(e.Data))
		}
		rec := []byte{byte(e.Cylinder), byte(e.Head), valid}
		rec = le.AppendUint64(rec, size)
		if _, err := w.Write(rec); err != nil {
			return err
		}
		if e.Valid {
			if _, err := w.Write(e.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadBackupFile reads a backup file.
func ReadBackupFile(path string) ([]TrackBackup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, "open backup file", err)
	}
	defer f.Close()

	entries, err := decodeBackup(bufio.NewReader(f))
	if err != nil {
		if _, ok := types.KindOf(err); ok {
			return nil, err
		}
		return nil, types.Wrap(types.ErrKindIO, "read backup file "+path, err)
	}
	return entries, nil
}

func decodeBackup(r io.Reader) ([]TrackBackup, error) {
	le := binary.LittleEndian
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, types.Wrap(types.ErrKindInvalidArgument, "backup header", err)
	}
	if magic := le.Uint32(hdr[0:]); magic != backupMagic {
		return nil, types.Errorf(types.ErrKindInvalidArgument, "not a backup file (magic %#08x)", magic)
	}
	if v := le.Uint32(hdr[4:]); v != backupVersion {
		return nil, types.Errorf(types.ErrKindInvalidArgument, "unsupported backup version %d", v)
	}
	count := le.Uint32(hdr[8:])

	entries := make([]TrackBackup, 0, min(count, 1024))
	var rec [11]byte
	for i := range count {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, noEOF(err))
		}
		e := TrackBackup{Cylinder: int(rec[0]), Head: int(rec[1]), Valid: rec[2] != 0}
		size := le.Uint64(rec[3:])
		if size > maxBackupEntry {
			return nil, types.Errorf(types.ErrKindInvalidArgument, "entry %d: size %d too large", i, size)
		}
		if e.Valid && size > 0 {
			e.Data = make([]byte, size)
			if _, err := io.ReadFull(r, e.Data); err != nil {
				return nil, fmt.Errorf("entry %d data: %w", i, noEOF(err))
			}
		} else {
			e.Valid = false
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// RestoreBackupFile writes every valid entry of a backup file back to b,
// last entry first, and returns the number of tracks restored. Restoring
// continues past failures; the returned error joins them.
func RestoreBackupFile(ctx context.Context, b disk.Backend, path string) (int, error) {
	entries, err := ReadBackupFile(path)
	if err != nil {
		return 0, err
	}
	var (
		restored int
		errs     []error
	)
	for i := len(entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, types.FromContext(err))
			break
		}
		e := entries[i]
		if !e.Valid {
			continue
		}
		if err := b.WriteTrack(e.Cylinder, e.Head, e.Data); err != nil {
			loc := types.TrackLoc(e.Cylinder, e.Head)
			errs = append(errs, &types.OpError{Index: i, Op: "restore", Loc: loc,
				Err: types.Wrap(types.ErrKindIO, "restore "+loc.String(), err)})
			continue
		}
		restored++
	}
	return restored, errors.Join(errs...)
}
