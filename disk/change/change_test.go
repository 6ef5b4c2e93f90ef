package change

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/pkg/types"
)

var geom = types.Geometry{Cylinders: 4, Heads: 2, SectorsPerTrack: 4, BytesPerSector: 64}

func setupMemory(t *testing.T) *disk.Memory {
	t.Helper()
	img := make([]byte, geom.TotalBytes())
	for i := range img {
		img[i] = byte(i)
	}
	m, err := disk.NewMemoryFromImage(geom, img)
	require.NoError(t, err)
	return m
}

func TestCompose(t *testing.T) {
	current := bytes.Repeat([]byte{0x11}, geom.TrackSize())
	sector := bytes.Repeat([]byte{0x22}, geom.BytesPerSector)

	tests := []struct {
		name  string
		c     *Change
		check func(t *testing.T, out []byte)
	}{
		{"sector", NewSector(0, 0, 2, sector), func(t *testing.T, out []byte) {
			require.Equal(t, byte(0x11), out[2*64-1])
			require.Equal(t, sector, out[128:192])
			require.Equal(t, byte(0x11), out[192])
		}},
		{"partial track keeps tail", NewTrack(0, 0, []byte{1, 2, 3}), func(t *testing.T, out []byte) {
			require.Equal(t, []byte{1, 2, 3, 0x11}, out[:4])
		}},
		{"format", NewFormat(0, 0, DefaultFill), func(t *testing.T, out []byte) {
			require.Equal(t, bytes.Repeat([]byte{0xE5}, geom.TrackSize()), out)
		}},
		{"erase", NewErase(0, 0), func(t *testing.T, out []byte) {
			require.True(t, IsBlank(out))
		}},
		{"flux", NewFlux(0, 0, []uint32{0x10, 0x20}), func(t *testing.T, out []byte) {
			require.Equal(t, []byte{0x10, 0, 0, 0, 0x20, 0, 0, 0, 0x11}, out[:9])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.c.Compose(current, geom)
			require.NoError(t, err)
			require.Len(t, out, geom.TrackSize())
			tt.check(t, out)
		})
	}
}

func TestCheckRejectsUnwritableChanges(t *testing.T) {
	tests := []struct {
		name string
		c    *Change
	}{
		{"cylinder out of range", NewTrack(4, 0, []byte{1})},
		{"head out of range", NewFormat(0, 2, DefaultFill)},
		{"sector out of range", NewSector(0, 0, 4, make([]byte, 64))},
		{"short sector", NewSector(0, 0, 1, make([]byte, 10))},
		{"oversized track", NewTrack(0, 0, make([]byte, geom.TrackSize()+1))},
		{"empty track", NewTrack(0, 0, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.c.Check(geom), types.ErrInvalidArgument)
		})
	}
}

func TestApplySectorIsReadModifyWrite(t *testing.T) {
	m := setupMemory(t)
	before, err := m.ReadTrack(1, 1)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xFF}, geom.BytesPerSector)
	require.NoError(t, NewSector(1, 1, 3, data).Apply(m))

	after, err := m.ReadTrack(1, 1)
	require.NoError(t, err)
	require.Equal(t, before[:192], after[:192])
	require.Equal(t, data, after[192:])
}

func TestBackupAndRestore(t *testing.T) {
	m := setupMemory(t)
	original, err := m.ReadTrack(2, 0)
	require.NoError(t, err)

	c := NewErase(2, 0)
	require.NoError(t, c.CaptureBackup(m))
	require.True(t, c.BackupValid)
	require.Equal(t, original, c.Backup)

	require.NoError(t, c.Apply(m))
	erased, err := m.ReadTrack(2, 0)
	require.NoError(t, err)
	require.True(t, IsBlank(erased))

	require.NoError(t, c.Restore(m))
	require.True(t, c.RolledBack)
	restored, err := m.ReadTrack(2, 0)
	require.NoError(t, err)
	require.Equal(t, original, restored)

	require.NoError(t, c.Apply(m))
	c.RolledBack = false
	require.NoError(t, c.WriteBackup(m))
	require.False(t, c.RolledBack)
	restored, err = m.ReadTrack(2, 0)
	require.NoError(t, err)
	require.Equal(t, original, restored)

	c.ReleaseBackup()
	require.ErrorIs(t, c.Restore(m), types.ErrNoBackup)
	require.ErrorIs(t, c.WriteBackup(m), types.ErrNoBackup)
}

func TestBackupOfSectorCoversWholeTrack(t *testing.T) {
	m := setupMemory(t)
	c := NewSector(0, 1, 0, make([]byte, geom.BytesPerSector))
	require.NoError(t, c.CaptureBackup(m))
	require.Len(t, c.Backup, geom.TrackSize())
}

func TestCloneDropsExecutionState(t *testing.T) {
	c := NewTrack(1, 0, []byte{9, 9})
	c.Backup, c.BackupValid, c.Executed = []byte{1}, true, true

	cp := c.Clone()
	require.Equal(t, c.Data, cp.Data)
	require.False(t, cp.BackupValid)
	require.False(t, cp.Executed)
	require.Nil(t, cp.Backup)

	cp.Data[0] = 0
	require.Equal(t, byte(9), c.Data[0])
}

func TestNewTrackCopiesData(t *testing.T) {
	data := []byte{1, 2, 3}
	c := NewTrack(0, 0, data)
	data[0] = 7
	require.Equal(t, byte(1), c.Data[0])
}

func TestSameTargetAndRegion(t *testing.T) {
	a := NewSector(0, 0, 1, nil)
	b := NewSector(0, 0, 2, nil)
	require.False(t, SameTarget(a, b))
	require.True(t, SameTarget(a, NewTrack(0, 0, nil)))
	require.False(t, SameTarget(a, NewTrack(1, 0, nil)))

	off, n := a.Region(geom)
	require.Equal(t, 64, off)
	require.Equal(t, 64, n)

	off, n = NewTrack(0, 0, make([]byte, 10)).Region(geom)
	require.Zero(t, off)
	require.Equal(t, 10, n)

	require.Equal(t, []uint32{5, 6}, NewFlux(0, 0, []uint32{5, 6}).Samples())
	require.Equal(t, "write_sector c0/h0/s1 (0 bytes)", a.String())
}
