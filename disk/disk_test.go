package disk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/floppykit/disk/dirty"
	"github.com/joshuapare/floppykit/pkg/types"
)

var smallGeom = types.Geometry{Cylinders: 4, Heads: 2, SectorsPerTrack: 4, BytesPerSector: 128}

func Test_Memory_ReadWriteTrack(t *testing.T) {
	m, err := NewMemory(smallGeom)
	require.NoError(t, err)

	track := bytes.Repeat([]byte{0xAA}, smallGeom.TrackSize())
	require.NoError(t, m.WriteTrack(2, 1, track))

	got, err := m.ReadTrack(2, 1)
	require.NoError(t, err)
	require.Equal(t, track, got)

	// The returned slice is a copy.
	got[0] = 0
	again, err := m.ReadTrack(2, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), again[0])

	img := m.Bytes()
	off := smallGeom.TrackOffset(2, 1)
	require.Equal(t, track, img[off:off+int64(smallGeom.TrackSize())])
}

func Test_Memory_RejectsBadArguments(t *testing.T) {
	m, err := NewMemory(smallGeom)
	require.NoError(t, err)

	_, err = m.ReadTrack(4, 0)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	err = m.WriteTrack(0, 0, []byte{1, 2, 3})
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = NewMemoryFromImage(smallGeom, make([]byte, 10))
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = NewMemory(types.Geometry{})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func Test_ReadImage_SplitTracks(t *testing.T) {
	src := make([]byte, smallGeom.TotalBytes())
	for i := range src {
		src[i] = byte(i / smallGeom.TrackSize())
	}
	m, err := NewMemoryFromImage(smallGeom, src)
	require.NoError(t, err)

	img, err := ReadImage(m)
	require.NoError(t, err)
	require.Equal(t, src, img)

	tracks, err := SplitTracks(smallGeom, img)
	require.NoError(t, err)
	require.Len(t, tracks, smallGeom.Tracks())
	require.Equal(t, byte(smallGeom.TrackIndex(3, 1)), tracks[smallGeom.TrackIndex(3, 1)][0])
}

func Test_CheckSector(t *testing.T) {
	require.NoError(t, CheckSector(smallGeom, 0, 0, 3))
	require.ErrorIs(t, CheckSector(smallGeom, 0, 0, 4), types.ErrInvalidArgument)
	require.ErrorIs(t, CheckSector(smallGeom, 0, 0, -1), types.ErrInvalidArgument)
	require.ErrorIs(t, CheckSector(smallGeom, 0, 2, 0), types.ErrInvalidArgument)
}

func Test_Image_WriteFlushReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	img, err := Create(path, smallGeom)
	require.NoError(t, err)

	track := bytes.Repeat([]byte{0x5A}, smallGeom.TrackSize())
	require.NoError(t, img.WriteTrack(1, 0, track))
	require.Equal(t, 1, img.Dirty())
	require.NoError(t, img.Flush(context.Background(), dirty.FlushAuto))
	require.Zero(t, img.Dirty())
	require.NoError(t, img.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	off := smallGeom.TrackOffset(1, 0)
	require.Equal(t, track, raw[off:off+int64(smallGeom.TrackSize())])

	reopened, err := Open(path, smallGeom)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadTrack(1, 0)
	require.NoError(t, err)
	require.Equal(t, track, got)
}

func Test_Image_CloseFlushesPendingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	img, err := Create(path, smallGeom)
	require.NoError(t, err)

	track := bytes.Repeat([]byte{0x11}, smallGeom.TrackSize())
	require.NoError(t, img.WriteTrack(3, 1, track))
	require.NoError(t, img.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	off := smallGeom.TrackOffset(3, 1)
	require.Equal(t, track, raw[off:off+int64(smallGeom.TrackSize())])

	_, err = img.ReadTrack(0, 0)
	require.ErrorIs(t, err, types.ErrState)
}

func Test_Image_InfersGeometryFromSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floppy.adf")
	require.NoError(t, os.WriteFile(path, make([]byte, 901120), 0o644))

	img, err := Open(path, types.Geometry{})
	require.NoError(t, err)
	defer img.Close()

	geom, err := img.Geometry()
	require.NoError(t, err)
	require.Equal(t, 11, geom.SectorsPerTrack)
	require.Equal(t, path, img.Path())
}

func Test_Image_OpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.img"), smallGeom)
	require.ErrorIs(t, err, types.ErrIO)

	odd := filepath.Join(dir, "odd.img")
	require.NoError(t, os.WriteFile(odd, make([]byte, 1234), 0o644))
	_, err = Open(odd, types.Geometry{})
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = Open(odd, smallGeom)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	existing := filepath.Join(dir, "existing.img")
	require.NoError(t, os.WriteFile(existing, make([]byte, smallGeom.TotalBytes()), 0o644))
	_, err = Create(existing, smallGeom)
	require.ErrorIs(t, err, types.ErrIO)
}

func Test_Presets(t *testing.T) {
	geom, ok := LookupGeometry("IMG-1440K")
	require.True(t, ok)
	require.Equal(t, int64(1474560), geom.TotalBytes())

	geom, ok = GeometryForSize(655360)
	require.True(t, ok)
	require.Equal(t, 256, geom.BytesPerSector)

	_, ok = GeometryForSize(174848) // D64 has no uniform geometry
	require.False(t, ok)

	all := Presets()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].Name, all[i].Name)
	}
}

func Test_Flux_PacksLittleEndian(t *testing.T) {
	enc := EncodeFlux([]uint32{0x01020304, 80})
	require.Equal(t, []byte{4, 3, 2, 1, 80, 0, 0, 0}, enc)
	require.Equal(t, []uint32{0x01020304, 80}, DecodeFlux(append(enc, 0xFF)))
}
