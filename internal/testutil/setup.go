package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/pkg/types"
)

// SmallGeometry is a tiny medium for fast tests: 4 cylinders, 2 heads,
// 4 sectors of 128 bytes.
var SmallGeometry = types.Geometry{Cylinders: 4, Heads: 2, SectorsPerTrack: 4, BytesPerSector: 128}

// Pattern returns a deterministic image for geom. Each byte depends on its
// offset and seed, so two seeds produce images that differ everywhere.
func Pattern(geom types.Geometry, seed byte) []byte {
	img := make([]byte, geom.TotalBytes())
	for i := range img {
		img[i] = byte(i*7) ^ byte(i>>8) ^ seed
	}
	return img
}

// SetupMemory returns an in-memory medium filled with Pattern(geom, seed).
//
// Example:
//
//	m := testutil.SetupMemory(t, testutil.SmallGeometry, 0)
func SetupMemory(t *testing.T, geom types.Geometry, seed byte) *disk.Memory {
	t.Helper()
	m, err := disk.NewMemoryFromImage(geom, Pattern(geom, seed))
	if err != nil {
		t.Fatalf("Failed to create memory medium: %v", err)
	}
	return m
}

// SetupImageFile writes Pattern(geom, seed) to a file in a temporary
// directory and returns its path.
func SetupImageFile(t *testing.T, geom types.Geometry, seed byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, Pattern(geom, seed), 0o644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

// Track returns the bytes of one track of img.
func Track(geom types.Geometry, img []byte, cyl, head int) []byte {
	off := geom.TrackOffset(cyl, head)
	return img[off : off+int64(geom.TrackSize())]
}
