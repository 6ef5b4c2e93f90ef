package floppy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/floppykit/disk/tx"
	"github.com/joshuapare/floppykit/disk/verify"
	"github.com/joshuapare/floppykit/internal/testutil"
	"github.com/joshuapare/floppykit/pkg/types"
)

var geom = testutil.SmallGeometry

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Geometry = geom
	opts.Tx.Verify.RetryDelay = 0
	opts.Verify.RetryDelay = 0
	return opts
}

// modified returns the pattern image with two tracks rewritten.
func modified() []byte {
	img := testutil.Pattern(geom, 0)
	ts := geom.TrackSize()
	for i := range ts {
		img[2*ts+i] = 0xAA
		img[5*ts+i] ^= 0x0F
	}
	return img
}

func TestWriteImage(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)
	want := modified()

	res, err := WriteImage(context.Background(), path, want, testOptions())
	require.NoError(t, err)
	require.NotNil(t, res.Tx)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Preview.TracksModified)
	assert.Equal(t, tx.StateCommitted, res.Tx.FinalState)
	assert.Equal(t, 2, res.Tx.OperationsTotal, "unchanged tracks are not written")

	got, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteImage_DryRun(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)
	opts := testOptions()
	opts.DryRun = true

	res, err := WriteImage(context.Background(), path, modified(), opts)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Nil(t, res.Tx)
	assert.Equal(t, 2, res.Preview.TracksModified)

	got, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, testutil.Pattern(geom, 0), got)
}

func TestWriteImage_NothingToWrite(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)

	res, err := WriteImage(context.Background(), path, testutil.Pattern(geom, 0), testOptions())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Preview.TracksModified)
	assert.Equal(t, "LOW", res.Preview.RiskDescription)
}

func TestWriteImage_BackupAndRestore(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)
	backup := filepath.Join(t.TempDir(), "before.uftb")
	opts := testOptions()
	opts.BackupFile = backup

	res, err := WriteImage(context.Background(), path, modified(), opts)
	require.NoError(t, err)
	assert.Equal(t, backup, res.BackupFile)

	entries, err := tx.ReadBackupFile(backup)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Cylinder)
	assert.Equal(t, 0, entries[0].Head)

	n, err := RestoreBackup(context.Background(), path, backup, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, testutil.Pattern(geom, 0), got)
}

func TestWriteImage_TooLarge(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)
	big := make([]byte, geom.TotalBytes()+1)

	_, err := WriteImage(context.Background(), path, big, testOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestPreviewImage(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)

	report, err := PreviewImage(context.Background(), path, modified(), testOptions())
	require.NoError(t, err)
	assert.Equal(t, path, report.DiskPath)
	assert.Equal(t, geom.Tracks(), report.TracksTotal)
	assert.Equal(t, 2, report.TracksModified)
	assert.NotEqual(t, report.HashBefore, report.HashAfter)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testutil.Pattern(geom, 0), got, "preview never writes")
}

func TestVerifyImage(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)

	res, err := VerifyImage(context.Background(), path, testutil.Pattern(geom, 0), testOptions())
	require.NoError(t, err)
	assert.Equal(t, verify.StatusOK, res.Status)
	assert.Equal(t, res.HashExpected, res.HashActual)

	res, err = VerifyImage(context.Background(), path, modified(), testOptions())
	require.NoError(t, err)
	assert.Equal(t, verify.StatusMismatch, res.Status)
	assert.Equal(t, 2, res.TracksFailed)
	require.NotNil(t, res.FirstMismatch)
	assert.Equal(t, 1, res.FirstMismatch.Cylinder)
}

func TestVerifyTrack(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)
	want := modified()

	res, err := VerifyTrack(context.Background(), path, 0, 1, want, testOptions())
	require.NoError(t, err)
	assert.Equal(t, verify.StatusOK, res.Status)

	res, err = VerifyTrack(context.Background(), path, 1, 0, want, testOptions())
	require.NoError(t, err)
	assert.Equal(t, verify.StatusMismatch, res.Status)
	assert.Positive(t, res.MismatchCount)

	res, err = VerifyTrack(context.Background(), path, 1, 0, testutil.Track(geom, want, 1, 0), testOptions())
	require.NoError(t, err)
	assert.Equal(t, verify.StatusMismatch, res.Status, "a bare track is compared as is")

	_, err = VerifyTrack(context.Background(), path, 9, 0, want, testOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestMultiPass(t *testing.T) {
	path := testutil.SetupImageFile(t, geom, 0)

	res, err := MultiPass(context.Background(), path, 2, 1, 3, testOptions())
	require.NoError(t, err)
	assert.True(t, res.Consistent)
	assert.Equal(t, 3, res.Passes)
	assert.Zero(t, res.WeakCount)

	_, err = MultiPass(context.Background(), path, 2, 1, 1, testOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestOpenImage_Missing(t *testing.T) {
	_, err := OpenImage(filepath.Join(t.TempDir(), "missing.img"), geom)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = RestoreBackup(context.Background(), testutil.SetupImageFile(t, geom, 0), "/nonexistent.uftb", testOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}
