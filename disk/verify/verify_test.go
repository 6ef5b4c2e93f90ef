package verify

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/internal/digest"
	"github.com/joshuapare/floppykit/internal/testutil"
	"github.com/joshuapare/floppykit/pkg/types"
)

var geom = testutil.SmallGeometry

// fastOptions is DefaultOptions without the retry pause.
func fastOptions() Options {
	o := DefaultOptions()
	o.RetryDelay = 0
	return o
}

func setupVerifier(t *testing.T) (*Verifier, *testutil.Faulty, []byte) {
	t.Helper()
	img := testutil.Pattern(geom, 0)
	m, err := disk.NewMemoryFromImage(geom, img)
	require.NoError(t, err)
	f := testutil.NewFaulty(m)
	return New(f, DefaultRegistry(), nil), f, img
}

func TestVerifyTrackMatch(t *testing.T) {
	v, _, img := setupVerifier(t)
	want := testutil.Track(geom, img, 1, 1)

	res, err := v.VerifyTrack(context.Background(), 1, 1, want, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 100.0, res.MatchPercent)
	assert.Equal(t, geom.TrackSize(), res.BytesMatching)
	assert.Equal(t, res.CRCExpected, res.CRCActual)
	assert.Zero(t, res.RetryCount)
	assert.Empty(t, res.Mismatches)
}

func TestVerifyTrackReportsFirstDifferingOffset(t *testing.T) {
	v, f, img := setupVerifier(t)
	want := bytes.Clone(testutil.Track(geom, img, 0, 1))
	want[10] ^= 0x0F
	want[300] ^= 0x01

	res, err := v.VerifyTrack(context.Background(), 0, 1, want, fastOptions())
	require.NoError(t, err, "a mismatch is a result, not an error")
	assert.Equal(t, StatusMismatch, res.Status)
	require.Len(t, res.Mismatches, 2)
	assert.Equal(t, 10, res.Mismatches[0].Offset)
	assert.Equal(t, byte(0x0F), res.Mismatches[0].XOR)
	assert.Equal(t, 300, res.Mismatches[1].Offset)
	assert.Equal(t, 2, res.MismatchCount)
	assert.Equal(t, geom.TrackSize()-2, res.BytesMatching)

	// every retry is a fresh read
	assert.Equal(t, 3, res.RetryCount)
	assert.Equal(t, 4, f.Reads())
}

func TestVerifyTrackMismatchCap(t *testing.T) {
	v, _, _ := setupVerifier(t)
	want := make([]byte, geom.TrackSize())
	for i := range want {
		want[i] = 0xAA
	}
	opts := fastOptions()
	opts.MaxRetries = 0
	opts.MaxMismatches = 5

	res, err := v.VerifyTrack(context.Background(), 0, 0, want, opts)
	require.NoError(t, err)
	assert.Len(t, res.Mismatches, 5)
	assert.Greater(t, res.MismatchCount, 5)
}

func TestVerifyTrackRetriesTransientCorruption(t *testing.T) {
	v, f, img := setupVerifier(t)
	f.CorruptReads = 2

	res, err := v.VerifyTrack(context.Background(), 2, 0, testutil.Track(geom, img, 2, 0), fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, res.RetryCount)
}

func TestVerifyTrackReadError(t *testing.T) {
	v, f, img := setupVerifier(t)
	f.FailReads = true

	res, err := v.VerifyTrack(context.Background(), 0, 0, testutil.Track(geom, img, 0, 0), fastOptions())
	require.ErrorIs(t, err, types.ErrIO)
	require.ErrorIs(t, err, testutil.ErrInjected)
	require.NotNil(t, res)
	assert.Equal(t, StatusReadError, res.Status)
	assert.Equal(t, 3, res.RetryCount)
}

func TestVerifyTrackRejectsBadLocation(t *testing.T) {
	v, _, _ := setupVerifier(t)
	_, err := v.VerifyTrack(context.Background(), geom.Cylinders, 0, []byte{1}, fastOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestVerifySector(t *testing.T) {
	v, _, img := setupVerifier(t)
	track := testutil.Track(geom, img, 3, 0)
	sector := bytes.Clone(track[2*geom.BytesPerSector : 3*geom.BytesPerSector])

	res, err := v.VerifySector(context.Background(), 3, 0, 2, sector, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, res.Sector)

	sector[7] ^= 0xFF
	res, err = v.VerifySector(context.Background(), 3, 0, 2, sector, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusMismatch, res.Status)
	require.NotEmpty(t, res.Mismatches)
	assert.Equal(t, 7, res.Mismatches[0].Offset)
}

func TestWriteTrackVerifiedRetriesWholeCycle(t *testing.T) {
	v, f, _ := setupVerifier(t)
	f.CorruptReads = 2
	data := bytes.Repeat([]byte{0x5A}, geom.TrackSize())

	res, err := v.WriteTrackVerified(context.Background(), 1, 0, data, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, res.Writes)
	assert.Equal(t, 3, f.Writes())

	got, err := f.ReadTrack(1, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteTrackVerifiedGivesUp(t *testing.T) {
	v, f, _ := setupVerifier(t)
	f.CorruptReads = 100
	opts := fastOptions()
	opts.MaxRetries = 1

	res, err := v.WriteTrackVerified(context.Background(), 0, 0, make([]byte, geom.TrackSize()), opts)
	require.ErrorIs(t, err, types.ErrVerifyMismatch)
	require.NotNil(t, res)
	assert.Equal(t, StatusMismatch, res.Status)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, 2, res.Writes)
}

func TestWriteTrackVerifiedWriteFailure(t *testing.T) {
	v, f, _ := setupVerifier(t)
	f.FailWriteAt = 1

	res, err := v.WriteTrackVerified(context.Background(), 0, 0, make([]byte, geom.TrackSize()), fastOptions())
	require.ErrorIs(t, err, types.ErrIO)
	require.NotNil(t, res)
	assert.Zero(t, res.Writes)
	assert.Equal(t, 1, f.Writes(), "a failed write is not retried")
}

func TestWriteTrackVerifiedNeedsFullTrack(t *testing.T) {
	v, _, _ := setupVerifier(t)
	_, err := v.WriteTrackVerified(context.Background(), 0, 0, []byte{1, 2, 3}, fastOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestWriteSectorVerifiedKeepsNeighbours(t *testing.T) {
	v, f, img := setupVerifier(t)
	before := bytes.Clone(testutil.Track(geom, img, 2, 1))
	data := bytes.Repeat([]byte{0xC3}, geom.BytesPerSector)

	res, err := v.WriteSectorVerified(context.Background(), 2, 1, 1, data, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.Writes)

	after, err := f.ReadTrack(2, 1)
	require.NoError(t, err)
	bps := geom.BytesPerSector
	assert.Equal(t, before[:bps], after[:bps])
	assert.Equal(t, data, after[bps:2*bps])
	assert.Equal(t, before[2*bps:], after[2*bps:])
}

func TestCRCMode(t *testing.T) {
	expected := []byte("retro floppy payload")
	actual := bytes.Clone(expected)

	opts := fastOptions()
	opts.Mode = CRC
	assert.Equal(t, StatusOK, Compare(expected, actual, 512, opts).Status)

	actual[3] = 'X'
	out := Compare(expected, actual, 512, opts)
	assert.Equal(t, StatusCRCError, out.Status)
	assert.Empty(t, out.Mismatches, "CRC mode does not locate differences")
	assert.NotEqual(t, out.CRCExpected, out.CRCActual)
	assert.True(t, CheckCRC(expected, out.CRCExpected))
}

func TestSectorModeSkipsGaps(t *testing.T) {
	opts := fastOptions()
	opts.Mode = Sector
	opts.GapBytes = 2

	expected := []byte{1, 2, 3, 4, 0x4E, 0x4E, 5, 6, 7, 8}
	actual := []byte{1, 2, 3, 4, 0x00, 0xFF, 5, 6, 7, 8}
	out := Compare(expected, actual, 4, opts)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 8, out.BytesTotal)

	actual[7] = 0
	out = Compare(expected, actual, 4, opts)
	assert.Equal(t, StatusMismatch, out.Status)
	require.Len(t, out.Mismatches, 1)
	assert.Equal(t, 7, out.Mismatches[0].Offset)
}

func TestSizeMismatch(t *testing.T) {
	out := Compare([]byte{1, 2, 3, 4}, []byte{1, 2}, 512, fastOptions())
	assert.Equal(t, StatusSizeMismatch, out.Status)
	assert.Equal(t, 2, out.BytesMatching)
	assert.Equal(t, 2, out.MismatchCount)

	out = Compare([]byte{1, 2}, []byte{1, 2, 3, 4}, 512, fastOptions())
	assert.Equal(t, StatusOK, out.Status, "trailing read-back bytes are ignored")
}

func fluxSamples(n int) []uint32 {
	s := make([]uint32, n)
	for i := range s {
		s[i] = uint32(100 * (i%5 + 1))
	}
	return s
}

func TestFluxMode(t *testing.T) {
	opts := fastOptions()
	opts.Mode = Flux
	expected := fluxSamples(20)

	t.Run("within tolerance", func(t *testing.T) {
		actual := fluxSamples(20)
		actual[0], actual[1] = 103, 196
		out := Compare(disk.EncodeFlux(expected), disk.EncodeFlux(actual), 512, opts)
		assert.Equal(t, StatusOK, out.Status)
	})

	t.Run("single outlier is a warning", func(t *testing.T) {
		actual := fluxSamples(20)
		actual[4] = 450
		out := Compare(disk.EncodeFlux(expected), disk.EncodeFlux(actual), 512, opts)
		assert.Equal(t, StatusTimingWarn, out.Status)
		assert.True(t, out.Status.Passed())
		assert.Equal(t, 95.0, out.MatchPercent)
		assert.Equal(t, 1, out.MismatchCount)
	})

	t.Run("many outliers mismatch", func(t *testing.T) {
		actual := fluxSamples(20)
		for i := 0; i < 6; i++ {
			actual[i] = 250
		}
		out := Compare(disk.EncodeFlux(expected), disk.EncodeFlux(actual), 512, opts)
		assert.Equal(t, StatusMismatch, out.Status)
	})
}

func TestFluxStatsOnTrack(t *testing.T) {
	fg := types.Geometry{Cylinders: 1, Heads: 1, SectorsPerTrack: 1, BytesPerSector: 80}
	expected := disk.EncodeFlux(fluxSamples(20))
	actual := fluxSamples(20)
	actual[4] = 450
	m, err := disk.NewMemoryFromImage(fg, disk.EncodeFlux(actual))
	require.NoError(t, err)

	opts := fastOptions()
	opts.Mode = Flux
	opts.MaxRetries = 0
	res, err := New(m, nil, nil).VerifyTrack(context.Background(), 0, 0, expected, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Flux)
	assert.Equal(t, 20, res.Flux.Samples)
	assert.Equal(t, 1, res.Flux.Errors)
	require.Len(t, res.Flux.Outliers, 1)
	assert.Equal(t, 4, res.Flux.Outliers[0].Index)
	assert.InDelta(t, 10.0, res.Flux.MaxDeviation, 0.001)
}

func TestRegistryRotationCompare(t *testing.T) {
	assert.Equal(t, StatusOK, RotationCompare([]byte("abcdef"), []byte("defabc")))
	assert.Equal(t, StatusMismatch, RotationCompare([]byte("abcdef"), []byte("defabd")))
	assert.Equal(t, StatusSizeMismatch, RotationCompare([]byte("abcdef"), []byte("abc")))

	reg := DefaultRegistry()
	assert.Equal(t, []string{"g64", "nib"}, reg.Formats())
	_, ok := reg.Lookup("G64")
	assert.True(t, ok)
	_, ok = reg.Lookup("scp")
	assert.False(t, ok)

	var nilReg *Registry
	_, ok = nilReg.Lookup("g64")
	assert.False(t, ok)
}

func TestVerifyTrackWithFormatComparator(t *testing.T) {
	v, _, img := setupVerifier(t)
	track := testutil.Track(geom, img, 0, 0)
	rotated := append(bytes.Clone(track[100:]), track[:100]...)

	opts := fastOptions()
	opts.MaxRetries = 0
	res, err := v.VerifyTrack(context.Background(), 0, 0, rotated, opts)
	require.NoError(t, err)
	assert.Equal(t, StatusMismatch, res.Status)

	opts.Format = "g64"
	res, err = v.VerifyTrack(context.Background(), 0, 0, rotated, opts)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
}

func TestVerifyDisk(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		v, _, img := setupVerifier(t)
		progress := make(chan types.Progress, geom.Tracks())
		opts := fastOptions()
		opts.Progress = progress

		res, err := v.VerifyDisk(context.Background(), img, opts)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, res.Status)
		assert.Equal(t, geom.Tracks(), res.TracksTotal)
		assert.Equal(t, geom.Tracks(), res.TracksVerified)
		assert.Zero(t, res.TracksFailed)
		assert.Nil(t, res.FirstMismatch)
		assert.Equal(t, digest.SHA256Hex(img), res.HashExpected)
		assert.Equal(t, res.HashExpected, res.HashActual)
		assert.Equal(t, digest.CRC32(img), res.CRCExpected)
		assert.Len(t, progress, geom.Tracks())
	})

	t.Run("first mismatch", func(t *testing.T) {
		v, _, img := setupVerifier(t)
		want := bytes.Clone(img)
		ts := geom.TrackSize()
		want[3*ts+2*geom.BytesPerSector+5] ^= 0xFF
		want[6*ts] ^= 0xFF

		opts := fastOptions()
		opts.MaxRetries = 0
		res, err := v.VerifyDisk(context.Background(), want, opts)
		require.NoError(t, err)
		assert.Equal(t, StatusMismatch, res.Status)
		assert.Equal(t, 2, res.TracksFailed)
		require.NotNil(t, res.FirstMismatch)
		assert.Equal(t, 1, res.FirstMismatch.Cylinder)
		assert.Equal(t, 1, res.FirstMismatch.Head)
		assert.Equal(t, 2, res.FirstMismatch.Sector)
		assert.Equal(t, 2*geom.BytesPerSector+5, res.FirstMismatch.TrackOffset)
		assert.Equal(t, 3*ts+2*geom.BytesPerSector+5, res.FirstMismatch.Offset)
		require.Len(t, res.Mismatches, 2)
		assert.Equal(t, 6*ts, res.Mismatches[1].Offset)
		assert.NotEqual(t, res.HashExpected, res.HashActual)

		opts.StopOnFirst = true
		res, err = v.VerifyDisk(context.Background(), want, opts)
		require.NoError(t, err)
		assert.Equal(t, 4, res.TracksVerified)
		assert.Equal(t, 1, res.TracksFailed)
	})

	t.Run("partial image", func(t *testing.T) {
		v, _, img := setupVerifier(t)
		res, err := v.VerifyDisk(context.Background(), img[:geom.TrackSize()+10], fastOptions())
		require.NoError(t, err)
		assert.Equal(t, 2, res.TracksTotal)
		assert.Equal(t, StatusOK, res.Status)
		assert.Equal(t, geom.TrackSize()+10, res.BytesTotal)
	})

	t.Run("oversized image", func(t *testing.T) {
		v, _, img := setupVerifier(t)
		_, err := v.VerifyDisk(context.Background(), append(img, 0), fastOptions())
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})

	t.Run("cancelled", func(t *testing.T) {
		v, _, img := setupVerifier(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := v.VerifyDisk(ctx, img, fastOptions())
		require.ErrorIs(t, err, types.ErrAborted)
		assert.Equal(t, StatusAborted, res.Status)
		assert.Zero(t, res.TracksVerified)
	})

	t.Run("read errors continue", func(t *testing.T) {
		v, f, img := setupVerifier(t)
		f.FailReadAt = 1
		opts := fastOptions()
		opts.MaxRetries = 0
		res, err := v.VerifyDisk(context.Background(), img, opts)
		require.NoError(t, err)
		assert.Equal(t, StatusReadError, res.Status)
		assert.Equal(t, geom.Tracks(), res.TracksVerified)
		assert.Equal(t, 1, res.TracksFailed)
		require.NotNil(t, res.FirstMismatch)
		assert.Equal(t, StatusReadError, res.FirstMismatch.Status)
	})
}

func TestMultiPass(t *testing.T) {
	v, f, _ := setupVerifier(t)
	f.CorruptReads = 1

	res, err := v.MultiPass(context.Background(), 0, 0, 3, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Passes)
	assert.False(t, res.Consistent)
	assert.Equal(t, 1, res.WeakCount)
	assert.Equal(t, []int{0}, res.WeakBytes)
	require.Len(t, res.CRCs, 3)
	assert.Equal(t, res.CRCs[1], res.CRCs[2])

	res, err = v.MultiPass(context.Background(), 0, 0, 2, fastOptions())
	require.NoError(t, err)
	assert.True(t, res.Consistent)

	_, err = v.MultiPass(context.Background(), 0, 0, 1, fastOptions())
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("sector")
	require.NoError(t, err)
	assert.Equal(t, Sector, m)

	_, err = ParseMode("psychic")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestOptionsClampRetries(t *testing.T) {
	o := Options{MaxRetries: 99}.normalize()
	assert.Equal(t, types.MaxRetries, o.MaxRetries)
	assert.Equal(t, types.DefaultMaxMismatches, o.MaxMismatches)
	assert.Equal(t, DefaultFluxTolerance, o.FluxTolerance)
}
