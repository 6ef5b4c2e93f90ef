package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeometryDerivedSizes(t *testing.T) {
	g := Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 18, BytesPerSector: 512}

	require.NoError(t, g.Validate())
	require.Equal(t, 9216, g.TrackSize())
	require.Equal(t, 160, g.Tracks())
	require.Equal(t, int64(1474560), g.TotalBytes())
	require.Equal(t, 21, g.TrackIndex(10, 1))
	require.Equal(t, int64(21*9216), g.TrackOffset(10, 1))
	require.True(t, g.Contains(79, 1))
	require.False(t, g.Contains(80, 0))
	require.False(t, g.Contains(0, 2))
	require.Equal(t, "80x2x18x512", g.String())
}

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name string
		geom Geometry
	}{
		{"zero cylinders", Geometry{0, 2, 18, 512}},
		{"three heads", Geometry{80, 3, 18, 512}},
		{"no sectors", Geometry{80, 2, 0, 512}},
		{"huge sectors", Geometry{80, 2, 9, 16384}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.geom.Validate(), ErrInvalidArgument)
		})
	}
}

func TestLocationString(t *testing.T) {
	require.Equal(t, "c10/h0", TrackLoc(10, 0).String())
	require.Equal(t, "c1/h1/s4", Location{Cylinder: 1, Head: 1, Sector: 4}.String())
}

func TestSendProgress(t *testing.T) {
	ch := make(chan Progress, 1)
	SendProgress(context.Background(), ch, Progress{Stage: "commit", Current: 1, Total: 2})
	got := <-ch
	require.Equal(t, 1, got.Current)

	// A cancelled context must not block on a full channel.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	full := make(chan Progress)
	SendProgress(ctx, full, Progress{})

	// Nil channel is a no-op.
	SendProgress(context.Background(), nil, Progress{})
}
