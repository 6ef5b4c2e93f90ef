package types

import (
	"context"
	"fmt"
)

// WholeTrack is the Sector value of a location that addresses a full track.
const WholeTrack = -1

// Location addresses a track, or a sector within a track.
type Location struct {
	Cylinder int `json:"cylinder"`
	Head     int `json:"head"`
	Sector   int `json:"sector"`
}

// TrackLoc returns the location of a whole track.
func TrackLoc(cyl, head int) Location {
	return Location{Cylinder: cyl, Head: head, Sector: WholeTrack}
}

// IsTrack reports whether l addresses a whole track.
func (l Location) IsTrack() bool { return l.Sector < 0 }

func (l Location) String() string {
	if l.IsTrack() {
		return fmt.Sprintf("c%d/h%d", l.Cylinder, l.Head)
	}
	return fmt.Sprintf("c%d/h%d/s%d", l.Cylinder, l.Head, l.Sector)
}

// Geometry describes the physical layout of a medium.
type Geometry struct {
	Cylinders       int `json:"cylinders"`
	Heads           int `json:"heads"`
	SectorsPerTrack int `json:"sectors_per_track"`
	BytesPerSector  int `json:"bytes_per_sector"`
}

// TrackSize is the number of bytes on one track.
func (g Geometry) TrackSize() int { return g.SectorsPerTrack * g.BytesPerSector }

// Tracks is the number of cylinder/head combinations.
func (g Geometry) Tracks() int { return g.Cylinders * g.Heads }

// TotalBytes is the capacity of the medium.
func (g Geometry) TotalBytes() int64 { return int64(g.Tracks()) * int64(g.TrackSize()) }

// Contains reports whether cyl/head is on the medium.
func (g Geometry) Contains(cyl, head int) bool {
	return cyl >= 0 && cyl < g.Cylinders && head >= 0 && head < g.Heads
}

// TrackIndex is the linear index of a track in image order (cylinder major).
func (g Geometry) TrackIndex(cyl, head int) int { return cyl*g.Heads + head }

// TrackOffset is the byte offset of a track in a flat image.
func (g Geometry) TrackOffset(cyl, head int) int64 {
	return int64(g.TrackIndex(cyl, head)) * int64(g.TrackSize())
}

// Validate checks every dimension against the package limits.
func (g Geometry) Validate() error {
	switch {
	case g.Cylinders <= 0 || g.Cylinders > MaxCylinders:
		return Errorf(ErrKindInvalidArgument, "geometry: cylinders %d out of range 1..%d", g.Cylinders, MaxCylinders)
	case g.Heads <= 0 || g.Heads > MaxHeads:
		return Errorf(ErrKindInvalidArgument, "geometry: heads %d out of range 1..%d", g.Heads, MaxHeads)
	case g.SectorsPerTrack <= 0 || g.SectorsPerTrack > MaxSectorsPerTrack:
		return Errorf(ErrKindInvalidArgument, "geometry: sectors per track %d out of range 1..%d",
			g.SectorsPerTrack, MaxSectorsPerTrack)
	case g.BytesPerSector <= 0 || g.BytesPerSector > MaxBytesPerSector:
		return Errorf(ErrKindInvalidArgument, "geometry: bytes per sector %d out of range 1..%d",
			g.BytesPerSector, MaxBytesPerSector)
	}
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", g.Cylinders, g.Heads, g.SectorsPerTrack, g.BytesPerSector)
}

// Progress is one step of a long-running commit, preview commit or disk verify.
type Progress struct {
	Stage   string   `json:"stage"`
	Current int      `json:"current"` // 1-based count of completed steps
	Total   int      `json:"total"`
	Loc     Location `json:"location"`
	Err     string   `json:"error,omitempty"`
}

// SendProgress delivers p on ch, giving up if ctx is done first.
// A nil channel drops the event.
func SendProgress(ctx context.Context, ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}
