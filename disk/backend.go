package disk

import (
	"github.com/joshuapare/floppykit/pkg/types"
)

// Backend is the medium the write pipeline reads and writes, track by track.
// It may be a physical drive or an image; the pipeline never parses what it
// returns.
//
// A single call is never preempted: cancellation is observed by callers
// between calls only. Implementations need not be safe for concurrent use;
// callers that share one Backend between goroutines serialize access.
type Backend interface {
	// ReadTrack returns the current contents of one track.
	ReadTrack(cyl, head int) ([]byte, error)
	// WriteTrack replaces the contents of one track.
	WriteTrack(cyl, head int, data []byte) error
	// Geometry describes the medium.
	Geometry() (types.Geometry, error)
}

// CheckTrack validates cyl/head against geom.
func CheckTrack(geom types.Geometry, cyl, head int) error {
	if !geom.Contains(cyl, head) {
		return types.Errorf(types.ErrKindInvalidArgument,
			"track c%d/h%d outside geometry %s", cyl, head, geom)
	}
	return nil
}

// CheckSector validates a sector index against geom.
func CheckSector(geom types.Geometry, cyl, head, sector int) error {
	if err := CheckTrack(geom, cyl, head); err != nil {
		return err
	}
	if sector < 0 || sector >= geom.SectorsPerTrack {
		return types.Errorf(types.ErrKindInvalidArgument,
			"sector %d outside track c%d/h%d (0..%d)", sector, cyl, head, geom.SectorsPerTrack-1)
	}
	return nil
}

// ReadImage reads every track of b in image order (cylinder major) into one
// flat buffer.
func ReadImage(b Backend) ([]byte, error) {
	geom, err := b.Geometry()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, geom.TotalBytes())
	for cyl := range geom.Cylinders {
		for head := range geom.Heads {
			data, err := b.ReadTrack(cyl, head)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)
		}
	}
	return out, nil
}

// SplitTracks cuts a flat image into per-track slices in image order.
// The slices alias img.
func SplitTracks(geom types.Geometry, img []byte) ([][]byte, error) {
	if int64(len(img)) != geom.TotalBytes() {
		return nil, types.Errorf(types.ErrKindInvalidArgument,
			"image is %d bytes, geometry %s needs %d", len(img), geom, geom.TotalBytes())
	}
	ts := geom.TrackSize()
	tracks := make([][]byte, geom.Tracks())
	for i := range tracks {
		tracks[i] = img[i*ts : (i+1)*ts : (i+1)*ts]
	}
	return tracks, nil
}
