// Package disk defines the Backend the write pipeline reads and writes
// through, plus two implementations: Memory, an in-memory image, and Image,
// a file-backed flat sector image (ADF, IMG, TRD and similar).
//
// Image maps the file read/write on unix so track writes land in the page
// cache directly; a dirty.Tracker records every written track and Flush
// persists them with msync/fdatasync. On other platforms the file is held in
// a buffer and written back range by range.
//
// Basic usage:
//
//	img, err := disk.Open("work.adf", types.Geometry{}) // geometry from size
//	if err != nil {
//	    return err
//	}
//	defer img.Close()
//
//	track, err := img.ReadTrack(40, 0)
//	...
//	if err := img.WriteTrack(40, 0, track); err != nil {
//	    return err
//	}
//	return img.Flush(ctx, dirty.FlushAuto)
package disk
