package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joshuapare/floppykit/disk/dirty"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Image is a flat sector image file, mmapped read/write on unix and held in
// a buffer elsewhere. Writes land in the mapping (or buffer) immediately and
// become durable on Flush or Close.
type Image struct {
	mu     sync.RWMutex
	path   string
	f      *os.File
	data   []byte
	mapped bool
	geom   types.Geometry
	dt     *dirty.Tracker
}

// Open opens an existing image. A zero geom is inferred from the file size.
func Open(path string, geom types.Geometry) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, "open image", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, types.Wrap(types.ErrKindIO, "stat image", err)
	}
	sz := st.Size()
	if sz == 0 {
		_ = f.Close()
		return nil, types.Errorf(types.ErrKindInvalidArgument, "empty image file: %s", path)
	}

	if geom == (types.Geometry{}) {
		g, ok := GeometryForSize(sz)
		if !ok {
			_ = f.Close()
			return nil, types.Errorf(types.ErrKindInvalidArgument,
				"cannot infer geometry for %d-byte image %s", sz, path)
		}
		geom = g
	}
	if err := geom.Validate(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if geom.TotalBytes() != sz {
		_ = f.Close()
		return nil, types.Errorf(types.ErrKindInvalidArgument,
			"image %s is %d bytes, geometry %s needs %d", path, sz, geom, geom.TotalBytes())
	}

	data, mapped, err := mapFile(f, sz)
	if err != nil {
		_ = f.Close()
		return nil, types.Wrap(types.ErrKindIO, "map image", err)
	}

	img := &Image{
		path:   path,
		f:      f,
		data:   data,
		mapped: mapped,
		geom:   geom,
	}
	img.dt = dirty.NewTracker(img)
	return img, nil
}

// Create writes a zero-filled image of the given geometry and opens it.
// An existing file is not overwritten.
func Create(path string, geom types.Geometry) (*Image, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, "create image", err)
	}
	if err := f.Truncate(geom.TotalBytes()); err != nil {
		_ = f.Close()
		return nil, types.Wrap(types.ErrKindIO, "size image", err)
	}
	if err := f.Close(); err != nil {
		return nil, types.Wrap(types.ErrKindIO, "create image", err)
	}
	return Open(path, geom)
}

func (img *Image) ReadTrack(cyl, head int) ([]byte, error) {
	if err := CheckTrack(img.geom, cyl, head); err != nil {
		return nil, err
	}
	img.mu.RLock()
	defer img.mu.RUnlock()
	if img.data == nil {
		return nil, errClosed
	}
	off := img.geom.TrackOffset(cyl, head)
	return append([]byte(nil), img.data[off:off+int64(img.geom.TrackSize())]...), nil
}

func (img *Image) WriteTrack(cyl, head int, data []byte) error {
	if err := CheckTrack(img.geom, cyl, head); err != nil {
		return err
	}
	if len(data) != img.geom.TrackSize() {
		return types.Errorf(types.ErrKindInvalidArgument,
			"write c%d/h%d: %d bytes, track holds %d", cyl, head, len(data), img.geom.TrackSize())
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.data == nil {
		return errClosed
	}
	off := img.geom.TrackOffset(cyl, head)
	copy(img.data[off:], data)
	img.dt.Add(int(off), len(data))
	return nil
}

func (img *Image) Geometry() (types.Geometry, error) { return img.geom, nil }

// Path returns the file the image was opened from.
func (img *Image) Path() string { return img.path }

// Bytes returns the live image buffer. Callers must not retain it past Close.
func (img *Image) Bytes() []byte { return img.data }

// File returns the backing file.
func (img *Image) File() *os.File { return img.f }

// Mapped reports whether the image is memory-mapped.
func (img *Image) Mapped() bool { return img.mapped }

// Dirty reports how many written ranges await a flush.
func (img *Image) Dirty() int { return img.dt.Pending() }

// Flush persists written tracks according to mode.
func (img *Image) Flush(ctx context.Context, mode dirty.FlushMode) error {
	img.mu.RLock()
	defer img.mu.RUnlock()
	if img.data == nil {
		return errClosed
	}
	if err := img.dt.Flush(ctx, mode); err != nil {
		return types.Wrap(types.ErrKindIO, "flush image", err)
	}
	return nil
}

// Close flushes pending writes and releases the mapping and file.
func (img *Image) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()

	var errs []error
	if img.data != nil {
		if err := img.dt.Flush(context.Background(), dirty.FlushAuto); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
		if err := unmapFile(img.data, img.mapped); err != nil {
			errs = append(errs, fmt.Errorf("unmap: %w", err))
		}
		img.data = nil
	}
	if img.f != nil {
		if err := img.f.Close(); err != nil {
			errs = append(errs, err)
		}
		img.f = nil
	}
	if err := errors.Join(errs...); err != nil {
		return types.Wrap(types.ErrKindIO, "close image", err)
	}
	return nil
}

var errClosed = types.Errorf(types.ErrKindState, "image is closed")
