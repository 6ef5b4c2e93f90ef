package disk

import (
	"sync"

	"github.com/joshuapare/floppykit/pkg/types"
)

// Memory is an in-memory image. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	geom types.Geometry
	data []byte
}

// NewMemory creates a zero-filled image with the given geometry.
func NewMemory(geom types.Geometry) (*Memory, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return &Memory{geom: geom, data: make([]byte, geom.TotalBytes())}, nil
}

// NewMemoryFromImage creates an image holding a copy of img.
func NewMemoryFromImage(geom types.Geometry, img []byte) (*Memory, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if int64(len(img)) != geom.TotalBytes() {
		return nil, types.Errorf(types.ErrKindInvalidArgument,
			"image is %d bytes, geometry %s needs %d", len(img), geom, geom.TotalBytes())
	}
	return &Memory{geom: geom, data: append([]byte(nil), img...)}, nil
}

func (m *Memory) ReadTrack(cyl, head int) ([]byte, error) {
	if err := CheckTrack(m.geom, cyl, head); err != nil {
		return nil, err
	}
	off := m.geom.TrackOffset(cyl, head)
	ts := int64(m.geom.TrackSize())

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data[off:off+ts]...), nil
}

func (m *Memory) WriteTrack(cyl, head int, data []byte) error {
	if err := CheckTrack(m.geom, cyl, head); err != nil {
		return err
	}
	if len(data) != m.geom.TrackSize() {
		return types.Errorf(types.ErrKindInvalidArgument,
			"write c%d/h%d: %d bytes, track holds %d", cyl, head, len(data), m.geom.TrackSize())
	}
	off := m.geom.TrackOffset(cyl, head)

	m.mu.Lock()
	copy(m.data[off:], data)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Geometry() (types.Geometry, error) { return m.geom, nil }

// Bytes returns a snapshot of the whole image.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}
