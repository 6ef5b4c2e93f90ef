//go:build !linux && !darwin && !freebsd

package disk

import (
	"io"
	"os"
)

// mapFile loads the image into memory on platforms without mmap support.
// Written ranges are persisted by the dirty tracker with positioned writes.
func mapFile(f *os.File, size int64) ([]byte, bool, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, false, err
	}
	return buf, false, nil
}

func unmapFile(_ []byte, _ bool) error { return nil }
