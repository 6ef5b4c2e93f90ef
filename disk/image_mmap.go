//go:build linux || darwin || freebsd

package disk

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// mapFile mmaps the image RW so tracks can be written in place.
func mapFile(f *os.File, size int64) ([]byte, bool, error) {
	if size > int64(^uint(0)>>1) {
		return nil, false, fmt.Errorf("file too large to map (%d bytes)", size)
	}
	data, err := syscall.Mmap(
		int(f.Fd()),
		0,
		int(size),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED,
	)
	if err != nil {
		return nil, false, fmt.Errorf("mmap failed: %w", err)
	}
	return data, true, nil
}

func unmapFile(data []byte, mapped bool) error {
	if !mapped || data == nil {
		return nil
	}
	err := syscall.Munmap(data)
	if errors.Is(err, syscall.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
