//go:build darwin

package dirty

import (
	"os"

	"golang.org/x/sys/unix"
)

// msync flushes the mapping.
//
// On macOS, msync() requires the address to match the original mmap() address,
// so the whole region is synced. The kernel only writes pages that are dirty.
func msync(data []byte, _, _ int) error {
	return unix.Msync(data, unix.MS_SYNC)
}

// syncFile performs file descriptor sync.
//
// If fullfsync is true, F_FULLFSYNC pushes data past the drive cache.
// macOS has no fdatasync, so plain fsync is used otherwise.
func syncFile(f *os.File, fullfsync bool) error {
	if fullfsync {
		_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
		return err
	}
	return unix.Fsync(int(f.Fd()))
}
