//go:build linux || freebsd

package dirty

import (
	"os"

	"golang.org/x/sys/unix"
)

// msync flushes one page-aligned range of a shared mapping.
//
// On Linux and FreeBSD, msync() accepts sub-slices of the mapping.
func msync(data []byte, start, end int) error {
	return unix.Msync(data[start:end], unix.MS_SYNC)
}

// syncFile performs file descriptor sync.
//
// On Linux/FreeBSD, fdatasync() provides sufficient guarantees.
// The fullfsync parameter is ignored.
func syncFile(f *os.File, _ bool) error {
	return unix.Fdatasync(int(f.Fd()))
}
