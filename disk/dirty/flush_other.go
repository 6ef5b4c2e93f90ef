//go:build !linux && !freebsd && !darwin

package dirty

import "os"

// msync is unreachable on platforms where images are never mapped.
func msync(_ []byte, _, _ int) error { return nil }

// syncFile commits the file contents to stable storage.
func syncFile(f *os.File, _ bool) error {
	return f.Sync()
}
