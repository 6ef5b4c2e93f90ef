package dirty

import "os"

// Target is the image a Tracker flushes.
type Target interface {
	// Bytes returns the live image buffer.
	Bytes() []byte
	// File returns the backing file, or nil for an in-memory image.
	File() *os.File
	// Mapped reports whether Bytes is a shared memory mapping of File.
	Mapped() bool
}
