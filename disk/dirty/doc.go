// Package dirty provides tracking and flushing of modified byte ranges in
// file-backed disk images.
//
// The tracker records every written range, coalesces them into page-aligned
// ranges at flush time and persists them with platform-specific calls:
// msync for memory-mapped images, positioned writes for buffered images,
// followed by fdatasync (or F_FULLFSYNC on macOS) depending on FlushMode.
package dirty
