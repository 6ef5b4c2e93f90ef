package types

// ============================================================================
// Medium Limits Constants
// ============================================================================
// These constants bound the geometries and staging sizes the write pipeline
// accepts. They cover every 3.5", 5.25" and 8" layout in common use, with
// headroom for over-formatted (82-84 cylinder) disks.

const (
	// MaxCylinders is the largest cylinder count a geometry may declare.
	MaxCylinders = 255

	// MaxHeads is the largest head count a geometry may declare.
	MaxHeads = 2

	// MaxSectorsPerTrack is the largest sectors-per-track value accepted.
	MaxSectorsPerTrack = 255

	// MaxBytesPerSector is the largest sector size accepted (8 KiB, the
	// largest IBM MFM sector length code).
	MaxBytesPerSector = 8192

	// DefaultMaxOperations is the default cap on staged operations per
	// transaction. A negative cap disables the limit.
	DefaultMaxOperations = 256

	// DefaultMaxTracks is the default number of distinct tracks a preview
	// may stage (84 cylinders x 2 heads).
	DefaultMaxTracks = 168

	// DefaultMaxSectorsPerTrack is the default number of sector changes a
	// preview may stage on one track.
	DefaultMaxSectorsPerTrack = 64

	// DefaultMaxMismatches bounds the mismatch list in a verify outcome.
	DefaultMaxMismatches = 100

	// DefaultMaxRetries is the default verify retry budget.
	DefaultMaxRetries = 3

	// MaxRetries is the largest retry budget accepted.
	MaxRetries = 5
)
