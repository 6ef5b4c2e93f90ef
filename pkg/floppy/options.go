package floppy

import (
	"log/slog"

	"github.com/joshuapare/floppykit/disk/dirty"
	"github.com/joshuapare/floppykit/disk/preview"
	"github.com/joshuapare/floppykit/disk/tx"
	"github.com/joshuapare/floppykit/disk/verify"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Options controls the high-level image operations.
type Options struct {
	// Geometry of the image. A zero value is inferred from the file size.
	Geometry types.Geometry

	// Preview configures the change analysis run before every write.
	Preview preview.Options

	// Tx configures the write transaction. Tx.Progress is overridden by
	// Progress when that is set.
	Tx tx.Options

	// Verify configures VerifyImage.
	Verify verify.Options

	// Flush selects the durability of the final flush.
	// Default: dirty.FlushAuto
	Flush dirty.FlushMode

	// BackupFile, when set, receives a backup of every track the write
	// will touch before anything is written.
	BackupFile string

	// DryRun stops WriteImage after the preview.
	DryRun bool

	// AllowRisky lets WriteImage proceed when the preview reports errors.
	// Invalid changes still fail when the transaction stages them.
	AllowRisky bool

	// Progress receives commit and rollback events (WriteImage) or per-track
	// events (VerifyImage).
	Progress chan<- types.Progress

	// Logger is handed to the preview, verifier and transaction.
	// If nil, the package logger is used.
	Logger *slog.Logger
}

// DefaultOptions returns options with backup, verification and automatic
// rollback enabled.
func DefaultOptions() *Options {
	return &Options{
		Preview: preview.DefaultOptions(),
		Tx:      tx.DefaultOptions(),
		Verify:  verify.DefaultOptions(),
		Flush:   dirty.FlushAuto,
	}
}

// WriteResult is the outcome of WriteImage.
type WriteResult struct {
	Preview    *preview.Report `json:"preview"`
	Tx         *tx.Result      `json:"transaction,omitempty"`
	BackupFile string          `json:"backup_file,omitempty"`
	Skipped    bool            `json:"skipped,omitempty"` // dry run or nothing to write
}
