package floppy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/disk/change"
	"github.com/joshuapare/floppykit/disk/preview"
	"github.com/joshuapare/floppykit/disk/tx"
	"github.com/joshuapare/floppykit/disk/verify"
	"github.com/joshuapare/floppykit/internal/logger"
	"github.com/joshuapare/floppykit/pkg/types"
)

// OpenImage opens a flat sector image for reading and writing. A zero geom
// is inferred from the file size.
//
// Example:
//
//	img, err := floppy.OpenImage("game.adf", types.Geometry{})
//	if err != nil {
//	    return err
//	}
//	defer img.Close()
func OpenImage(path string, geom types.Geometry) (*disk.Image, error) {
	if !fileExists(path) {
		return nil, types.Errorf(types.ErrKindInvalidArgument, "image file not found: %s", path)
	}
	return disk.Open(path, geom)
}

// PreviewImage reports what writing newImage over the image at path would
// change. The image is only read.
func PreviewImage(ctx context.Context, path string, newImage []byte, opts *Options) (*preview.Report, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	img, err := OpenImage(path, opts.Geometry)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	a, err := newAnalyzer(img, path, newImage, opts)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx)
}

func newAnalyzer(b disk.Backend, path string, newImage []byte, opts *Options) (*preview.Analyzer, error) {
	popts := opts.Preview
	popts.DiskPath = path
	if popts.Logger == nil {
		popts.Logger = opts.Logger
	}
	a, err := preview.New(b, popts)
	if err != nil {
		return nil, err
	}
	if err := a.SetImage(newImage); err != nil {
		return nil, fmt.Errorf("stage image %s: %w", path, err)
	}
	return a, nil
}

// WriteImage writes newImage over the image at path.
//
// Steps:
//  1. Preview the write; refuse it when validation reports errors, unless
//     AllowRisky is set.
//  2. Stage one transaction operation per track whose contents change.
//  3. Optionally save a backup file, then commit with the Tx options
//     (backup, write-verify and rollback by default).
//  4. Flush the image, whether the commit succeeded or was rolled back.
//
// The returned WriteResult carries the preview even when the write fails.
func WriteImage(ctx context.Context, path string, newImage []byte, opts *Options) (*WriteResult, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := logger.Or(opts.Logger).With("image", path)

	img, err := OpenImage(path, opts.Geometry)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	a, err := newAnalyzer(img, path, newImage, opts)
	if err != nil {
		return nil, err
	}
	report, err := a.Analyze(ctx)
	if err != nil {
		return nil, err
	}
	res := &WriteResult{Preview: report}

	if report.OverallValidation >= preview.LevelError && !opts.AllowRisky {
		return res, types.Errorf(types.ErrKindInvalidArgument,
			"write %s: preview reports %d error(s), risk %d (%s)",
			path, report.ErrorCount, report.RiskScore, report.RiskDescription)
	}

	changes := changedTracks(a.Changes(), report)
	if opts.DryRun || len(changes) == 0 {
		res.Skipped = true
		log.Info("write skipped", "dry_run", opts.DryRun, "changes", len(changes))
		return res, nil
	}

	topts := opts.Tx
	if opts.Progress != nil {
		topts.Progress = opts.Progress
	}
	if topts.Logger == nil {
		topts.Logger = opts.Logger
	}
	if topts.MaxOperations > 0 && len(changes) > topts.MaxOperations {
		topts.MaxOperations = len(changes)
	}

	m, err := tx.Begin(img, topts)
	if err != nil {
		return res, err
	}
	defer m.Close()

	if err := m.AddChanges(changes); err != nil {
		return res, err
	}
	if opts.BackupFile != "" {
		if err := m.BackupAll(); err != nil {
			return res, err
		}
		if err := m.SaveBackup(opts.BackupFile); err != nil {
			return res, err
		}
		res.BackupFile = opts.BackupFile
	}

	txRes, commitErr := m.Commit(ctx)
	res.Tx = txRes
	if ferr := img.Flush(context.WithoutCancel(ctx), opts.Flush); ferr != nil {
		return res, errors.Join(commitErr, ferr)
	}
	if commitErr != nil {
		log.Warn("write failed", "state", m.State().String(), "error", commitErr)
		return res, commitErr
	}
	log.Info("write committed", "tracks", len(changes), "bytes_changed", report.BytesChanged)
	return res, nil
}

// changedTracks drops staged tracks whose contents would not change.
func changedTracks(cs []*change.Change, report *preview.Report) []*change.Change {
	out := cs[:0]
	for i, c := range cs {
		if i < len(report.PerTrackChanges) && report.PerTrackChanges[i].BytesChanged == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// VerifyImage compares the image at path with expected, track by track.
// Mismatches are reported in the result; the error is for I/O failures,
// cancellation and bad arguments.
func VerifyImage(ctx context.Context, path string, expected []byte, opts *Options) (*verify.DiskResult, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	img, err := OpenImage(path, opts.Geometry)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	vopts := opts.Verify
	if opts.Progress != nil {
		vopts.Progress = opts.Progress
	}
	return newVerifier(img, opts).VerifyDisk(ctx, expected, vopts)
}

// VerifyTrack compares one track of the image at path with expected, which
// holds either the track itself or a whole image to take the track from.
func VerifyTrack(ctx context.Context, path string, cyl, head int, expected []byte, opts *Options) (*verify.TrackResult, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	img, err := OpenImage(path, opts.Geometry)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	geom, _ := img.Geometry()
	if err := disk.CheckTrack(geom, cyl, head); err != nil {
		return nil, err
	}
	if int64(len(expected)) == geom.TotalBytes() {
		off := geom.TrackOffset(cyl, head)
		expected = expected[off : off+int64(geom.TrackSize())]
	}
	return newVerifier(img, opts).VerifyTrack(ctx, cyl, head, expected, opts.Verify)
}

// MultiPass reads one track of the image at path passes times and reports
// bytes that did not read back the same every time.
func MultiPass(ctx context.Context, path string, cyl, head, passes int, opts *Options) (*verify.MultiPassResult, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	img, err := OpenImage(path, opts.Geometry)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return newVerifier(img, opts).MultiPass(ctx, cyl, head, passes, opts.Verify)
}

func newVerifier(b disk.Backend, opts *Options) *verify.Verifier {
	reg := opts.Tx.Registry
	if reg == nil {
		reg = verify.DefaultRegistry()
	}
	return verify.New(b, reg, opts.Logger)
}

// RestoreBackup writes every track saved in backupFile back to the image at
// path and flushes it. It returns the number of tracks restored.
func RestoreBackup(ctx context.Context, path, backupFile string, opts *Options) (int, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if !fileExists(backupFile) {
		return 0, types.Errorf(types.ErrKindInvalidArgument, "backup file not found: %s", backupFile)
	}
	img, err := OpenImage(path, opts.Geometry)
	if err != nil {
		return 0, err
	}
	defer img.Close()

	n, err := tx.RestoreBackupFile(ctx, img, backupFile)
	if ferr := img.Flush(context.WithoutCancel(ctx), opts.Flush); ferr != nil {
		return n, errors.Join(err, ferr)
	}
	logger.Or(opts.Logger).Info("backup restored", "image", path, "backup", backupFile, "tracks", n)
	return n, err
}

// ReadImage returns the whole contents of an image file.
func ReadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, "read "+path, err)
	}
	return data, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
