package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/joshuapare/floppykit/disk/dirty"
	"github.com/joshuapare/floppykit/pkg/floppy"
	"github.com/joshuapare/floppykit/pkg/types"
)

type writeFlags struct {
	dryRun     bool
	backupFile string
	force      bool
	flush      string
	tui        bool
}

func (a *app) newWriteCmd() *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "write <image> <new-image>",
		Short: "Write a new image over a disk image inside a transaction",
		Long: `The write command previews the change, backs up every track it will
touch, writes each changed track with read-back verification and rolls
everything back if any write fails.

Example:
  diskctl write game.adf patched.adf
  diskctl write game.adf patched.adf --backup-file before.uftb
  diskctl write game.adf patched.adf --dry-run
  diskctl write game.adf patched.adf --mode crc --retries 5 --timeout 30s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWrite(cmd.Context(), args, wf)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&wf.dryRun, "dry-run", false, "Preview only, write nothing")
	f.StringVar(&wf.backupFile, "backup-file", "", "Save a backup of touched tracks to this file")
	f.BoolVar(&wf.force, "force", false, "Write even when the preview reports errors")
	f.StringVar(&wf.flush, "flush", "auto", "Flush mode: auto, data-only or full")
	f.BoolVar(&wf.tui, "tui", false, "Show an interactive progress bar")
	f.Bool("no-backup", false, "Do not back up tracks before writing")
	f.Bool("no-verify", false, "Do not read back and verify each write")
	f.Bool("no-rollback", false, "Do not roll back automatically on failure")
	f.Duration("timeout", 0, "Commit deadline (0 for none)")
	f.String("tx-log", "", "Append a JSON-lines transaction log to this file")
	f.String("mode", "bitwise", "Verify mode: bitwise, crc, sector or flux")
	f.Int("retries", types.DefaultMaxRetries, "Write-verify retries per track")
	f.Int("max-ops", types.DefaultMaxOperations, "Maximum staged operations")
	addGeometryFlags(cmd)
	return cmd
}

func (a *app) runWrite(ctx context.Context, args []string, wf writeFlags) error {
	path, newPath := args[0], args[1]

	opts := a.options()
	geom, err := a.geometry(path)
	if err != nil {
		return err
	}
	opts.Geometry = geom
	opts.DryRun = wf.dryRun
	opts.BackupFile = wf.backupFile
	opts.AllowRisky = wf.force
	if opts.Flush, err = dirty.ParseFlushMode(wf.flush); err != nil {
		return types.Wrap(types.ErrKindInvalidArgument, "--flush", err)
	}

	data, err := floppy.ReadImage(newPath)
	if err != nil {
		return err
	}
	a.printVerbose("Writing %s over %s (%s)\n", newPath, path, geom)

	var res *floppy.WriteResult
	if wf.tui && !a.cfg.JSON && interactive(a.out) {
		res, err = a.runWriteTUI(ctx, path, data, opts)
	} else {
		res, err = a.writeWithProgress(ctx, path, data, opts)
	}
	if res != nil {
		if perr := a.printWriteResult(res, wf.dryRun); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

// writeWithProgress runs the write, printing progress events in verbose mode.
func (a *app) writeWithProgress(ctx context.Context, path string, data []byte, opts *floppy.Options) (*floppy.WriteResult, error) {
	if !a.cfg.Verbose || a.cfg.Quiet || a.cfg.JSON {
		return floppy.WriteImage(ctx, path, data, opts)
	}

	events := make(chan types.Progress, 16)
	opts.Progress = events
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			if ev.Err != "" {
				a.printVerbose("  %-8s %d/%d %s: %s\n", ev.Stage, ev.Current, ev.Total, ev.Loc, ev.Err)
				continue
			}
			a.printVerbose("  %-8s %d/%d %s\n", ev.Stage, ev.Current, ev.Total, ev.Loc)
		}
	}()

	res, err := floppy.WriteImage(ctx, path, data, opts)
	close(events)
	wg.Wait()
	return res, err
}

func (a *app) printWriteResult(res *floppy.WriteResult, dryRun bool) error {
	if a.cfg.JSON {
		return a.printJSON(res)
	}
	p := a.printer()
	if err := p.PrintReport(res.Preview); err != nil {
		return err
	}
	a.printInfo("\n")
	switch {
	case res.Skipped && dryRun:
		a.printInfo("Dry run: nothing written\n")
	case res.Skipped:
		a.printInfo("Nothing to write\n")
	case res.Tx != nil:
		if err := p.PrintResult(res.Tx); err != nil {
			return err
		}
	}
	if res.BackupFile != "" {
		a.printInfo("Backup saved to %s\n", res.BackupFile)
	}
	return nil
}

