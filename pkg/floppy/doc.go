/*
Package floppy provides high-level image operations built on the disk
packages: preview a write, write an image through a transaction, verify an
image against expected contents, and restore a saved backup.

# Quick Start

Write a new image over an existing one with backup, write-verify and
automatic rollback:

	res, err := floppy.WriteImage(ctx, "disk.img", newImage, nil)
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(res.Tx.FinalState)

Preview first and keep a backup file:

	opts := floppy.DefaultOptions()
	opts.BackupFile = "disk.uftb"
	report, err := floppy.PreviewImage(ctx, "disk.img", newImage, opts)
	if err != nil || report.RiskScore >= 60 {
	    return err
	}
	res, err := floppy.WriteImage(ctx, "disk.img", newImage, opts)

Undo a write later:

	n, err := floppy.RestoreBackup(ctx, "disk.img", "disk.uftb", nil)
*/
package floppy
