package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/floppykit/disk/dirty"
	"github.com/joshuapare/floppykit/pkg/floppy"
	"github.com/joshuapare/floppykit/pkg/types"
)

func (a *app) newRestoreCmd() *cobra.Command {
	var flush string
	cmd := &cobra.Command{
		Use:   "restore <image> <backup>",
		Short: "Write a saved track backup back to a disk image",
		Long: `The restore command writes every track saved by 'diskctl write
--backup-file' back to the image.

Example:
  diskctl restore game.adf before.uftb`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, backup := args[0], args[1]

			opts := a.options()
			geom, err := a.geometry(path)
			if err != nil {
				return err
			}
			opts.Geometry = geom
			if opts.Flush, err = dirty.ParseFlushMode(flush); err != nil {
				return types.Wrap(types.ErrKindInvalidArgument, "--flush", err)
			}

			a.printVerbose("Restoring %s from %s\n", path, backup)
			n, err := floppy.RestoreBackup(cmd.Context(), path, backup, opts)
			if err != nil {
				return err
			}
			if a.cfg.JSON {
				return a.printJSON(map[string]any{"image": path, "backup": backup, "tracks_restored": n})
			}
			a.printInfo("Restored %d track(s) from %s\n", n, backup)
			return nil
		},
	}
	cmd.Flags().StringVar(&flush, "flush", "auto", "Flush mode: auto, data-only or full")
	addGeometryFlags(cmd)
	return cmd
}
