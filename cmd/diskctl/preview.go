package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/floppykit/pkg/floppy"
)

func (a *app) newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <image> <new-image>",
		Short: "Show what writing a new image would change",
		Long: `The preview command compares a new image against the current contents of
a disk image, track by track, and reports what would change, validation
issues and a risk score. Nothing is written.

Example:
  diskctl preview game.adf patched.adf
  diskctl preview game.adf patched.adf --diff --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPreview(cmd, args)
		},
	}
	addGeometryFlags(cmd)
	cmd.Flags().Bool("diff", false, "Include per-track byte diffs")
	cmd.Flags().Int("max-tracks", 0, "Maximum tracks a change set may touch")
	return cmd
}

func (a *app) runPreview(cmd *cobra.Command, args []string) error {
	path, newPath := args[0], args[1]

	opts := a.options()
	geom, err := a.geometry(path)
	if err != nil {
		return err
	}
	opts.Geometry = geom

	data, err := floppy.ReadImage(newPath)
	if err != nil {
		return err
	}
	a.printVerbose("Previewing %s over %s\n", newPath, path)

	report, err := floppy.PreviewImage(cmd.Context(), path, data, opts)
	if err != nil {
		return err
	}
	return a.printer().PrintReport(report)
}
