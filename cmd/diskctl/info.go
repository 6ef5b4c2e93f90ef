package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/pkg/floppy"
	"github.com/joshuapare/floppykit/pkg/types"
)

// imageInfo is the JSON shape of the info command.
type imageInfo struct {
	Path      string         `json:"path"`
	Size      int64          `json:"size"`
	Preset    string         `json:"preset,omitempty"`
	Geometry  types.Geometry `json:"geometry"`
	Tracks    int            `json:"tracks"`
	TrackSize int            `json:"track_size"`
	Mapped    bool           `json:"mapped"`
}

func (a *app) newInfoCmd() *cobra.Command {
	var listPresets bool
	cmd := &cobra.Command{
		Use:   "info [image]",
		Short: "Show the geometry of a disk image",
		Long: `The info command opens a flat sector image and reports its size and
geometry. The geometry comes from --preset, explicit --cylinders/--heads/
--sectors/--sector-size, or the preset whose capacity matches the file.

Example:
  diskctl info game.adf
  diskctl info custom.img --cylinders 40 --heads 1 --sectors 10 --sector-size 256
  diskctl info --presets`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listPresets {
				return a.runPresets()
			}
			if len(args) != 1 {
				return fmt.Errorf("info needs an image path (or --presets)")
			}
			return a.runInfo(args[0])
		},
	}
	cmd.Flags().BoolVar(&listPresets, "presets", false, "List known geometry presets")
	addGeometryFlags(cmd)
	return cmd
}

// addGeometryFlags registers the flags that override geometry.* settings.
func addGeometryFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("preset", "", "Geometry preset (see 'diskctl info --presets')")
	f.Int("cylinders", 0, "Cylinders")
	f.Int("heads", 0, "Heads")
	f.Int("sectors", 0, "Sectors per track")
	f.Int("sector-size", 0, "Bytes per sector")
}

// geometry resolves the geometry for the image at path.
func (a *app) geometry(path string) (types.Geometry, error) {
	st, err := os.Stat(path)
	if err != nil {
		return types.Geometry{}, types.Errorf(types.ErrKindInvalidArgument, "image file not found: %s", path)
	}
	return a.cfg.ResolveGeometry(st.Size())
}

func (a *app) runInfo(path string) error {
	a.printVerbose("Opening image: %s\n", path)

	geom, err := a.geometry(path)
	if err != nil {
		return err
	}
	img, err := floppy.OpenImage(path, geom)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	info := imageInfo{
		Path:      path,
		Size:      int64(len(img.Bytes())),
		Preset:    presetName(geom),
		Geometry:  geom,
		Tracks:    geom.Tracks(),
		TrackSize: geom.TrackSize(),
		Mapped:    img.Mapped(),
	}
	if a.cfg.JSON {
		return a.printJSON(info)
	}

	a.printInfo("\nImage Information:\n")
	a.printInfo("  File:      %s\n", info.Path)
	a.printInfo("  Size:      %d bytes\n", info.Size)
	if info.Preset != "" {
		a.printInfo("  Preset:    %s\n", info.Preset)
	}
	a.printInfo("  Geometry:  %d cylinders, %d heads, %d sectors of %d bytes\n",
		geom.Cylinders, geom.Heads, geom.SectorsPerTrack, geom.BytesPerSector)
	a.printInfo("  Tracks:    %d of %d bytes\n", info.Tracks, info.TrackSize)
	a.printVerbose("  Mapped:    %t\n", info.Mapped)
	return nil
}

func (a *app) runPresets() error {
	presets := disk.Presets()
	if a.cfg.JSON {
		return a.printJSON(presets)
	}
	for _, p := range presets {
		g := p.Geometry
		a.printInfo("%-10s %-26s %2d/%d/%2d x %d (%d bytes)\n",
			p.Name, p.Description, g.Cylinders, g.Heads, g.SectorsPerTrack, g.BytesPerSector, g.TotalBytes())
	}
	return nil
}

// presetName returns the name of the first preset with geometry geom.
func presetName(geom types.Geometry) string {
	for _, p := range disk.Presets() {
		if p.Geometry == geom {
			return p.Name
		}
	}
	return ""
}
