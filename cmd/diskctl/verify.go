package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/floppykit/pkg/floppy"
	"github.com/joshuapare/floppykit/pkg/types"
)

// exitMismatch is the exit code of a verify that completed and found
// differences.
const exitMismatch = 2

type verifyFlags struct {
	track       string
	passes      int
	stopOnFirst bool
}

func (a *app) newVerifyCmd() *cobra.Command {
	var vf verifyFlags
	cmd := &cobra.Command{
		Use:   "verify <image> [expected-image]",
		Short: "Compare a disk image with the expected contents",
		Long: `The verify command reads a disk image track by track and compares it with
an expected image. It exits with status 2 when the contents differ.

With --track only one track is compared. With --track and --passes the
track is read several times to find weak bytes; no expected image is needed.

Example:
  diskctl verify game.adf master.adf
  diskctl verify game.adf master.adf --mode sector --stop-on-first
  diskctl verify game.adf master.adf --track 12/1
  diskctl verify game.adf --track 0/0 --passes 5`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd, args, vf)
		},
	}

	f := cmd.Flags()
	f.StringVar(&vf.track, "track", "", "Verify a single track, as cylinder/head")
	f.IntVar(&vf.passes, "passes", 0, "Read the track this many times and report weak bytes")
	f.BoolVar(&vf.stopOnFirst, "stop-on-first", false, "Stop at the first failing track")
	f.String("mode", "bitwise", "Verify mode: bitwise, crc, sector or flux")
	f.Int("retries", types.DefaultMaxRetries, "Read retries per track")
	f.Int("max-mismatch", types.DefaultMaxMismatches, "Mismatches to record per track")
	f.Float64("flux-tolerance", 5, "Flux timing tolerance, percent")
	f.Int("gap-bytes", 0, "Gap bytes after each sector in sector mode")
	f.String("format", "", "Registered comparator to use")
	f.Bool("no-hashes", false, "Skip whole-image SHA-256 hashes")
	addGeometryFlags(cmd)
	return cmd
}

func (a *app) runVerify(cmd *cobra.Command, args []string, vf verifyFlags) error {
	ctx := cmd.Context()
	path := args[0]

	opts := a.options()
	geom, err := a.geometry(path)
	if err != nil {
		return err
	}
	opts.Geometry = geom
	opts.Verify.StopOnFirst = vf.stopOnFirst
	p := a.printer()

	if vf.passes > 0 {
		if vf.track == "" {
			return types.Errorf(types.ErrKindInvalidArgument, "--passes needs --track")
		}
		cyl, head, err := parseTrack(vf.track)
		if err != nil {
			return err
		}
		res, err := floppy.MultiPass(ctx, path, cyl, head, vf.passes, opts)
		if err != nil {
			return err
		}
		if err := p.PrintMultiPass(res); err != nil {
			return err
		}
		if !res.Consistent {
			return &exitError{code: exitMismatch}
		}
		return nil
	}

	if len(args) != 2 {
		return fmt.Errorf("verify needs an expected image (or --track with --passes)")
	}
	expected, err := floppy.ReadImage(args[1])
	if err != nil {
		return err
	}

	if vf.track != "" {
		cyl, head, err := parseTrack(vf.track)
		if err != nil {
			return err
		}
		res, err := floppy.VerifyTrack(ctx, path, cyl, head, expected, opts)
		if err != nil {
			return err
		}
		if err := p.PrintTrack(res); err != nil {
			return err
		}
		if !res.Status.Passed() {
			return &exitError{code: exitMismatch}
		}
		return nil
	}

	a.printVerbose("Verifying %s against %s (%s)\n", path, args[1], opts.Verify.Mode)
	res, err := floppy.VerifyImage(ctx, path, expected, opts)
	if err != nil {
		return err
	}
	if err := p.PrintDisk(res); err != nil {
		return err
	}
	if !res.Status.Passed() {
		return &exitError{code: exitMismatch}
	}
	return nil
}

// parseTrack parses "cylinder/head".
func parseTrack(s string) (cyl, head int, err error) {
	var extra string
	n, _ := fmt.Sscanf(s, "%d/%d%s", &cyl, &head, &extra)
	if n != 2 {
		return 0, 0, types.Errorf(types.ErrKindInvalidArgument, "invalid track %q, want cylinder/head", s)
	}
	return cyl, head, nil
}
