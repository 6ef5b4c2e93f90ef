package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/floppykit/disk/printer"
	"github.com/joshuapare/floppykit/internal/config"
	"github.com/joshuapare/floppykit/internal/logger"
	"github.com/joshuapare/floppykit/pkg/floppy"
)

// app holds the global flags and the state shared by every command.
type app struct {
	// Global flags
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
	noColor bool
	logFile string

	cfg  *config.Config
	logC io.Closer
	out  io.Writer
	errW io.Writer
}

// exitError carries a process exit code for failures that are results
// rather than errors, like a verify mismatch.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "diskctl",
		Short: "Preview, write, verify and roll back floppy disk images",
		Long: `diskctl writes sector images to floppy disk images safely. Every write is
previewed, backed up, verified after writing and rolled back on failure.
Settings come from diskctl.yaml, DISKCTL_ environment variables and flags.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "Config file (default ./diskctl.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress all output except errors")
	pf.BoolVar(&a.jsonOut, "json", false, "Output in JSON format")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&a.logFile, "log-file", "", "Write structured logs to this file")

	cmd.AddCommand(
		a.newInfoCmd(),
		a.newPreviewCmd(),
		a.newWriteCmd(),
		a.newVerifyCmd(),
		a.newRestoreCmd(),
		newVersionCmd(),
	)
	return cmd
}

func execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and starts logging before any command runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.out = cmd.OutOrStdout()
	a.errW = cmd.ErrOrStderr()

	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	closer, err := logger.Init(cfg.LoggerOptions())
	if err != nil {
		fmt.Fprintf(a.errW, "Warning: failed to init logging: %v\n", err)
	} else {
		a.logC = closer
	}
	logger.Debug("config loaded", "file", cfg.File, "config", cfg.String())
	return nil
}

func (a *app) teardown() error {
	if a.logC != nil {
		err := a.logC.Close()
		a.logC = nil
		return err
	}
	return nil
}

// options builds facade options from the loaded configuration.
func (a *app) options() *floppy.Options {
	opts := floppy.DefaultOptions()
	opts.Preview = a.cfg.PreviewOptions()
	opts.Tx = a.cfg.TxOptions()
	opts.Verify = a.cfg.VerifyOptions()
	opts.Logger = logger.L
	return opts
}

func (a *app) printer() *printer.Printer {
	opts := printer.DefaultOptions()
	if a.cfg.JSON {
		opts.Format = printer.FormatJSON
	}
	opts.NoColor = a.cfg.NoColor
	opts.AllTracks = a.cfg.Verbose
	return printer.New(a.out, opts)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func (a *app) printInfo(format string, args ...interface{}) {
	if !a.cfg.Quiet {
		fmt.Fprintf(a.out, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func (a *app) printVerbose(format string, args ...interface{}) {
	if a.cfg.Verbose && !a.cfg.Quiet {
		fmt.Fprintf(a.out, format, args...)
	}
}

// printJSON outputs data as JSON
func (a *app) printJSON(v interface{}) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
