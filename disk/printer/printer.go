package printer

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/floppykit/disk/preview"
	"github.com/joshuapare/floppykit/disk/tx"
	"github.com/joshuapare/floppykit/disk/verify"
)

const (
	DefaultMaxRows       = 50
	DefaultMaxMismatches = 16
)

// Format specifies the output format for printing.
type Format string

const (
	// FormatText outputs human-readable text with tables.
	FormatText Format = "text"

	// FormatJSON outputs indented JSON using the reports' field names.
	FormatJSON Format = "json"
)

// Options controls printing behavior.
type Options struct {
	// Format specifies output format (text, json).
	// Default: FormatText
	Format Format

	// NoColor renders status badges as plain bracketed text.
	// Default: false
	NoColor bool

	// MaxRows limits rows per table (0 = unlimited). Omitted rows are
	// summarized on a trailing line.
	// Default: 50
	MaxRows int

	// MaxMismatches limits how many byte mismatches are listed per track
	// (0 = none).
	// Default: 16
	MaxMismatches int

	// AllTracks lists passing tracks in disk verify tables, not just
	// failures.
	// Default: false
	AllTracks bool

	// Language selects digit grouping for byte counts.
	// Default: language.English
	Language language.Tag
}

// DefaultOptions returns sensible defaults for printing.
func DefaultOptions() Options {
	return Options{
		Format:        FormatText,
		MaxRows:       DefaultMaxRows,
		MaxMismatches: DefaultMaxMismatches,
		Language:      language.English,
	}
}

// Printer writes previews, transaction results and verify results.
type Printer struct {
	opts   Options
	writer io.Writer
	num    *message.Printer
	style  *lipgloss.Renderer
}

// New creates a Printer writing to w.
//
// Example:
//
//	p := printer.New(os.Stdout, printer.DefaultOptions())
//	p.PrintReport(report)
func New(w io.Writer, opts Options) *Printer {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return &Printer{
		opts:   opts,
		writer: w,
		num:    message.NewPrinter(opts.Language),
		style:  lipgloss.NewRenderer(w),
	}
}

// PrintReport prints a change preview.
func (p *Printer) PrintReport(r *preview.Report) error {
	if p.opts.Format == FormatJSON {
		return p.printJSON(r)
	}
	return p.printReportText(r)
}

// PrintResult prints the outcome of a transaction commit.
func (p *Printer) PrintResult(r *tx.Result) error {
	if p.opts.Format == FormatJSON {
		return p.printJSON(r)
	}
	return p.printResultText(r)
}

// PrintInfo prints a transaction snapshot.
func (p *Printer) PrintInfo(i tx.Info) error {
	if p.opts.Format == FormatJSON {
		return p.printJSON(i)
	}
	return p.printInfoText(i)
}

// PrintDisk prints a whole-disk verify result.
func (p *Printer) PrintDisk(r *verify.DiskResult) error {
	if p.opts.Format == FormatJSON {
		return p.printJSON(r)
	}
	return p.printDiskText(r)
}

// PrintTrack prints a single-track verify result.
func (p *Printer) PrintTrack(r *verify.TrackResult) error {
	if p.opts.Format == FormatJSON {
		return p.printJSON(r)
	}
	return p.printTrackText(r)
}

// PrintMultiPass prints a multi-pass read consistency result.
func (p *Printer) PrintMultiPass(r *verify.MultiPassResult) error {
	if p.opts.Format == FormatJSON {
		return p.printJSON(r)
	}
	return p.printMultiPassText(r)
}
