package printer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/joshuapare/floppykit/disk/preview"
	"github.com/joshuapare/floppykit/disk/tx"
	"github.com/joshuapare/floppykit/disk/verify"
)

var (
	okColor      = lipgloss.Color("#04B575")
	infoColor    = lipgloss.Color("#00D7FF")
	warningColor = lipgloss.Color("#FFA500")
	errorColor   = lipgloss.Color("#FF4B4B")
)

// badge renders label as a colored tag, or as [label] with NoColor.
func (p *Printer) badge(label string, c lipgloss.Color) string {
	if p.opts.NoColor {
		return "[" + label + "]"
	}
	return p.style.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(c).
		Padding(0, 1).
		Render(label)
}

func riskColor(desc string) lipgloss.Color {
	switch desc {
	case preview.RiskLow:
		return okColor
	case preview.RiskModerate:
		return infoColor
	case preview.RiskElevated, preview.RiskHigh:
		return warningColor
	default:
		return errorColor
	}
}

func levelColor(l preview.Level) lipgloss.Color {
	switch l {
	case preview.LevelOK:
		return okColor
	case preview.LevelWarning:
		return warningColor
	default:
		return errorColor
	}
}

func statusColor(s verify.Status) lipgloss.Color {
	switch {
	case s == verify.StatusOK:
		return okColor
	case s.Passed():
		return warningColor
	default:
		return errorColor
	}
}

func stateColor(s tx.State) lipgloss.Color {
	switch s {
	case tx.StateCommitted:
		return okColor
	case tx.StateRolledBack, tx.StateAborted:
		return warningColor
	case tx.StateFailed:
		return errorColor
	default:
		return infoColor
	}
}

func (p *Printer) bytes(n int64) string { return p.num.Sprintf("%d", n) }

func (p *Printer) line(format string, args ...any) {
	fmt.Fprintf(p.writer, format+"\n", args...)
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.writer)
	t.SetStyle(table.StyleLight)
	return t
}

// limit returns how many of n rows to print.
func (p *Printer) limit(n int) int {
	if p.opts.MaxRows > 0 && n > p.opts.MaxRows {
		return p.opts.MaxRows
	}
	return n
}

func (p *Printer) more(shown, total int, what string) {
	if shown < total {
		p.line("  ... %d more %s", total-shown, what)
	}
}

func (p *Printer) printReportText(r *preview.Report) error {
	title := "Preview"
	if r.DiskPath != "" {
		title += ": " + r.DiskPath
	}
	p.line("%s", title)
	p.line("  Geometry:         %s", r.Geometry)
	p.line("  Tracks modified:  %d of %d", r.TracksModified, r.TracksTotal)
	p.line("  Sectors modified: %d", r.SectorsModified)
	p.line("  Bytes to write:   %s", p.bytes(r.BytesToWrite))
	p.line("  Bytes changed:    %s of %s (%.2f%%)",
		p.bytes(r.BytesChanged), p.bytes(r.BytesTotal), r.ChangePercent())
	if r.HashBefore != "" {
		p.line("  Hash before:      %s", r.HashBefore)
		p.line("  Hash after:       %s", r.HashAfter)
	}
	p.line("  Validation:       %s %d warning(s), %d error(s)",
		p.badge(r.OverallValidation.String(), levelColor(r.OverallValidation)), r.WarningCount, r.ErrorCount)
	p.line("  Risk:             %s %d/100, %s",
		p.badge(r.RiskDescription, riskColor(r.RiskDescription)), r.RiskScore, r.RiskAdvice())

	if len(r.PerTrackChanges) > 0 {
		p.line("")
		t := p.newTable()
		t.AppendHeader(table.Row{"#", "Location", "Kind", "Type", "Bytes", "Changed", "%", "Check"})
		n := p.limit(len(r.PerTrackChanges))
		for i, c := range r.PerTrackChanges[:n] {
			loc := fmt.Sprintf("c%d/h%d", c.Cylinder, c.Head)
			if c.Sector >= 0 {
				loc += fmt.Sprintf("/s%d", c.Sector)
			}
			t.AppendRow(table.Row{
				i, loc, c.Kind, c.ChangeType.String(),
				p.bytes(int64(c.BytesTotal)), p.bytes(int64(c.BytesChanged)),
				fmt.Sprintf("%.1f", c.ChangePercent), c.Validation.String(),
			})
		}
		t.Render()
		p.more(n, len(r.PerTrackChanges), "changes")
	}

	if len(r.Issues) > 0 {
		p.line("")
		p.line("Issues:")
		for _, is := range r.Issues {
			p.line("  %s change %d %s: %s", is.Level, is.Index, is.Loc, is.Message)
		}
	}
	return nil
}

func opStatus(op tx.OperationResult) string {
	switch op.Outcome.Status {
	case tx.OpRolledBack:
		return "rolled back"
	case tx.OpNotRun:
		return "not run"
	default:
		return op.Outcome.Status
	}
}

func (p *Printer) printResultText(r *tx.Result) error {
	p.line("Transaction %s %s", r.ID, p.badge(r.FinalState.String(), stateColor(r.FinalState)))
	p.line("  Operations: %d total, %d executed, %d succeeded, %d failed, %d rolled back",
		r.OperationsTotal, r.OperationsExecuted, r.OperationsSucceeded, r.OperationsFailed, r.OperationsRolledBack)
	if r.FailedIndex >= 0 && r.FailedLocation != nil {
		p.line("  Failed at:  operation %d (%s)", r.FailedIndex, r.FailedLocation)
	}
	if r.ErrorMessage != "" {
		p.line("  Error:      %s", r.ErrorMessage)
	}
	if r.RollbackMessage != "" {
		p.line("  Rollback:   %s", r.RollbackMessage)
	}
	p.line("  Time:       commit %.1f ms, rollback %.1f ms, total %.1f ms", r.CommitMS, r.RollbackMS, r.TotalMS)

	if len(r.Operations) == 0 {
		return nil
	}
	p.line("")
	t := p.newTable()
	t.AppendHeader(table.Row{"#", "Op", "Location", "Bytes", "Backup", "Status", "Verify"})
	n := p.limit(len(r.Operations))
	for _, op := range r.Operations[:n] {
		v := "-"
		if ov := op.Outcome.Verify; ov != nil {
			v = ov.Status.String()
			if ov.RetryCount > 0 {
				v += fmt.Sprintf(" (%d retries)", ov.RetryCount)
			}
		}
		t.AppendRow(table.Row{op.Index, op.Kind, op.Loc().String(), p.bytes(int64(op.NewBytes)),
			yesNo(op.HasBackup), opStatus(op), v})
	}
	t.Render()
	p.more(n, len(r.Operations), "operations")
	return nil
}

func (p *Printer) printInfoText(i tx.Info) error {
	p.line("Transaction %s %s", i.ID, p.badge(i.State.String(), stateColor(i.State)))
	p.line("  Operations:      %d staged, %d executed", len(i.Operations), i.ExecutedCount)
	p.line("  Backup bytes:    %s", p.bytes(i.BackupBytes))
	p.line("  Abort requested: %s", yesNo(i.AbortRequested))
	p.line("  Options:         backup %s, verify %s, auto-rollback %s",
		yesNo(i.Options.CreateBackup), yesNo(i.Options.VerifyAfter), yesNo(i.Options.AutoRollback))
	if i.Log != "" {
		p.line("  Log:             %s", i.Log)
	}
	n := p.limit(len(i.Operations))
	for _, op := range i.Operations[:n] {
		p.line("    %3d %-12s %-10s %s", op.Index, op.Kind, op.Loc(), opStatus(op))
	}
	p.more(n, len(i.Operations), "operations")
	return nil
}

func (p *Printer) printOutcome(o verify.Outcome) {
	p.line("  Bytes matching: %s of %s (%.2f%%)",
		p.bytes(int64(o.BytesMatching)), p.bytes(int64(o.BytesTotal)), o.MatchPercent)
	p.line("  CRC-32:         expected %08x, actual %08x", o.CRCExpected, o.CRCActual)
	if o.MismatchCount > 0 {
		p.line("  Mismatches:     %s", p.bytes(int64(o.MismatchCount)))
	}
	if o.RetryCount > 0 || o.Writes > 0 {
		p.line("  Retries:        %d (writes %d)", o.RetryCount, o.Writes)
	}
	if o.Message != "" {
		p.line("  Message:        %s", o.Message)
	}
}

func (p *Printer) printDiskText(r *verify.DiskResult) error {
	p.line("Verify %s %s", strings.ToLower(r.Mode.String()), p.badge(r.Status.String(), statusColor(r.Status)))
	p.line("  Tracks:         %d verified, %d failed, %d total", r.TracksVerified, r.TracksFailed, r.TracksTotal)
	p.printOutcome(r.Outcome)
	if fm := r.FirstMismatch; fm != nil {
		p.line("  First mismatch: c%d/h%d/s%d at offset %#x (%s)", fm.Cylinder, fm.Head, fm.Sector, fm.Offset, fm.Status)
	}
	if r.HashExpected != "" {
		p.line("  SHA-256:        expected %s", r.HashExpected)
		p.line("                  actual   %s", r.HashActual)
	}

	rows := make([]verify.TrackResult, 0, len(r.Tracks))
	for _, tr := range r.Tracks {
		if p.opts.AllTracks || tr.Status != verify.StatusOK {
			rows = append(rows, tr)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	p.line("")
	t := p.newTable()
	t.AppendHeader(table.Row{"Cyl", "Head", "Status", "Match %", "Mismatches", "Retries"})
	n := p.limit(len(rows))
	for _, tr := range rows[:n] {
		t.AppendRow(table.Row{tr.Cylinder, tr.Head, tr.Status.String(),
			fmt.Sprintf("%.2f", tr.MatchPercent), tr.MismatchCount, tr.RetryCount})
	}
	t.Render()
	p.more(n, len(rows), "tracks")
	return nil
}

func (p *Printer) printTrackText(r *verify.TrackResult) error {
	p.line("Track c%d/h%d %s", r.Cylinder, r.Head, p.badge(r.Status.String(), statusColor(r.Status)))
	p.printOutcome(r.Outcome)

	if f := r.Flux; f != nil {
		p.line("  Flux:           %d samples, %d errors, quality %.1f%%, max deviation %.1f%%",
			f.Samples, f.Errors, f.Quality, f.MaxDeviation)
	}

	if len(r.Sectors) > 0 {
		p.line("")
		t := p.newTable()
		t.AppendHeader(table.Row{"Sector", "Status", "Match %", "CRC expected", "CRC actual"})
		for _, s := range r.Sectors {
			t.AppendRow(table.Row{s.Sector, s.Status.String(), fmt.Sprintf("%.2f", s.MatchPercent),
				fmt.Sprintf("%08x", s.CRCExpected), fmt.Sprintf("%08x", s.CRCActual)})
		}
		t.Render()
	}

	if p.opts.MaxMismatches > 0 && len(r.Mismatches) > 0 {
		p.line("")
		t := p.newTable()
		t.AppendHeader(table.Row{"Offset", "Expected", "Actual", "XOR"})
		n := min(len(r.Mismatches), p.opts.MaxMismatches)
		for _, m := range r.Mismatches[:n] {
			t.AppendRow(table.Row{fmt.Sprintf("%#06x", m.Offset),
				fmt.Sprintf("%02x", m.Expected), fmt.Sprintf("%02x", m.Actual), fmt.Sprintf("%02x", m.XOR)})
		}
		t.Render()
		p.more(n, r.MismatchCount, "mismatches")
	}
	return nil
}

func (p *Printer) printMultiPassText(r *verify.MultiPassResult) error {
	label, c := "CONSISTENT", okColor
	if !r.Consistent {
		label, c = "WEAK", warningColor
	}
	p.line("Track c%d/h%d %s", r.Cylinder, r.Head, p.badge(label, c))
	p.line("  Passes:     %d", r.Passes)
	crcs := make([]string, len(r.CRCs))
	for i, v := range r.CRCs {
		crcs[i] = fmt.Sprintf("%08x", v)
	}
	p.line("  CRC-32:     %s", strings.Join(crcs, " "))
	if r.WeakCount > 0 {
		offs := make([]string, len(r.WeakBytes))
		for i, o := range r.WeakBytes {
			offs[i] = fmt.Sprintf("%#x", o)
		}
		p.line("  Weak bytes: %d at %s", r.WeakCount, strings.Join(offs, ", "))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
