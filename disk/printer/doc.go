// Package printer renders preview reports, transaction results and verify
// results as text or JSON.
//
// Text output uses tables for per-track and per-operation detail and a
// colored badge for the overall status. JSON output uses the same field
// names as the report types' JSON tags.
//
// Example:
//
//	opts := printer.DefaultOptions()
//	opts.NoColor = true
//	p := printer.New(os.Stdout, opts)
//	if err := p.PrintReport(report); err != nil {
//		return err
//	}
package printer
