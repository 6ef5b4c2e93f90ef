// Package preview answers "what would this write do?" before anything
// touches the medium.
//
// An Analyzer stages track, sector and flux writes, reads the affected
// tracks once, and produces a Report: per-change byte diffs, validation
// findings and a 0..100 risk score for the operator. Analyze never writes.
//
//	a, _ := preview.New(backend, preview.DefaultOptions())
//	_ = a.SetImage(img)
//	rep, err := a.Analyze(ctx)
//	if rep.RiskDescription == preview.RiskCritical { ... }
//
// Commit applies the staged changes directly and without backups. For an
// all-or-nothing write, hand Changes() to a tx.Manager instead.
package preview
