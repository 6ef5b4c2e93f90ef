// Package verify reads written data back through a disk.Backend and
// compares it with what was intended.
//
// Four comparison modes are supported:
//
//   - Bitwise: exact byte match, with a CRC-32 fast path and a capped list
//     of differing offsets
//   - CRC: checksum only, for quick passes over large images
//   - Sector: per-sector comparison that skips gap bytes between payloads
//   - Flux: timing samples matched within a percentage tolerance and a
//     small alignment window
//
// Every read is retried up to Options.MaxRetries times before a failure is
// reported. Write-verify (WriteTrackVerified, WriteSectorVerified) repeats
// the whole write+read cycle instead.
//
// Format-aware comparators live in a Registry that the caller constructs
// and passes to New:
//
//	v := verify.New(backend, verify.DefaultRegistry(), nil)
//	res, err := v.VerifyTrack(ctx, 0, 0, want, verify.DefaultOptions())
package verify
