// Package types defines the shared vocabulary of the floppykit write
// pipeline: medium geometry, track/sector locations, progress events and the
// typed error taxonomy.
//
// Design goals:
//   - Small, copyable values (Geometry, Location) instead of handles.
//   - Typed errors with stable categories (invalid argument/state/io/...).
//   - Every failure that concerns a staged operation carries its index and
//     location (OpError) so it can be explained without re-running it.
//
// This package has no dependencies beyond the standard library.
package types
