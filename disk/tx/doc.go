// Package tx provides all-or-nothing writes to a disk.Backend.
//
// A Manager stages track, sector, flux, format and erase operations and
// commits them in order. Before the first write it captures a backup of
// every target track; if any operation fails, the operations that reached
// the medium are restored newest first.
//
// Transaction lifecycle:
//  1. Begin() - new transaction in Idle
//  2. Add*() - stage operations (Idle/Pending -> Pending)
//  3. Commit() - Committing -> Committed, or Failed -> RolledBack
//  4. Abort() - Pending -> Aborted, or a stop request during Commit
//
// Cancellation is cooperative: the commit loop checks its context and the
// abort flag between operations. A single backend write is never
// interrupted.
//
// Backups live on the staged operations and go away with the Manager. They
// can also be saved to and loaded from a backup file, so a crashed write
// can be rolled back by a later process:
//
//	n, err := tx.RestoreBackupFile(ctx, backend, "disk.uftb")
package tx
