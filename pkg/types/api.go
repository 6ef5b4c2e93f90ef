package types

import (
	"context"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindInvalidArgument ErrKind = iota // bad location, size or option
	ErrKindOutOfMemory                    // allocation of a backup or track buffer failed
	ErrKindLimitExceeded                  // too many staged operations
	ErrKindState                          // invalid operation for the current lifecycle state
	ErrKindIO                             // backend read/write failure
	ErrKindVerifyMismatch                 // read-back did not match after all retries
	ErrKindNoBackup                       // restore requested without a valid backup
	ErrKindAborted                        // cancelled between operations
	ErrKindTimeout                        // deadline passed between operations
)

var errKindNames = [...]string{
	ErrKindInvalidArgument: "InvalidArgument",
	ErrKindOutOfMemory:     "OutOfMemory",
	ErrKindLimitExceeded:   "LimitExceeded",
	ErrKindState:           "StateError",
	ErrKindIO:              "IoError",
	ErrKindVerifyMismatch:  "VerifyMismatch",
	ErrKindNoBackup:        "NoBackupAvailable",
	ErrKindAborted:         "Aborted",
	ErrKindTimeout:         "Timeout",
}

func (k ErrKind) String() string {
	if k >= 0 && int(k) < len(errKindNames) {
		return errKindNames[k]
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind, so
// errors.Is(err, ErrState) holds for every state error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// Sentinels commonly returned by implementations.
var (
	// ErrInvalidArgument indicates a location, size or option outside its domain.
	ErrInvalidArgument = &Error{Kind: ErrKindInvalidArgument, Msg: "invalid argument"}
	// ErrOutOfMemory indicates a buffer could not be allocated.
	ErrOutOfMemory = &Error{Kind: ErrKindOutOfMemory, Msg: "out of memory"}
	// ErrLimitExceeded indicates the staged operation cap was reached.
	ErrLimitExceeded = &Error{Kind: ErrKindLimitExceeded, Msg: "operation limit exceeded"}
	// ErrState indicates the call is not valid in the current lifecycle state.
	ErrState = &Error{Kind: ErrKindState, Msg: "invalid state"}
	// ErrIO indicates a backend read or write failed.
	ErrIO = &Error{Kind: ErrKindIO, Msg: "i/o error"}
	// ErrVerifyMismatch indicates read-back data differed from what was written.
	ErrVerifyMismatch = &Error{Kind: ErrKindVerifyMismatch, Msg: "verify mismatch"}
	// ErrNoBackup indicates a restore was requested without a captured backup.
	ErrNoBackup = &Error{Kind: ErrKindNoBackup, Msg: "no backup available"}
	// ErrAborted indicates the caller cancelled the run.
	ErrAborted = &Error{Kind: ErrKindAborted, Msg: "aborted"}
	// ErrTimeout indicates the configured deadline passed.
	ErrTimeout = &Error{Kind: ErrKindTimeout, Msg: "timeout"}
)

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind ErrKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// FromContext converts a context error into Aborted or Timeout.
// Any other error is returned unchanged.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrKindTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return Wrap(ErrKindAborted, "operation cancelled", err)
	default:
		return err
	}
}

// OpError ties a failure to one staged operation.
type OpError struct {
	Index int      // position in the staged sequence
	Op    string   // operation kind, e.g. "write_track"
	Loc   Location // target of the operation
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("operation %d (%s at %s): %v", e.Index, e.Op, e.Loc, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
