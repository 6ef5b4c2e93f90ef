package tx

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joshuapare/floppykit/disk/verify"
	"github.com/joshuapare/floppykit/pkg/types"
)

// State is the lifecycle state of a transaction.
//
//	Idle -> Pending -> Committing -> Committed
//	                              -> Failed -> RollingBack -> RolledBack | Failed
//	Pending -> Aborted
type State int

const (
	StateIdle State = iota
	StatePending
	StateCommitting
	StateCommitted
	StateAborted
	StateRollingBack
	StateRolledBack
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "Idle",
	StatePending:     "Pending",
	StateCommitting:  "Committing",
	StateCommitted:   "Committed",
	StateAborted:     "Aborted",
	StateRollingBack: "RollingBack",
	StateRolledBack:  "RolledBack",
	StateFailed:      "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is possible without an
// explicit Rollback.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateAborted, StateRolledBack, StateFailed:
		return true
	default:
		return false
	}
}

// Options configures a transaction.
type Options struct {
	CreateBackup bool          // capture every target track before the first write
	VerifyAfter  bool          // write through the verifier's write-with-verify
	AutoRollback bool          // roll back automatically when commit fails
	Timeout      time.Duration // commit deadline; 0 means none

	// LogEnabled writes a JSON-lines transaction log to LogPath, or to Logger
	// when LogPath is empty.
	LogEnabled bool
	LogPath    string
	Logger     *slog.Logger

	// MaxOperations caps staged operations. 0 means
	// types.DefaultMaxOperations; negative means unlimited.
	MaxOperations int

	Verify   verify.Options   // used when VerifyAfter is set
	Registry *verify.Registry // format comparators for VerifyAfter

	// Progress receives one event per operation attempted during Commit and
	// one per operation restored during rollback. Sends block; use a
	// buffered channel or drain it concurrently.
	Progress chan<- types.Progress
}

// DefaultOptions enables backup, verification and automatic rollback.
func DefaultOptions() Options {
	return Options{
		CreateBackup:  true,
		VerifyAfter:   true,
		AutoRollback:  true,
		MaxOperations: types.DefaultMaxOperations,
		Verify:        verify.DefaultOptions(),
		Registry:      verify.DefaultRegistry(),
	}
}

// OperationResult is the exported view of one staged operation.
type OperationResult struct {
	Index       int              `json:"index"`
	Kind        string           `json:"kind"`
	Cylinder    int              `json:"cylinder"`
	Head        int              `json:"head"`
	Sector      *int             `json:"sector,omitempty"` // set for sector writes only
	NewBytes    int              `json:"new_bytes"`
	BackupBytes int              `json:"backup_bytes"` // 0 when no backup is held
	HasBackup   bool             `json:"has_backup"`
	Executed    bool             `json:"executed"`
	Outcome     OperationOutcome `json:"outcome"`
}

// Loc returns the operation's target location.
func (o OperationResult) Loc() types.Location {
	if o.Sector != nil {
		return types.Location{Cylinder: o.Cylinder, Head: o.Head, Sector: *o.Sector}
	}
	return types.TrackLoc(o.Cylinder, o.Head)
}

// Operation statuses reported in OperationOutcome.Status.
const (
	OpNotRun     = "not_run"
	OpOK         = "ok"
	OpFailed     = "failed"
	OpTouched    = "touched"
	OpRolledBack = "rolled_back"
)

// OperationOutcome is what executing an operation did.
type OperationOutcome struct {
	Status     string          `json:"status"`
	Touched    bool            `json:"touched"`
	RolledBack bool            `json:"rolled_back"`
	Error      string          `json:"error,omitempty"`
	Verify     *verify.Outcome `json:"verify,omitempty"`
}

// Result summarizes a commit and any rollback that followed it.
type Result struct {
	ID                   string            `json:"id"`
	FinalState           State             `json:"final_state"`
	Err                  error             `json:"-"`
	ErrorMessage         string            `json:"error_message,omitempty"`
	OperationsTotal      int               `json:"operations_total"`
	OperationsExecuted   int               `json:"operations_executed"`
	OperationsSucceeded  int               `json:"operations_succeeded"`
	OperationsFailed     int               `json:"operations_failed"`
	OperationsRolledBack int               `json:"operations_rolled_back"`
	FailedIndex          int               `json:"failed_index"` // -1 when nothing failed
	FailedLocation       *types.Location   `json:"failed_location,omitempty"`
	RollbackErr          error             `json:"-"`
	RollbackMessage      string            `json:"rollback_error,omitempty"`
	Operations           []OperationResult `json:"operations"`
	TotalMS              float64           `json:"total_ms"`
	CommitMS             float64           `json:"commit_ms"`
	RollbackMS           float64           `json:"rollback_ms"`
}

// RollbackResult is the outcome of a rollback sweep.
type RollbackResult struct {
	Attempted  int     `json:"attempted"`
	RolledBack int     `json:"rolled_back"`
	Failed     int     `json:"failed"`
	Err        error   `json:"-"` // joined per-operation errors
	MS         float64 `json:"ms"`
}

// OptionsInfo is the exported view of Options. Callbacks, channels and
// loggers are left out.
type OptionsInfo struct {
	CreateBackup  bool    `json:"create_backup"`
	VerifyAfter   bool    `json:"verify_after"`
	AutoRollback  bool    `json:"auto_rollback"`
	TimeoutMS     float64 `json:"timeout_ms"`
	LogEnabled    bool    `json:"log_enabled"`
	MaxOperations int     `json:"max_operations"`
	VerifyMode    string  `json:"verify_mode,omitempty"`
	VerifyRetries int     `json:"verify_retries,omitempty"`
}

func (o Options) info() OptionsInfo {
	oi := OptionsInfo{
		CreateBackup:  o.CreateBackup,
		VerifyAfter:   o.VerifyAfter,
		AutoRollback:  o.AutoRollback,
		TimeoutMS:     ms(o.Timeout),
		LogEnabled:    o.LogEnabled,
		MaxOperations: o.MaxOperations,
	}
	if o.VerifyAfter {
		oi.VerifyMode = o.Verify.Mode.String()
		oi.VerifyRetries = o.Verify.MaxRetries
	}
	return oi
}

// Info is a point-in-time snapshot of a transaction.
type Info struct {
	ID             string            `json:"id"`
	State          State             `json:"state"`
	Options        OptionsInfo       `json:"options"`
	Operations     []OperationResult `json:"operations"`
	ExecutedCount  int               `json:"executed_count"`
	BackupBytes    int64             `json:"backup_bytes"`
	AbortRequested bool              `json:"abort_requested"`
	Log            string            `json:"log,omitempty"` // transaction log path
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
