package tx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/disk/change"
	"github.com/joshuapare/floppykit/disk/verify"
	"github.com/joshuapare/floppykit/internal/logger"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Manager stages writes against a Backend and commits them as a unit.
//
// Staging, Commit, Rollback and Close must be called from one goroutine.
// Abort, RequestAbort, State, Len, Info, Result and BackupSize may be
// called from any goroutine, which is how a commit running elsewhere is cancelled or
// watched. Every change to an operation's backup or execution state is
// made with mu held.
type Manager struct {
	id   string
	b    disk.Backend
	geom types.Geometry
	opts Options
	log  *slog.Logger
	logC io.Closer

	mu      sync.Mutex
	state   State
	ops     []*change.Change
	results []*verify.Outcome // per-op write-verify outcomes of the last commit
	closed  bool

	abort atomic.Bool
}

// Begin starts a transaction on b in the Idle state.
func Begin(b disk.Backend, opts Options) (*Manager, error) {
	geom, err := b.Geometry()
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, "tx geometry", err)
	}
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxOperations == 0 {
		opts.MaxOperations = types.DefaultMaxOperations
	}

	m := &Manager{
		id:   uuid.NewString(),
		b:    b,
		geom: geom,
		opts: opts,
	}
	if err := m.openLog(); err != nil {
		return nil, err
	}
	m.log.Info("transaction begin",
		"geometry", geom.String(),
		"backup", opts.CreateBackup,
		"verify", opts.VerifyAfter,
		"auto_rollback", opts.AutoRollback)
	return m, nil
}

func (m *Manager) openLog() error {
	base := logger.Or(m.opts.Logger)
	if m.opts.LogEnabled && m.opts.LogPath != "" {
		f, err := logger.OpenFile(m.opts.LogPath)
		if err != nil {
			return types.Wrap(types.ErrKindIO, "open transaction log", err)
		}
		base = logger.New(f, slog.LevelDebug, true)
		m.logC = f
	}
	m.log = base.With("tx", m.id)
	return nil
}

// ID returns the transaction's UUID.
func (m *Manager) ID() string { return m.id }

// Geometry returns the medium geometry read by Begin.
func (m *Manager) Geometry() types.Geometry { return m.geom }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Len returns the number of staged operations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// Info returns a snapshot of the transaction.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.operations(m.ops)
	executed := 0
	for _, op := range ops {
		if op.Executed {
			executed++
		}
	}
	info := Info{
		ID:             m.id,
		State:          m.state,
		Options:        m.opts.info(),
		Operations:     ops,
		ExecutedCount:  executed,
		BackupBytes:    m.backupSize(),
		AbortRequested: m.abort.Load(),
	}
	if m.logC != nil {
		info.Log = m.opts.LogPath
	}
	return info
}

// AddTrack stages a track write.
func (m *Manager) AddTrack(cyl, head int, data []byte) error {
	return m.stage(change.NewTrack(cyl, head, data))
}

// AddSector stages a sector write.
func (m *Manager) AddSector(cyl, head, sector int, data []byte) error {
	return m.stage(change.NewSector(cyl, head, sector, data))
}

// AddFlux stages a flux-level track write.
func (m *Manager) AddFlux(cyl, head int, samples []uint32) error {
	return m.stage(change.NewFlux(cyl, head, samples))
}

// AddFormat stages a track format with the given fill byte.
func (m *Manager) AddFormat(cyl, head int, fill byte) error {
	return m.stage(change.NewFormat(cyl, head, fill))
}

// AddErase stages a track erase.
func (m *Manager) AddErase(cyl, head int) error {
	return m.stage(change.NewErase(cyl, head))
}

// AddChanges stages copies of cs, all or none.
func (m *Manager) AddChanges(cs []*change.Change) error {
	staged := make([]*change.Change, len(cs))
	for i, c := range cs {
		staged[i] = c.Clone()
	}
	return m.stage(staged...)
}

func (m *Manager) stage(cs ...*change.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle && m.state != StatePending {
		return types.Errorf(types.ErrKindState, "tx %s: cannot stage in state %s", m.id, m.state)
	}
	if limit := m.opts.MaxOperations; limit > 0 && len(m.ops)+len(cs) > limit {
		return types.Errorf(types.ErrKindLimitExceeded,
			"tx %s: %d operations staged, limit is %d", m.id, len(m.ops)+len(cs), limit)
	}
	for i, c := range cs {
		if err := c.Check(m.geom); err != nil {
			return &types.OpError{Index: len(m.ops) + i, Op: c.Kind.String(), Loc: c.Loc(), Err: err}
		}
	}

	m.ops = append(m.ops, cs...)
	m.state = StatePending
	for _, c := range cs {
		m.log.Debug("staged", "op", c.Kind.String(), "location", c.Loc().String(), "bytes", len(c.Data))
	}
	return nil
}

// Commit applies the staged operations in order.
//
// Commit protocol:
//  1. With CreateBackup, capture every target track. A failed capture ends
//     the commit before any write.
//  2. Execute operations in staging order, checking for cancellation and
//     abort requests before each one.
//  3. Stop at the first failure. With AutoRollback, restore the operations
//     that reached the medium, newest first.
//
// The returned Result is non-nil whenever the transaction left Pending. The
// error is the first failure (an *types.OpError), or nil when every
// operation succeeded. A rollback failure is reported in Result.RollbackErr.
func (m *Manager) Commit(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.state != StatePending {
		st := m.state
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrKindState, "tx %s: cannot commit in state %s", m.id, st)
	}
	m.state = StateCommitting
	ops := m.ops
	m.results = make([]*verify.Outcome, len(ops))
	m.mu.Unlock()

	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res := &Result{ID: m.id, OperationsTotal: len(ops), FailedIndex: -1}
	m.log.Info("commit start", "operations", len(ops))

	failIdx, failErr := m.captureBackups(ops)
	if failErr == nil {
		failIdx, failErr = m.execute(ctx, ops)
	}
	res.CommitMS = ms(time.Since(start))

	if failErr == nil {
		m.setState(StateCommitted)
		m.log.Info("commit done", "operations", len(ops), "ms", res.CommitMS)
	} else {
		res.Err = failErr
		res.ErrorMessage = failErr.Error()
		res.FailedIndex = failIdx
		loc := ops[failIdx].Loc()
		res.FailedLocation = &loc
		m.setState(StateFailed)
		m.log.Error("commit failed", "index", failIdx, "location", loc.String(), "error", failErr)

		if m.opts.AutoRollback {
			rb := m.rollback(context.WithoutCancel(ctx), ops)
			res.RollbackMS = rb.MS
			if rb.Err != nil {
				res.RollbackErr = rb.Err
				res.RollbackMessage = rb.Err.Error()
			}
		}
	}

	res.FinalState = m.State()
	m.fillCounts(res, ops)
	res.TotalMS = ms(time.Since(start))
	return res, failErr
}

// captureBackups reads every target track before anything is written.
func (m *Manager) captureBackups(ops []*change.Change) (int, error) {
	if !m.opts.CreateBackup {
		return -1, nil
	}
	for i, c := range ops {
		m.mu.Lock()
		err := c.CaptureBackup(m.b)
		if err != nil {
			c.Err = err
		}
		m.mu.Unlock()
		if err != nil {
			return i, &types.OpError{Index: i, Op: "backup", Loc: c.Loc(), Err: err}
		}
	}
	m.log.Debug("backups captured", "operations", len(ops), "bytes", m.BackupSize())
	return -1, nil
}

// execute runs the operations in order and stops at the first failure.
func (m *Manager) execute(ctx context.Context, ops []*change.Change) (int, error) {
	var v *verify.Verifier
	if m.opts.VerifyAfter {
		v = verify.New(m.b, m.opts.Registry, m.log)
	}

	for i, c := range ops {
		if err := m.checkAbort(ctx); err != nil {
			return i, &types.OpError{Index: i, Op: c.Kind.String(), Loc: c.Loc(), Err: err}
		}

		out, touched, err := m.apply(ctx, v, c)

		m.mu.Lock()
		m.results[i] = out
		if err != nil {
			c.Touched, c.Err = touched, err
		} else {
			c.Executed, c.Touched, c.Err = true, true, nil
		}
		m.mu.Unlock()

		ev := types.Progress{Stage: "commit", Current: i + 1, Total: len(ops), Loc: c.Loc()}
		if err != nil {
			ev.Err = err.Error()
			types.SendProgress(ctx, m.opts.Progress, ev)
			return i, &types.OpError{Index: i, Op: c.Kind.String(), Loc: c.Loc(), Err: err}
		}
		types.SendProgress(ctx, m.opts.Progress, ev)
		m.log.Debug("executed", "index", i, "op", c.Kind.String(), "location", c.Loc().String())
	}
	return -1, nil
}

func (m *Manager) checkAbort(ctx context.Context) error {
	if m.abort.Load() {
		return types.Errorf(types.ErrKindAborted, "abort requested")
	}
	return types.FromContext(ctx.Err())
}

// apply writes one operation, through the verifier when one is set. It
// reports whether a write reached the medium, which holds even when
// verification then fails, so rollback restores it. apply does not modify c.
func (m *Manager) apply(ctx context.Context, v *verify.Verifier, c *change.Change) (*verify.Outcome, bool, error) {
	if v == nil {
		return nil, false, c.Apply(m.b)
	}

	vopts := m.opts.Verify
	if c.Kind == change.WriteSector {
		r, err := v.WriteSectorVerified(ctx, c.Cylinder, c.Head, c.Sector, c.Data, vopts)
		if r == nil {
			return nil, false, err
		}
		return &r.Outcome, r.Writes > 0, err
	}

	var current []byte
	if c.NeedsCurrent(m.geom) {
		var err error
		if current, err = m.b.ReadTrack(c.Cylinder, c.Head); err != nil {
			return nil, false, types.Wrap(types.ErrKindIO, "read "+c.Loc().String(), err)
		}
	}
	track, err := c.Compose(current, m.geom)
	if err != nil {
		return nil, false, err
	}
	r, err := v.WriteTrackVerified(ctx, c.Cylinder, c.Head, track, vopts)
	if r == nil {
		return nil, false, err
	}
	return &r.Outcome, r.Writes > 0, err
}

// Abort cancels the transaction. In Pending it discards the staged
// operations with no I/O. During commit it asks the commit loop to stop at
// its next check point; the write in flight completes. Any other state,
// Idle included, is a state error.
func (m *Manager) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StatePending:
		for _, c := range m.ops {
			c.ReleaseBackup()
		}
		m.ops = nil
		m.state = StateAborted
		m.log.Info("transaction aborted")
		return nil
	case StateCommitting:
		m.abort.Store(true)
		m.log.Info("abort requested during commit")
		return nil
	default:
		return types.Errorf(types.ErrKindState, "tx %s: cannot abort in state %s", m.id, m.state)
	}
}

// RequestAbort sets the abort flag without a state check. A running commit
// stops before its next operation.
func (m *Manager) RequestAbort() { m.abort.Store(true) }

// AbortRequested reports whether an abort has been requested.
func (m *Manager) AbortRequested() bool { return m.abort.Load() }

// Rollback restores, newest first, every operation that reached the medium
// and has not been restored yet. It is only valid after a failed commit.
// Restore failures are recorded per operation and do not stop the sweep.
func (m *Manager) Rollback(ctx context.Context) (*RollbackResult, error) {
	m.mu.Lock()
	if m.state != StateFailed {
		st := m.state
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrKindState, "tx %s: cannot roll back in state %s", m.id, st)
	}
	ops := m.ops
	m.mu.Unlock()

	rb := m.rollback(ctx, ops)
	return rb, rb.Err
}

func (m *Manager) rollback(ctx context.Context, ops []*change.Change) *RollbackResult {
	start := time.Now()
	m.setState(StateRollingBack)
	m.log.Info("rollback start")

	rb := &RollbackResult{}
	var errs []error
	for i := len(ops) - 1; i >= 0; i-- {
		c := ops[i]
		if !(c.Executed || c.Touched) || c.RolledBack {
			continue
		}
		rb.Attempted++
		ev := types.Progress{Stage: "rollback", Current: rb.Attempted, Loc: c.Loc()}
		if err := c.WriteBackup(m.b); err != nil {
			rb.Failed++
			errs = append(errs, &types.OpError{Index: i, Op: "rollback", Loc: c.Loc(), Err: err})
			ev.Err = err.Error()
			m.log.Error("rollback failed", "index", i, "location", c.Loc().String(), "error", err)
		} else {
			m.mu.Lock()
			c.RolledBack = true
			m.mu.Unlock()
			rb.RolledBack++
			m.log.Debug("rolled back", "index", i, "location", c.Loc().String())
		}
		types.SendProgress(ctx, m.opts.Progress, ev)
	}

	rb.Err = errors.Join(errs...)
	rb.MS = ms(time.Since(start))
	if rb.Err != nil {
		m.setState(StateFailed)
	} else {
		m.setState(StateRolledBack)
	}
	m.log.Info("rollback done", "rolled_back", rb.RolledBack, "failed", rb.Failed)
	return rb
}

// Result rebuilds the per-operation view from the staged operations.
func (m *Manager) Result() *Result {
	m.mu.Lock()
	ops := m.ops
	st := m.state
	m.mu.Unlock()

	res := &Result{ID: m.id, FinalState: st, OperationsTotal: len(ops), FailedIndex: -1}
	m.fillCounts(res, ops)
	for _, op := range res.Operations {
		if op.Outcome.Error != "" {
			res.FailedIndex = op.Index
			loc := op.Loc()
			res.FailedLocation = &loc
			res.ErrorMessage = op.Outcome.Error
			break
		}
	}
	return res
}

func (m *Manager) fillCounts(res *Result, ops []*change.Change) {
	m.mu.Lock()
	res.Operations = m.operations(ops)
	m.mu.Unlock()

	res.OperationsExecuted, res.OperationsSucceeded, res.OperationsFailed, res.OperationsRolledBack = 0, 0, 0, 0
	for _, op := range res.Operations {
		if op.Outcome.Error != "" {
			res.OperationsFailed++
		}
		if op.Executed {
			res.OperationsExecuted++
			if !op.Outcome.RolledBack {
				res.OperationsSucceeded++
			}
		}
		if op.Outcome.RolledBack {
			res.OperationsRolledBack++
		}
	}
}

// operations must be called with m.mu held.
func (m *Manager) operations(ops []*change.Change) []OperationResult {
	out := make([]OperationResult, len(ops))
	for i, c := range ops {
		op := OperationResult{
			Index:     i,
			Kind:      c.Kind.String(),
			Cylinder:  c.Cylinder,
			Head:      c.Head,
			NewBytes:  len(c.Data),
			HasBackup: c.BackupValid,
			Executed:  c.Executed,
			Outcome: OperationOutcome{
				Touched:    c.Touched,
				RolledBack: c.RolledBack,
			},
		}
		if c.Kind == change.WriteSector {
			sector := c.Sector
			op.Sector = &sector
		}
		if c.BackupValid {
			op.BackupBytes = len(c.Backup)
		}
		if i < len(m.results) {
			op.Outcome.Verify = m.results[i]
		}
		if c.Err != nil {
			op.Outcome.Error = c.Err.Error()
		}
		switch {
		case c.RolledBack:
			op.Outcome.Status = OpRolledBack
		case c.Err != nil:
			op.Outcome.Status = OpFailed
		case c.Executed:
			op.Outcome.Status = OpOK
		case c.Touched:
			op.Outcome.Status = OpTouched
		default:
			op.Outcome.Status = OpNotRun
		}
		out[i] = op
	}
	return out
}

// Close releases backups and the transaction log. A Pending transaction is
// aborted first. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateCommitting || m.state == StateRollingBack {
		st := m.state
		m.mu.Unlock()
		return types.Errorf(types.ErrKindState, "tx %s: cannot close in state %s", m.id, st)
	}
	pending := m.state == StatePending
	m.mu.Unlock()

	if pending {
		m.log.Warn("closing transaction with uncommitted operations; aborting")
		if err := m.Abort(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	for _, c := range m.ops {
		c.ReleaseBackup()
	}
	m.closed = true
	m.mu.Unlock()

	m.log.Info("transaction closed")
	if m.logC != nil {
		return m.logC.Close()
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
