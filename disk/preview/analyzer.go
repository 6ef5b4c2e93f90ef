package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/disk/change"
	"github.com/joshuapare/floppykit/internal/digest"
	"github.com/joshuapare/floppykit/internal/logger"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Options configures an Analyzer.
type Options struct {
	GenerateDiff       bool // fill TrackChange.Diff
	MaxTracks          int  // distinct tracks that may be staged; 0 means default, negative unlimited
	MaxSectorsPerTrack int  // sector changes per track; 0 means default, negative unlimited

	// DiskPath is copied into reports for display.
	DiskPath string

	Logger *slog.Logger
}

// DefaultOptions returns options with diffs enabled and the default limits.
func DefaultOptions() Options {
	return Options{
		GenerateDiff:       true,
		MaxTracks:          types.DefaultMaxTracks,
		MaxSectorsPerTrack: types.DefaultMaxSectorsPerTrack,
	}
}

type trackKey struct{ cyl, head int }

type trackCount struct {
	changes int
	sectors int
}

// Analyzer stages writes against a Backend and reports what committing
// them would change. It only reads from the medium until Commit.
//
// Analyzer is NOT thread-safe.
type Analyzer struct {
	b    disk.Backend
	geom types.Geometry
	opts Options
	log  *slog.Logger

	changes []*change.Change
	staged  map[trackKey]*trackCount
	report  *Report // memoized Analyze result; nil when stale
}

// New creates an analyzer for b.
func New(b disk.Backend, opts Options) (*Analyzer, error) {
	geom, err := b.Geometry()
	if err != nil {
		return nil, types.Wrap(types.ErrKindIO, "preview geometry", err)
	}
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxTracks == 0 {
		opts.MaxTracks = types.DefaultMaxTracks
	}
	if opts.MaxSectorsPerTrack == 0 {
		opts.MaxSectorsPerTrack = types.DefaultMaxSectorsPerTrack
	}
	return &Analyzer{
		b:      b,
		geom:   geom,
		opts:   opts,
		log:    logger.Or(opts.Logger),
		staged: make(map[trackKey]*trackCount),
	}, nil
}

// Geometry returns the medium geometry read at construction.
func (a *Analyzer) Geometry() types.Geometry { return a.geom }

// AddTrack stages a track write.
func (a *Analyzer) AddTrack(cyl, head int, data []byte) error {
	return a.add(change.NewTrack(cyl, head, data))
}

// AddSector stages a sector write.
func (a *Analyzer) AddSector(cyl, head, sector int, data []byte) error {
	return a.add(change.NewSector(cyl, head, sector, data))
}

// AddFlux stages a flux-level track write.
func (a *Analyzer) AddFlux(cyl, head int, samples []uint32) error {
	return a.add(change.NewFlux(cyl, head, samples))
}

// AddFormat stages a format of one track with the given fill byte.
func (a *Analyzer) AddFormat(cyl, head int, fill byte) error {
	return a.add(change.NewFormat(cyl, head, fill))
}

// AddErase stages an erase of one track.
func (a *Analyzer) AddErase(cyl, head int) error {
	return a.add(change.NewErase(cyl, head))
}

// Add stages a copy of c.
func (a *Analyzer) Add(c *change.Change) error {
	return a.add(c.Clone())
}

// add stages c. Changes outside the geometry are accepted here and reported
// by validation; only the staging limits are enforced.
func (a *Analyzer) add(c *change.Change) error {
	key := trackKey{c.Cylinder, c.Head}
	tc, seen := a.staged[key]
	if !seen && a.opts.MaxTracks > 0 && len(a.staged) >= a.opts.MaxTracks {
		return types.Errorf(types.ErrKindLimitExceeded,
			"preview: more than %d tracks staged", a.opts.MaxTracks)
	}
	if c.Kind == change.WriteSector && seen && a.opts.MaxSectorsPerTrack > 0 && tc.sectors >= a.opts.MaxSectorsPerTrack {
		return types.Errorf(types.ErrKindLimitExceeded,
			"preview: more than %d sectors staged on %s", a.opts.MaxSectorsPerTrack, types.TrackLoc(c.Cylinder, c.Head))
	}
	if !seen {
		tc = &trackCount{}
		a.staged[key] = tc
	}
	tc.changes++
	if c.Kind == change.WriteSector {
		tc.sectors++
	}
	a.changes = append(a.changes, c)
	a.report = nil
	return nil
}

// SetImage replaces the staged changes with one track write per track of
// img, in image order. img may be shorter than the medium; the last track
// is then a partial write. On error nothing stays staged.
func (a *Analyzer) SetImage(img []byte) error {
	if len(img) == 0 || int64(len(img)) > a.geom.TotalBytes() {
		return types.Errorf(types.ErrKindInvalidArgument,
			"preview: image is %d bytes, medium holds %d", len(img), a.geom.TotalBytes())
	}
	a.Reset()
	ts := a.geom.TrackSize()
	for i, off := 0, 0; off < len(img); i, off = i+1, off+ts {
		if err := a.AddTrack(i/a.geom.Heads, i%a.geom.Heads, img[off:min(off+ts, len(img))]); err != nil {
			a.Reset()
			return err
		}
	}
	return nil
}

// Reset drops every staged change and the cached report.
func (a *Analyzer) Reset() {
	a.changes = nil
	a.staged = make(map[trackKey]*trackCount)
	a.report = nil
}

// ChangeCount returns the number of staged changes.
func (a *Analyzer) ChangeCount() int { return len(a.changes) }

// Changes returns copies of the staged changes, in staging order, for
// handing to a transaction.
func (a *Analyzer) Changes() []*change.Change {
	out := make([]*change.Change, len(a.changes))
	for i, c := range a.changes {
		out[i] = c.Clone()
	}
	return out
}

// Validate re-checks the staged changes without reading the medium.
func (a *Analyzer) Validate() Validation {
	_, v := a.validate()
	return v
}

// validate returns the per-change levels and the aggregate.
func (a *Analyzer) validate() ([]Level, Validation) {
	levels := make([]Level, len(a.changes))
	var v Validation
	for i, c := range a.changes {
		lvl, msgs := a.checkChange(i, c)
		levels[i] = lvl
		if lvl == LevelOK {
			continue
		}
		switch {
		case lvl >= LevelError:
			v.Errors++
		case lvl == LevelWarning:
			v.Warnings++
		}
		v.Overall = max(v.Overall, lvl)
		v.Issues = append(v.Issues, Issue{
			Index:   i,
			Loc:     c.Loc(),
			Level:   lvl,
			Message: strings.Join(msgs, "; "),
		})
	}
	return levels, v
}

// checkChange applies the validation rules to the change at index i.
func (a *Analyzer) checkChange(i int, c *change.Change) (Level, []string) {
	if c.Kind < change.WriteTrack || c.Kind > change.EraseTrack {
		return LevelFatal, []string{fmt.Sprintf("unknown change kind %d", int(c.Kind))}
	}
	if err := c.Check(a.geom); err != nil {
		return LevelError, []string{err.Error()}
	}

	lvl := LevelOK
	var msgs []string
	warn := func(format string, args ...any) {
		lvl = LevelWarning
		msgs = append(msgs, fmt.Sprintf(format, args...))
	}
	if (c.Kind == change.WriteTrack || c.Kind == change.WriteFlux) && len(c.Data) < a.geom.TrackSize() {
		warn("partial track write: %d of %d bytes", len(c.Data), a.geom.TrackSize())
	}
	if c.Cylinder == 0 && c.Head == 0 {
		warn("writes the boot/directory track")
	}
	for j := range i {
		if change.SameTarget(a.changes[j], c) {
			warn("overwrites change %d", j)
			break
		}
	}
	return lvl, msgs
}

type shadow struct {
	key     trackKey
	before  []byte
	after   []byte
	changes int
	last    ChangeType
}

// Analyze reads every staged track once and diffs the staged changes,
// applied in order to a copy, against the current contents. Byte
// differences are data, not errors: Analyze fails only on read errors or
// cancellation. The report is cached until the staged set changes.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	if a.report != nil {
		return a.report, nil
	}
	start := time.Now()
	levels, val := a.validate()

	rep := &Report{
		DiskPath:          a.opts.DiskPath,
		Geometry:          a.geom,
		TracksTotal:       a.geom.Tracks(),
		BytesTotal:        a.geom.TotalBytes(),
		PerTrackChanges:   make([]TrackChange, 0, len(a.changes)),
		OverallValidation: val.Overall,
		WarningCount:      val.Warnings,
		ErrorCount:        val.Errors,
		Issues:            val.Issues,
		Tracks:            []TrackSummary{},
	}

	shadows, err := a.readShadows(ctx, levels)
	if err != nil {
		return nil, err
	}
	byKey := make(map[trackKey]*shadow, len(shadows))
	for _, sh := range shadows {
		byKey[sh.key] = sh
	}

	for i, c := range a.changes {
		tc := TrackChange{
			Cylinder:   c.Cylinder,
			Head:       c.Head,
			Sector:     c.Sector,
			Kind:       c.Kind.String(),
			Validation: levels[i],
		}
		for _, is := range val.Issues {
			if is.Index == i {
				tc.Message = is.Message
				break
			}
		}
		if levels[i] >= LevelError {
			rep.PerTrackChanges = append(rep.PerTrackChanges, tc)
			continue
		}

		sh := byKey[trackKey{c.Cylinder, c.Head}]
		composed, err := c.Compose(sh.after, a.geom)
		if err != nil {
			return nil, &types.OpError{Index: i, Op: c.Kind.String(), Loc: c.Loc(), Err: err}
		}
		off, n := c.Region(a.geom)
		old, cur := sh.after[off:off+n], composed[off:off+n]

		var diff []byte
		if a.opts.GenerateDiff {
			diff = make([]byte, (n+7)/8)
		}
		for k := range n {
			if old[k] != cur[k] {
				tc.BytesChanged++
				if diff != nil {
					diff[k/8] |= 1 << (k % 8)
				}
			}
		}
		tc.BytesTotal = n
		tc.Diff = diff
		tc.ChangePercent = percent(tc.BytesChanged, n)
		tc.ChangeType = classify(c, old, cur, tc.BytesChanged)

		rep.BytesToWrite += int64(n)
		if c.Kind == change.WriteSector && tc.BytesChanged > 0 {
			rep.SectorsModified++
		}
		sh.after = composed
		sh.changes++
		if tc.ChangeType != ChangeNone {
			sh.last = tc.ChangeType
		}
		rep.PerTrackChanges = append(rep.PerTrackChanges, tc)
	}

	before, after := digest.NewHasher(), digest.NewHasher()
	for _, sh := range shadows {
		changed := 0
		for k := range sh.before {
			if sh.before[k] != sh.after[k] {
				changed++
			}
		}
		ts := TrackSummary{
			Cylinder:      sh.key.cyl,
			Head:          sh.key.head,
			Changes:       sh.changes,
			BytesChanged:  changed,
			ChangePercent: percent(changed, len(sh.before)),
		}
		if changed > 0 || sh.last == ChangeFormat || sh.last == ChangeDelete {
			ts.ChangeType = sh.last
		}
		if changed > 0 {
			rep.TracksModified++
			rep.BytesChanged += int64(changed)
		}
		before.Write(sh.before)
		after.Write(sh.after)
		rep.Tracks = append(rep.Tracks, ts)
	}
	rep.HashBefore = before.Hex()
	rep.HashAfter = after.Hex()

	rep.RiskScore = RiskScore(rep.ChangePercent(), rep.TracksModified, rep.ErrorCount, rep.WarningCount)
	rep.RiskDescription = RiskDescription(rep.RiskScore)

	a.log.Debug("preview analyzed",
		"changes", len(a.changes),
		"tracks_modified", rep.TracksModified,
		"bytes_changed", rep.BytesChanged,
		"risk", rep.RiskScore,
		"elapsed", time.Since(start))
	a.report = rep
	return rep, nil
}

// readShadows reads the current contents of every track targeted by a
// valid change, in track order.
func (a *Analyzer) readShadows(ctx context.Context, levels []Level) ([]*shadow, error) {
	seen := make(map[trackKey]bool)
	var keys []trackKey
	for i, c := range a.changes {
		key := trackKey{c.Cylinder, c.Head}
		if levels[i] >= LevelError || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return a.geom.TrackIndex(keys[i].cyl, keys[i].head) < a.geom.TrackIndex(keys[j].cyl, keys[j].head)
	})

	out := make([]*shadow, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, types.FromContext(err)
		}
		data, err := a.b.ReadTrack(key.cyl, key.head)
		if err != nil {
			return nil, types.Wrap(types.ErrKindIO,
				"preview read "+types.TrackLoc(key.cyl, key.head).String(), err)
		}
		if len(data) != a.geom.TrackSize() {
			return nil, types.Errorf(types.ErrKindIO,
				"preview read %s: %d bytes, track holds %d",
				types.TrackLoc(key.cyl, key.head), len(data), a.geom.TrackSize())
		}
		out = append(out, &shadow{key: key, before: data, after: append([]byte(nil), data...)})
	}
	return out, nil
}

// Commit re-validates and applies the staged changes in order directly to
// the medium. It takes no backups and does not roll back: a failure leaves
// earlier changes written. Route Changes() through a transaction for
// atomic application.
//
// Cancellation is observed between changes. progress, if non-nil, receives
// one event per change attempted.
func (a *Analyzer) Commit(ctx context.Context, progress chan<- types.Progress) error {
	val := a.Validate()
	if val.Overall >= LevelError {
		return types.Errorf(types.ErrKindInvalidArgument,
			"preview: %d staged changes fail validation", val.Errors)
	}
	a.report = nil

	total := len(a.changes)
	for i, c := range a.changes {
		if err := ctx.Err(); err != nil {
			return types.FromContext(err)
		}
		ev := types.Progress{Stage: "preview", Current: i + 1, Total: total, Loc: c.Loc()}
		if err := c.Apply(a.b); err != nil {
			c.Err = err
			ev.Err = err.Error()
			types.SendProgress(ctx, progress, ev)
			a.log.Warn("preview commit failed", "index", i, "location", c.Loc().String(), "error", err)
			return &types.OpError{Index: i, Op: c.Kind.String(), Loc: c.Loc(), Err: err}
		}
		c.Executed, c.Touched, c.Err = true, true, nil
		types.SendProgress(ctx, progress, ev)
	}
	a.log.Info("preview committed", "changes", total)
	return nil
}

// TrackStatus returns the net change type of one track from the last
// Analyze. It is ChangeNone when the track is untouched or nothing has been
// analyzed yet.
func (a *Analyzer) TrackStatus(cyl, head int) ChangeType {
	if ts := a.summary(cyl, head); ts != nil {
		return ts.ChangeType
	}
	return ChangeNone
}

// TrackChangePercent returns the share of one track's bytes that change,
// from the last Analyze.
func (a *Analyzer) TrackChangePercent(cyl, head int) float64 {
	if ts := a.summary(cyl, head); ts != nil {
		return ts.ChangePercent
	}
	return 0
}

func (a *Analyzer) summary(cyl, head int) *TrackSummary {
	if a.report == nil {
		return nil
	}
	for i := range a.report.Tracks {
		if ts := &a.report.Tracks[i]; ts.Cylinder == cyl && ts.Head == head {
			return ts
		}
	}
	return nil
}

func classify(c *change.Change, old, cur []byte, changed int) ChangeType {
	switch {
	case c.Kind == change.FormatTrack:
		return ChangeFormat
	case c.Kind == change.EraseTrack:
		return ChangeDelete
	case changed == 0:
		return ChangeNone
	case change.IsBlank(old) && !change.IsBlank(cur):
		return ChangeCreate
	default:
		return ChangeModify
	}
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}
