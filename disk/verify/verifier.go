package verify

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/internal/digest"
	"github.com/joshuapare/floppykit/internal/logger"
	"github.com/joshuapare/floppykit/pkg/types"
)

// Verifier reads regions back through a Backend and compares them with
// expected data. It keeps no state between calls.
type Verifier struct {
	b   disk.Backend
	reg *Registry
	log *slog.Logger
}

// New creates a verifier. reg may be nil (no format-aware comparators) and
// log may be nil (the package logger is used).
func New(b disk.Backend, reg *Registry, log *slog.Logger) *Verifier {
	return &Verifier{b: b, reg: reg, log: logger.Or(log)}
}

// VerifySector reads the track holding sector back and compares the sector
// payload with expected. A mismatch is reported in the result, not as an
// error; errors are reserved for read failures and cancellation.
func (v *Verifier) VerifySector(ctx context.Context, cyl, head, sector int, expected []byte, opts Options) (*SectorResult, error) {
	opts = opts.normalize()
	geom, err := v.geometry()
	if err != nil {
		return nil, err
	}
	if err := disk.CheckSector(geom, cyl, head, sector); err != nil {
		return nil, err
	}

	res := &SectorResult{Cylinder: cyl, Head: head, Sector: sector}
	off := sector * geom.BytesPerSector
	out, _, err := v.readCompare(ctx, opts, opts.MaxRetries, cyl, head, func(track []byte) Outcome {
		var actual []byte
		if off < len(track) {
			actual = track[off:min(off+geom.BytesPerSector, len(track))]
		}
		return v.compareSectorData(expected, actual, opts)
	})
	res.Outcome = out
	return res, err
}

// VerifyTrack reads a track back and compares it with expected under
// opts.Mode, retrying the read up to opts.MaxRetries times.
func (v *Verifier) VerifyTrack(ctx context.Context, cyl, head int, expected []byte, opts Options) (*TrackResult, error) {
	opts = opts.normalize()
	geom, err := v.geometry()
	if err != nil {
		return nil, err
	}
	if err := disk.CheckTrack(geom, cyl, head); err != nil {
		return nil, err
	}
	res, _, err := v.verifyTrack(ctx, geom, cyl, head, expected, opts, opts.MaxRetries)
	return res, err
}

// VerifyDisk compares a whole image with the medium, track by track in image
// order. Tracks that fail to read are recorded and the scan continues; the
// scan stops early only on cancellation or, with StopOnFirst, at the first
// failing track.
//
// expected may be shorter than the medium; the last covered track is then
// compared as a prefix.
func (v *Verifier) VerifyDisk(ctx context.Context, expected []byte, opts Options) (*DiskResult, error) {
	opts = opts.normalize()
	geom, err := v.geometry()
	if err != nil {
		return nil, err
	}
	if int64(len(expected)) > geom.TotalBytes() {
		return nil, types.Errorf(types.ErrKindInvalidArgument,
			"expected image is %d bytes, medium holds %d", len(expected), geom.TotalBytes())
	}

	start := time.Now()
	ts := geom.TrackSize()
	n := (len(expected) + ts - 1) / ts
	res := &DiskResult{
		Mode:        opts.Mode,
		TracksTotal: n,
		Outcome:     Outcome{Status: StatusOK},
		Tracks:      make([]TrackResult, 0, n),
	}
	hashExpected, hashActual := digest.NewHasher(), digest.NewHasher()
	var crcE, crcA uint32

	v.log.Debug("verify disk", "tracks", n, "mode", opts.Mode, "geometry", geom.String())

	var runErr error
	for i := range n {
		cyl, head := i/geom.Heads, i%geom.Heads
		if err := ctx.Err(); err != nil {
			res.Status = ctxStatus(err)
			runErr = types.FromContext(err)
			break
		}

		exp := expected[i*ts : min((i+1)*ts, len(expected))]
		tr, actual, err := v.verifyTrack(ctx, geom, cyl, head, exp, opts, opts.MaxRetries)
		if tr == nil {
			runErr = err
			break
		}
		if tr.Status == StatusAborted || tr.Status == StatusTimeout {
			res.Status = tr.Status
			runErr = err
			break
		}

		hashExpected.Write(exp)
		crcE = crc32.Update(crcE, crc32.IEEETable, exp)
		if actual != nil {
			act := actual[:min(len(actual), len(exp))]
			hashActual.Write(act)
			crcA = crc32.Update(crcA, crc32.IEEETable, act)
		}

		res.add(tr, i*ts, opts.MaxMismatches)
		if !tr.Status.Passed() && res.FirstMismatch == nil {
			res.FirstMismatch = firstMismatch(tr, geom, i*ts)
		}

		types.SendProgress(ctx, opts.Progress, types.Progress{
			Stage:   "verify",
			Current: i + 1,
			Total:   n,
			Loc:     types.TrackLoc(cyl, head),
			Err:     tr.Message,
		})

		if opts.StopOnFirst && !tr.Status.Passed() {
			break
		}
	}

	res.CRCExpected, res.CRCActual = crcE, crcA
	res.MatchPercent = percent(res.BytesMatching, res.BytesTotal)
	if opts.ComputeHashes {
		res.HashExpected = hashExpected.Hex()
		res.HashActual = hashActual.Hex()
	}
	res.Timings.TotalMS = ms(time.Since(start))

	v.log.Info("verify disk done",
		"status", res.Status,
		"tracks_verified", res.TracksVerified,
		"tracks_failed", res.TracksFailed,
		"match_percent", res.MatchPercent)
	return res, runErr
}

// WriteTrackVerified writes data to a track and reads it back. On a failed
// comparison the whole write+verify cycle is repeated, up to opts.MaxRetries
// times. The last outcome is returned whether or not it passed; a final
// failure also returns a VerifyMismatch (or IoError) error.
func (v *Verifier) WriteTrackVerified(ctx context.Context, cyl, head int, data []byte, opts Options) (*TrackResult, error) {
	opts = opts.normalize()
	geom, err := v.geometry()
	if err != nil {
		return nil, err
	}
	if err := disk.CheckTrack(geom, cyl, head); err != nil {
		return nil, err
	}
	if len(data) != geom.TrackSize() {
		return nil, types.Errorf(types.ErrKindInvalidArgument,
			"write c%d/h%d: %d bytes, track holds %d", cyl, head, len(data), geom.TrackSize())
	}

	var res *TrackResult
	err = v.writeCycles(ctx, opts, types.TrackLoc(cyl, head),
		func() ([]byte, error) { return data, nil },
		func(cycleCtx context.Context) (Outcome, error) {
			tr, _, err := v.verifyTrack(cycleCtx, geom, cyl, head, data, opts, 0)
			if tr == nil {
				return Outcome{}, err
			}
			res = tr
			return tr.Outcome, err
		},
		func(o Outcome) {
			if res == nil {
				res = &TrackResult{Cylinder: cyl, Head: head}
			}
			res.Outcome = o
		})
	return res, err
}

// WriteSectorVerified writes one sector (read-modify-write of its track)
// and verifies the sector, repeating the cycle on failure like
// WriteTrackVerified.
func (v *Verifier) WriteSectorVerified(ctx context.Context, cyl, head, sector int, data []byte, opts Options) (*SectorResult, error) {
	opts = opts.normalize()
	geom, err := v.geometry()
	if err != nil {
		return nil, err
	}
	if err := disk.CheckSector(geom, cyl, head, sector); err != nil {
		return nil, err
	}
	if len(data) != geom.BytesPerSector {
		return nil, types.Errorf(types.ErrKindInvalidArgument,
			"write c%d/h%d/s%d: %d bytes, sector holds %d", cyl, head, sector, len(data), geom.BytesPerSector)
	}

	off := sector * geom.BytesPerSector
	res := &SectorResult{Cylinder: cyl, Head: head, Sector: sector}
	err = v.writeCycles(ctx, opts, types.Location{Cylinder: cyl, Head: head, Sector: sector},
		func() ([]byte, error) {
			track, err := v.b.ReadTrack(cyl, head)
			if err != nil {
				return nil, err
			}
			if len(track) < off+len(data) {
				return nil, types.Errorf(types.ErrKindIO,
					"read c%d/h%d: %d bytes, sector %d needs %d", cyl, head, len(track), sector, off+len(data))
			}
			copy(track[off:], data)
			return track, nil
		},
		func(cycleCtx context.Context) (Outcome, error) {
			out, _, err := v.readCompare(cycleCtx, opts, 0, cyl, head, func(track []byte) Outcome {
				var actual []byte
				if off < len(track) {
					actual = track[off:min(off+len(data), len(track))]
				}
				return v.compareSectorData(data, actual, opts)
			})
			res.Outcome = out
			return out, err
		},
		func(o Outcome) { res.Outcome = o })
	return res, err
}

// writeCycles runs write+verify cycles. compose produces the full track to
// write, check reads it back; record stores an outcome when a cycle ends
// before check ran.
func (v *Verifier) writeCycles(
	ctx context.Context,
	opts Options,
	loc types.Location,
	compose func() ([]byte, error),
	check func(context.Context) (Outcome, error),
	record func(Outcome),
) error {
	start := time.Now()
	var (
		last    Outcome
		writes  int
		writeMS float64
		err     error
	)
	cycles := 1 + opts.MaxRetries
	for cycle := range cycles {
		if cycle > 0 {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				last.Status = ctxStatus(err)
				last.RetryCount = cycle - 1
				last.Writes = writes
				record(last)
				return types.FromContext(err)
			}
		}
		if err := ctx.Err(); err != nil {
			last.Status = ctxStatus(err)
			last.Writes = writes
			record(last)
			return types.FromContext(err)
		}

		track, cerr := compose()
		if cerr != nil {
			last = Outcome{Status: StatusReadError, Message: cerr.Error(), RetryCount: cycle, Writes: writes}
			record(last)
			return wrapIO("read "+loc.String()+" for write", cerr)
		}
		ws := time.Now()
		if werr := v.b.WriteTrack(loc.Cylinder, loc.Head, track); werr != nil {
			last = Outcome{Status: StatusReadError, Message: werr.Error(), RetryCount: cycle, Writes: writes}
			record(last)
			return wrapIO("write "+loc.String(), werr)
		}
		writeMS += ms(time.Since(ws))
		writes++

		last, err = check(ctx)
		last.RetryCount = cycle
		last.Writes = writes
		last.Timings.WriteMS = writeMS
		last.Timings.TotalMS = ms(time.Since(start))
		record(last)

		if last.Status == StatusAborted || last.Status == StatusTimeout {
			return err
		}
		if last.Status.Passed() {
			if cycle > 0 {
				v.log.Debug("write verified after retry", "location", loc.String(), "retries", cycle)
			}
			return nil
		}
		v.log.Debug("write verify failed", "location", loc.String(), "cycle", cycle, "status", last.Status)
	}

	if last.Status == StatusReadError {
		return err
	}
	return types.Errorf(types.ErrKindVerifyMismatch,
		"write-verify %s: %s after %d attempts (%d bytes differ)", loc, last.Status, writes, last.MismatchCount)
}

// verifyTrack reads and compares one track with up to retries re-reads. It
// also returns the last bytes read, for disk-level hashing.
func (v *Verifier) verifyTrack(ctx context.Context, geom types.Geometry, cyl, head int, expected []byte, opts Options, retries int) (*TrackResult, []byte, error) {
	res := &TrackResult{Cylinder: cyl, Head: head}
	fn, _ := v.reg.Lookup(opts.Format)
	out, actual, err := v.readCompare(ctx, opts, retries, cyl, head, func(track []byte) Outcome {
		out, sectors, flux := compareTrack(expected, track, geom.BytesPerSector, opts, fn)
		for i := range sectors {
			sectors[i].Cylinder, sectors[i].Head = cyl, head
		}
		res.Sectors, res.Flux = sectors, flux
		return out
	})
	res.Outcome = out
	return res, actual, err
}

// readCompare is the retry loop shared by every verify call: read the track,
// compare, and on failure wait and read again.
func (v *Verifier) readCompare(ctx context.Context, opts Options, retries, cyl, head int, cmp func(track []byte) Outcome) (Outcome, []byte, error) {
	start := time.Now()
	var (
		out     Outcome
		actual  []byte
		readErr error
		readD   time.Duration
		cmpD    time.Duration
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				out.Status = ctxStatus(err)
				out.RetryCount = attempt - 1
				return out, actual, types.FromContext(err)
			}
		}
		if err := ctx.Err(); err != nil {
			out.Status = ctxStatus(err)
			out.RetryCount = max(0, attempt-1)
			return out, actual, types.FromContext(err)
		}

		rs := time.Now()
		track, err := v.b.ReadTrack(cyl, head)
		readD += time.Since(rs)
		if err != nil {
			readErr = err
			out = Outcome{Status: StatusReadError, Message: err.Error()}
			out.RetryCount = attempt
			continue
		}
		readErr = nil
		actual = track

		cs := time.Now()
		out = cmp(track)
		cmpD += time.Since(cs)
		out.RetryCount = attempt
		if out.Status.Passed() {
			break
		}
	}

	out.Timings.ReadMS = ms(readD)
	out.Timings.VerifyMS = ms(cmpD)
	out.Timings.TotalMS = ms(time.Since(start))
	if readErr != nil {
		return out, nil, wrapIO(fmt.Sprintf("verify read c%d/h%d", cyl, head), readErr)
	}
	return out, actual, nil
}

func (v *Verifier) compareSectorData(expected, actual []byte, opts Options) Outcome {
	if opts.Mode == CRC {
		return compareCRC(expected, actual)
	}
	fn, _ := v.reg.Lookup(opts.Format)
	return compareBytes(expected, actual, opts.MaxMismatches, fn)
}

func (v *Verifier) geometry() (types.Geometry, error) {
	geom, err := v.b.Geometry()
	if err != nil {
		return geom, wrapIO("geometry", err)
	}
	return geom, geom.Validate()
}

// add folds one track into the disk aggregate. base is the track's image offset.
func (r *DiskResult) add(tr *TrackResult, base, maxMismatches int) {
	r.Tracks = append(r.Tracks, *tr)
	r.TracksVerified++
	if !tr.Status.Passed() {
		r.TracksFailed++
	}
	r.Status = worse(r.Status, tr.Status)
	r.BytesTotal += tr.BytesTotal
	r.BytesMatching += tr.BytesMatching
	r.MismatchCount += tr.MismatchCount
	r.RetryCount += tr.RetryCount
	r.Timings.ReadMS += tr.Timings.ReadMS
	r.Timings.VerifyMS += tr.Timings.VerifyMS
	for _, m := range tr.Mismatches {
		if len(r.Mismatches) >= maxMismatches {
			break
		}
		m.Offset += base
		r.Mismatches = append(r.Mismatches, m)
	}
}

func firstMismatch(tr *TrackResult, geom types.Geometry, base int) *FirstMismatch {
	fm := &FirstMismatch{Cylinder: tr.Cylinder, Head: tr.Head, Status: tr.Status, Offset: base}
	for _, s := range tr.Sectors {
		if !s.Status.Passed() {
			fm.Sector = s.Sector
			break
		}
	}
	if len(tr.Mismatches) > 0 {
		fm.TrackOffset = tr.Mismatches[0].Offset
		fm.Offset = base + fm.TrackOffset
		if tr.Sectors == nil {
			fm.Sector = fm.TrackOffset / geom.BytesPerSector
		}
	}
	return fm
}

func ctxStatus(err error) Status {
	if err == context.DeadlineExceeded {
		return StatusTimeout
	}
	return StatusAborted
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wrapIO(msg string, err error) error {
	if _, ok := types.KindOf(err); ok {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return types.Wrap(types.ErrKindIO, msg, err)
}
