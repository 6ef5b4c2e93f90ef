package verify

import (
	"context"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/internal/digest"
	"github.com/joshuapare/floppykit/pkg/types"
)

// MultiPassResult reports how stable a track reads across several passes.
type MultiPassResult struct {
	Cylinder   int      `json:"cylinder"`
	Head       int      `json:"head"`
	Passes     int      `json:"passes"`
	Consistent bool     `json:"consistent"`
	WeakBytes  []int    `json:"weak_bytes,omitempty"` // offsets that differed between passes, capped
	WeakCount  int      `json:"weak_count"`
	CRCs       []uint32 `json:"crcs"`
}

// MultiPass reads a track passes times and reports bytes whose value
// changed between reads. Weak bits on copy-protected or worn media show up
// here even when a single read would compare clean.
func (v *Verifier) MultiPass(ctx context.Context, cyl, head, passes int, opts Options) (*MultiPassResult, error) {
	opts = opts.normalize()
	if passes < 2 {
		return nil, types.Errorf(types.ErrKindInvalidArgument, "multi-pass needs at least 2 passes, got %d", passes)
	}
	geom, err := v.geometry()
	if err != nil {
		return nil, err
	}
	if err := disk.CheckTrack(geom, cyl, head); err != nil {
		return nil, err
	}

	res := &MultiPassResult{Cylinder: cyl, Head: head}
	var (
		first []byte
		weak  []bool
	)
	for p := range passes {
		if err := ctx.Err(); err != nil {
			return res, types.FromContext(err)
		}
		if p > 0 {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				return res, types.FromContext(err)
			}
		}
		track, err := v.b.ReadTrack(cyl, head)
		if err != nil {
			return res, wrapIO("multi-pass read", err)
		}
		res.Passes++
		res.CRCs = append(res.CRCs, digest.CRC32(track))
		if first == nil {
			first = track
			weak = make([]bool, len(track))
			continue
		}
		n := min(len(first), len(track))
		for i := range n {
			if first[i] != track[i] {
				weak[i] = true
			}
		}
		for i := n; i < len(weak); i++ {
			weak[i] = true
		}
	}

	for i, w := range weak {
		if !w {
			continue
		}
		res.WeakCount++
		if len(res.WeakBytes) < opts.MaxMismatches {
			res.WeakBytes = append(res.WeakBytes, i)
		}
	}
	res.Consistent = res.WeakCount == 0
	v.log.Debug("multi-pass", "location", types.TrackLoc(cyl, head).String(), "passes", res.Passes, "weak", res.WeakCount)
	return res, nil
}
