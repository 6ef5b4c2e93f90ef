package verify

import (
	"bytes"
	"hash/crc32"
	"math"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/internal/digest"
)

// Compare checks actual against expected under opts.Mode without touching
// any medium. Sector mode treats the buffers as a run of sectors of the
// given size (plus opts.GapBytes).
//
// Actual data longer than expected is truncated to the expected length;
// shorter data is reported as SizeMismatch.
func Compare(expected, actual []byte, bytesPerSector int, opts Options) Outcome {
	out, _, _ := compareTrack(expected, actual, bytesPerSector, opts.normalize(), nil)
	return out
}

// CheckCRC reports whether data has the given CRC-32.
func CheckCRC(data []byte, crc uint32) bool {
	return digest.CRC32(data) == crc
}

// compareTrack dispatches on mode. fn, when set, replaces the bitwise
// judgement for format-aware comparison.
func compareTrack(expected, actual []byte, bps int, opts Options, fn CompareFunc) (Outcome, []SectorResult, *FluxStats) {
	switch opts.Mode {
	case CRC:
		return compareCRC(expected, actual), nil, nil
	case Sector:
		out, sectors := compareSectors(expected, actual, bps, opts)
		return out, sectors, nil
	case Flux:
		out, stats := compareFlux(expected, actual, opts)
		return out, nil, stats
	default:
		return compareBytes(expected, actual, opts.MaxMismatches, fn), nil, nil
	}
}

// compareBytes is the bitwise comparison: CRC fast path, then a capped
// byte-level diff.
func compareBytes(expected, actual []byte, maxMismatches int, fn CompareFunc) Outcome {
	out := Outcome{BytesTotal: len(expected)}
	short := len(actual) < len(expected)
	if !short {
		actual = actual[:len(expected)]
	}
	out.CRCExpected = digest.CRC32(expected)
	out.CRCActual = digest.CRC32(actual)

	if !short && out.CRCExpected == out.CRCActual && bytes.Equal(expected, actual) {
		out.Status = StatusOK
		out.BytesMatching = len(expected)
		out.MatchPercent = 100
		return out
	}

	status := StatusMismatch
	if short {
		status = StatusSizeMismatch
		out.Message = "read back fewer bytes than expected"
	} else if fn != nil {
		status = fn(expected, actual)
		if status == StatusOK {
			out.Status = StatusOK
			out.BytesMatching = len(expected)
			out.MatchPercent = 100
			return out
		}
	}

	n := min(len(expected), len(actual))
	for i := range n {
		if expected[i] == actual[i] {
			out.BytesMatching++
			continue
		}
		out.MismatchCount++
		if len(out.Mismatches) < maxMismatches {
			out.Mismatches = append(out.Mismatches, Mismatch{
				Offset:   i,
				Expected: expected[i],
				Actual:   actual[i],
				XOR:      expected[i] ^ actual[i],
			})
		}
	}
	out.MismatchCount += len(expected) - n
	out.Status = status
	out.MatchPercent = percent(out.BytesMatching, out.BytesTotal)
	return out
}

// compareCRC is the checksum-only fast path. It does not locate differences.
func compareCRC(expected, actual []byte) Outcome {
	out := Outcome{BytesTotal: len(expected)}
	if len(actual) < len(expected) {
		out.Status = StatusSizeMismatch
		out.CRCExpected = digest.CRC32(expected)
		out.CRCActual = digest.CRC32(actual)
		out.Message = "read back fewer bytes than expected"
		return out
	}
	out.CRCExpected = digest.CRC32(expected)
	out.CRCActual = digest.CRC32(actual[:len(expected)])
	if out.CRCExpected != out.CRCActual {
		out.Status = StatusCRCError
		return out
	}
	out.Status = StatusOK
	out.BytesMatching = len(expected)
	out.MatchPercent = 100
	return out
}

// compareSectors compares sector payloads and skips the gap bytes between them.
// Mismatch offsets are track offsets.
func compareSectors(expected, actual []byte, bps int, opts Options) (Outcome, []SectorResult) {
	if bps <= 0 {
		return compareBytes(expected, actual, opts.MaxMismatches, nil), nil
	}
	stride := bps + opts.GapBytes
	out := Outcome{Status: StatusOK}
	var sectors []SectorResult
	var crcE, crcA uint32
	for s, start := 0, 0; start < len(expected); s, start = s+1, start+stride {
		end := min(start+bps, len(expected))
		exp := expected[start:end]

		var act []byte
		if start < len(actual) {
			act = actual[start:min(end, len(actual))]
		}
		sub := compareBytes(exp, act, opts.MaxMismatches, nil)
		sectors = append(sectors, SectorResult{Sector: s, Outcome: sub})

		crcE = crc32.Update(crcE, crc32.IEEETable, exp)
		crcA = crc32.Update(crcA, crc32.IEEETable, act)
		out.BytesTotal += sub.BytesTotal
		out.BytesMatching += sub.BytesMatching
		out.MismatchCount += sub.MismatchCount
		for _, m := range sub.Mismatches {
			if len(out.Mismatches) >= opts.MaxMismatches {
				break
			}
			m.Offset += start
			out.Mismatches = append(out.Mismatches, m)
		}
		out.Status = worse(out.Status, sub.Status)
	}
	out.CRCExpected, out.CRCActual = crcE, crcA
	out.MatchPercent = percent(out.BytesMatching, out.BytesTotal)
	return out, sectors
}

// compareFlux checks every expected timing sample against the actual
// samples within ±FluxWindow positions. A sample passes when some candidate
// deviates by at most FluxTolerance percent.
func compareFlux(expected, actual []byte, opts Options) (Outcome, *FluxStats) {
	exp := disk.DecodeFlux(expected)
	act := disk.DecodeFlux(actual)

	out := Outcome{
		BytesTotal:  len(expected),
		CRCExpected: digest.CRC32(expected),
		CRCActual:   digest.CRC32(actual[:min(len(actual), len(expected))]),
	}
	stats := &FluxStats{Samples: len(exp)}

	if len(act) < len(exp) {
		out.Status = StatusSizeMismatch
		out.Message = "read back fewer flux samples than expected"
		return out, stats
	}

	var sum float64
	for i, e := range exp {
		best := math.Inf(1)
		var bestActual uint32
		lo, hi := max(0, i-opts.FluxWindow), min(len(act)-1, i+opts.FluxWindow)
		for j := lo; j <= hi; j++ {
			if d := deviation(e, act[j]); d < best {
				best, bestActual = d, act[j]
			}
		}
		sum += best
		stats.MaxDeviation = math.Max(stats.MaxDeviation, best)
		if best <= opts.FluxTolerance {
			continue
		}
		stats.Errors++
		if len(stats.Outliers) < opts.MaxMismatches {
			stats.Outliers = append(stats.Outliers, FluxOutlier{
				Index: i, Expected: e, Actual: bestActual, Deviation: best,
			})
		}
	}

	good := len(exp) - stats.Errors
	if len(exp) > 0 {
		stats.MeanDeviation = sum / float64(len(exp))
	}
	stats.Quality = percent(good, len(exp))

	out.BytesMatching = good * disk.FluxSampleSize
	out.MatchPercent = stats.Quality
	out.MismatchCount = stats.Errors
	switch {
	case stats.Errors == 0:
		out.Status = StatusOK
	case stats.Quality >= fluxQualityFloor:
		out.Status = StatusTimingWarn
	default:
		out.Status = StatusMismatch
	}
	return out, stats
}

// deviation is |actual-expected| as a percentage of expected. A zero
// expected sample only matches zero.
func deviation(expected, actual uint32) float64 {
	if expected == 0 {
		if actual == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(float64(actual)-float64(expected)) / float64(expected) * 100
}
