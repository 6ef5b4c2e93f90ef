package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshuapare/floppykit/pkg/types"
)

// Mode selects how read-back data is compared with expected data.
type Mode int

const (
	// Bitwise requires an exact byte match.
	Bitwise Mode = iota
	// CRC compares CRC-32 values only.
	CRC
	// Sector compares sector payloads and ignores inter-sector gap bytes.
	Sector
	// Flux compares timing samples within a tolerance window.
	Flux
)

var modeNames = [...]string{Bitwise: "BITWISE", CRC: "CRC", Sector: "SECTOR", Flux: "FLUX"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMode maps a mode name (any case) to a Mode.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return Bitwise, types.Errorf(types.ErrKindInvalidArgument, "unknown verify mode %q", s)
}

// Status is the result of one comparison.
type Status int

const (
	StatusOK Status = iota
	StatusMismatch
	StatusCRCError
	StatusReadError
	StatusSizeMismatch
	StatusFormatError
	StatusTimingWarn
	StatusTimeout
	StatusAborted
)

var statusNames = [...]string{
	StatusOK:           "OK",
	StatusMismatch:     "MISMATCH",
	StatusCRCError:     "CRC_ERROR",
	StatusReadError:    "READ_ERROR",
	StatusSizeMismatch: "SIZE_MISMATCH",
	StatusFormatError:  "FORMAT_ERROR",
	StatusTimingWarn:   "TIMING_WARN",
	StatusTimeout:      "TIMEOUT",
	StatusAborted:      "ABORTED",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Passed reports whether the data is usable: an exact match, or flux
// timing that drifted but stayed within the quality threshold.
func (s Status) Passed() bool { return s == StatusOK || s == StatusTimingWarn }

// severity orders statuses so aggregates report the worst one.
func (s Status) severity() int {
	switch s {
	case StatusOK:
		return 0
	case StatusTimingWarn:
		return 1
	case StatusMismatch, StatusCRCError:
		return 2
	case StatusSizeMismatch, StatusFormatError:
		return 3
	case StatusReadError:
		return 4
	default:
		return 5
	}
}

func worse(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Options configures one verify call.
type Options struct {
	Mode          Mode
	MaxRetries    int           // fresh read-and-compare attempts after the first (write-verify: write+verify cycles)
	RetryDelay    time.Duration // pause between attempts
	MaxMismatches int           // cap on recorded mismatches; 0 means DefaultMaxMismatches
	StopOnFirst   bool          // VerifyDisk stops at the first failing track
	ComputeHashes bool          // VerifyDisk fills HashExpected/HashActual

	FluxTolerance float64 // allowed deviation per sample, percent; 0 means 5
	FluxWindow    int     // alignment slack, in samples, on either side

	// GapBytes is the gap length following each sector payload in a raw
	// track. It only affects Sector-mode track and disk comparisons; sector
	// addressing is always sector * BytesPerSector.
	GapBytes int

	// Format selects a comparator from the Registry. Unregistered formats
	// fall back to the Mode comparison.
	Format string

	// Progress receives one event per track from VerifyDisk.
	Progress chan<- types.Progress
}

// DefaultFluxTolerance is the default per-sample timing tolerance, in percent.
const DefaultFluxTolerance = 5.0

// fluxQualityFloor is the pass quality at or above which timing drift is a
// warning rather than a mismatch.
const fluxQualityFloor = 90.0

// DefaultOptions returns bitwise verification with three retries.
func DefaultOptions() Options {
	return Options{
		Mode:          Bitwise,
		MaxRetries:    types.DefaultMaxRetries,
		RetryDelay:    10 * time.Millisecond,
		MaxMismatches: types.DefaultMaxMismatches,
		ComputeHashes: true,
		FluxTolerance: DefaultFluxTolerance,
		FluxWindow:    2,
	}
}

func (o Options) normalize() Options {
	if o.MaxMismatches <= 0 {
		o.MaxMismatches = types.DefaultMaxMismatches
	}
	o.MaxRetries = max(0, min(o.MaxRetries, types.MaxRetries))
	if o.FluxTolerance <= 0 {
		o.FluxTolerance = DefaultFluxTolerance
	}
	o.FluxWindow = max(0, o.FluxWindow)
	o.GapBytes = max(0, o.GapBytes)
	o.RetryDelay = max(0, o.RetryDelay)
	return o
}

// Mismatch is one differing byte.
type Mismatch struct {
	Offset   int  `json:"offset"`
	Expected byte `json:"expected"`
	Actual   byte `json:"actual"`
	XOR      byte `json:"xor_diff"`
}

// Timings records where a verify call spent its time, in milliseconds.
type Timings struct {
	WriteMS  float64 `json:"write_ms,omitempty"`
	ReadMS   float64 `json:"read_ms"`
	VerifyMS float64 `json:"verify_ms"`
	TotalMS  float64 `json:"total_ms"`
}

// Outcome is the result shared by sector, track and disk verification.
type Outcome struct {
	Status        Status     `json:"status"`
	BytesTotal    int        `json:"bytes_total"`
	BytesMatching int        `json:"bytes_matching"`
	MatchPercent  float64    `json:"match_percent"`
	CRCExpected   uint32     `json:"crc_expected"`
	CRCActual     uint32     `json:"crc_actual"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
	MismatchCount int        `json:"mismatch_count"` // all differing bytes, recorded or not
	RetryCount    int        `json:"retry_count"`
	Writes        int        `json:"writes,omitempty"` // writes issued by write-verify
	Message       string     `json:"message,omitempty"`
	Timings       Timings    `json:"timings"`
}

// SectorResult is the outcome for one sector.
type SectorResult struct {
	Cylinder int `json:"cylinder"`
	Head     int `json:"head"`
	Sector   int `json:"sector"`
	Outcome
}

// FluxStats summarizes a Flux-mode comparison.
type FluxStats struct {
	Samples       int           `json:"samples"`
	Errors        int           `json:"errors"`
	MaxDeviation  float64       `json:"max_deviation"`
	MeanDeviation float64       `json:"mean_deviation"`
	Quality       float64       `json:"quality"`
	Outliers      []FluxOutlier `json:"outliers,omitempty"`
}

// FluxOutlier is one sample outside the tolerance window.
type FluxOutlier struct {
	Index     int     `json:"index"`
	Expected  uint32  `json:"expected"`
	Actual    uint32  `json:"actual"`
	Deviation float64 `json:"deviation"`
}

// TrackResult is the outcome for one track.
type TrackResult struct {
	Cylinder int `json:"cylinder"`
	Head     int `json:"head"`
	Outcome
	Sectors []SectorResult `json:"sectors,omitempty"` // Sector mode only
	Flux    *FluxStats     `json:"flux,omitempty"`    // Flux mode only
}

// FirstMismatch locates the first failure of a disk scan.
type FirstMismatch struct {
	Cylinder    int    `json:"cylinder"`
	Head        int    `json:"head"`
	Sector      int    `json:"sector"`
	Offset      int    `json:"offset"`       // absolute image offset
	TrackOffset int    `json:"track_offset"` // offset within the track
	Status      Status `json:"status"`
}

// DiskResult is the outcome of a whole-disk scan.
type DiskResult struct {
	Outcome
	Mode           Mode           `json:"mode"`
	TracksTotal    int            `json:"tracks_total"`
	TracksVerified int            `json:"tracks_verified"`
	TracksFailed   int            `json:"tracks_failed"`
	FirstMismatch  *FirstMismatch `json:"first_mismatch,omitempty"`
	HashExpected   string         `json:"hash_expected,omitempty"`
	HashActual     string         `json:"hash_actual,omitempty"`
	Tracks         []TrackResult  `json:"tracks"`
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func percent(part, whole int) float64 {
	if whole == 0 {
		return 100
	}
	return float64(part) * 100 / float64(whole)
}
