package preview

import (
	"fmt"

	"github.com/joshuapare/floppykit/pkg/types"
)

// ChangeType classifies what a staged write does to its region.
type ChangeType int

const (
	ChangeNone ChangeType = iota
	ChangeModify
	ChangeCreate
	ChangeDelete
	ChangeFormat
)

var changeTypeNames = [...]string{
	ChangeNone:   "NONE",
	ChangeModify: "MODIFY",
	ChangeCreate: "CREATE",
	ChangeDelete: "DELETE",
	ChangeFormat: "FORMAT",
}

func (c ChangeType) String() string {
	if c >= 0 && int(c) < len(changeTypeNames) {
		return changeTypeNames[c]
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

func (c ChangeType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Level is a validation verdict. Levels are ordered; the overall verdict is
// the highest level of any staged change.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = [...]string{
	LevelOK:      "OK",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
	LevelFatal:   "FATAL",
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Issue is one validation finding.
type Issue struct {
	Index   int            `json:"index"` // staged change index
	Loc     types.Location `json:"location"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
}

// Validation is the result of Validate.
type Validation struct {
	Overall  Level   `json:"overall_validation"`
	Warnings int     `json:"warning_count"`
	Errors   int     `json:"error_count"` // ERROR and FATAL issues
	Issues   []Issue `json:"issues,omitempty"`
}

// TrackChange describes one staged change in a report.
type TrackChange struct {
	Cylinder      int        `json:"cylinder"`
	Head          int        `json:"head"`
	Sector        int        `json:"sector"` // -1 for whole-track changes
	Kind          string     `json:"kind"`
	ChangeType    ChangeType `json:"change_type"`
	BytesTotal    int        `json:"bytes_total"` // bytes the change writes
	BytesChanged  int        `json:"bytes_changed"`
	ChangePercent float64    `json:"change_percent"`
	Validation    Level      `json:"validation"`
	Message       string     `json:"message,omitempty"`

	// Diff has bit i (LSB first) set when byte i of the region changes.
	// Filled only with Options.GenerateDiff.
	Diff []byte `json:"diff,omitempty"`
}

// TrackSummary is the net effect of all staged changes on one track.
type TrackSummary struct {
	Cylinder      int        `json:"cylinder"`
	Head          int        `json:"head"`
	ChangeType    ChangeType `json:"change_type"`
	Changes       int        `json:"changes"`
	BytesChanged  int        `json:"bytes_changed"`
	ChangePercent float64    `json:"change_percent"`
}

// Report is the outcome of Analyze. It is derived from the staged changes
// and the current medium only; producing it never writes.
type Report struct {
	DiskPath          string         `json:"disk_path,omitempty"`
	Geometry          types.Geometry `json:"geometry"`
	TracksTotal       int            `json:"tracks_total"`
	TracksModified    int            `json:"tracks_modified"`
	SectorsModified   int            `json:"sectors_modified"`
	BytesTotal        int64          `json:"bytes_total"`
	BytesToWrite      int64          `json:"bytes_to_write"`
	BytesChanged      int64          `json:"bytes_changed"`
	PerTrackChanges   []TrackChange  `json:"per_track_changes"`
	OverallValidation Level          `json:"overall_validation"`
	WarningCount      int            `json:"warning_count"`
	ErrorCount        int            `json:"error_count"`
	RiskScore         int            `json:"risk_score"`
	RiskDescription   string         `json:"risk_description"`
	HashBefore        string         `json:"hash_before"`
	HashAfter         string         `json:"hash_after"`
	Tracks            []TrackSummary `json:"tracks"`
	Issues            []Issue        `json:"issues,omitempty"`
}

// ChangePercent is bytes_changed as a percentage of bytes_total.
func (r *Report) ChangePercent() float64 {
	if r.BytesTotal == 0 {
		return 0
	}
	return float64(r.BytesChanged) * 100 / float64(r.BytesTotal)
}

// RiskAdvice is the operator guidance for the report's risk band.
func (r *Report) RiskAdvice() string {
	return riskAdvice(r.RiskScore)
}

// Risk bands.
const (
	RiskLow      = "LOW"
	RiskModerate = "MODERATE"
	RiskElevated = "ELEVATED"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// RiskScore combines change volume, the number of modified tracks and the
// validation findings into a 0..100 score.
func RiskScore(changePercent float64, tracksModified, errors, warnings int) int {
	score := changePercent
	switch {
	case tracksModified == 0:
	case tracksModified <= 10:
		score += 5
	case tracksModified <= 50:
		score += 10
	case tracksModified <= 100:
		score += 20
	default:
		score += 30
	}
	score += float64(25*errors + 5*warnings)
	return int(max(0, min(100, score)))
}

// RiskDescription names the band a score falls into.
func RiskDescription(score int) string {
	switch {
	case score < 20:
		return RiskLow
	case score < 40:
		return RiskModerate
	case score < 60:
		return RiskElevated
	case score < 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func riskAdvice(score int) string {
	switch RiskDescription(score) {
	case RiskLow:
		return "Safe to proceed"
	case RiskModerate:
		return "Review recommended"
	case RiskElevated:
		return "Careful review required"
	case RiskHigh:
		return "Significant risk"
	default:
		return "Extreme caution advised"
	}
}
