// Package config loads diskctl configuration from defaults, a YAML file,
// DISKCTL_ environment variables and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshuapare/floppykit/disk"
	"github.com/joshuapare/floppykit/disk/preview"
	"github.com/joshuapare/floppykit/disk/tx"
	"github.com/joshuapare/floppykit/disk/verify"
	"github.com/joshuapare/floppykit/internal/logger"
	"github.com/joshuapare/floppykit/pkg/types"
)

// GeometryConfig describes the medium when no preset is named.
type GeometryConfig struct {
	Preset          string `koanf:"preset"`
	Cylinders       int    `koanf:"cylinders"`
	Heads           int    `koanf:"heads"`
	SectorsPerTrack int    `koanf:"sectors"`
	BytesPerSector  int    `koanf:"sector_size"`
}

// VerifyConfig holds read-back verification settings.
type VerifyConfig struct {
	Mode          string        `koanf:"mode"`
	MaxRetries    int           `koanf:"max_retries"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
	MaxMismatches int           `koanf:"max_mismatches"`
	FluxTolerance float64       `koanf:"flux_tolerance"`
	GapBytes      int           `koanf:"gap_bytes"`
	Format        string        `koanf:"format"`
	Hashes        bool          `koanf:"hashes"`
}

// TxConfig holds transaction settings.
type TxConfig struct {
	Backup        bool          `koanf:"backup"`
	VerifyAfter   bool          `koanf:"verify_after"`
	AutoRollback  bool          `koanf:"auto_rollback"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxOperations int           `koanf:"max_operations"`
	LogPath       string        `koanf:"log_path"`
	BackupDir     string        `koanf:"backup_dir"`
}

// PreviewConfig holds preview limits.
type PreviewConfig struct {
	MaxTracks          int  `koanf:"max_tracks"`
	MaxSectorsPerTrack int  `koanf:"max_sectors_per_track"`
	Diff               bool `koanf:"diff"`
}

// Config holds all diskctl configuration options.
type Config struct {
	Verbose  bool   `koanf:"verbose"`
	Quiet    bool   `koanf:"quiet"`
	JSON     bool   `koanf:"json"`
	NoColor  bool   `koanf:"no_color"`
	LogFile  string `koanf:"log_file"`
	LogLevel string `koanf:"log_level"`
	LogJSON  bool   `koanf:"log_json"`

	Geometry GeometryConfig `koanf:"geometry"`
	Verify   VerifyConfig   `koanf:"verify"`
	Tx       TxConfig       `koanf:"tx"`
	Preview  PreviewConfig  `koanf:"preview"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// Validate checks values that koanf cannot type-check.
func (c *Config) Validate() error {
	if _, err := verify.ParseMode(c.Verify.Mode); err != nil {
		return err
	}
	if c.Verify.MaxRetries < 0 || c.Verify.MaxRetries > types.MaxRetries {
		return types.Errorf(types.ErrKindInvalidArgument,
			"verify.max_retries must be between 0 and %d, got %d", types.MaxRetries, c.Verify.MaxRetries)
	}
	if c.Verify.FluxTolerance < 0 {
		return types.Errorf(types.ErrKindInvalidArgument, "verify.flux_tolerance must not be negative")
	}
	if c.Tx.Timeout < 0 {
		return types.Errorf(types.ErrKindInvalidArgument, "tx.timeout must not be negative")
	}
	if p := c.Geometry.Preset; p != "" {
		if _, ok := disk.LookupGeometry(p); !ok {
			names := make([]string, 0, 8)
			for _, pr := range disk.Presets() {
				names = append(names, pr.Name)
			}
			return types.Errorf(types.ErrKindInvalidArgument,
				"unknown geometry preset %q (available: %s)", p, strings.Join(names, ", "))
		}
	}
	return nil
}

// ResolveGeometry returns the configured geometry: a preset, explicit
// dimensions, or the preset whose size matches imageSize.
func (c *Config) ResolveGeometry(imageSize int64) (types.Geometry, error) {
	g := c.Geometry
	if g.Preset != "" {
		geom, ok := disk.LookupGeometry(g.Preset)
		if !ok {
			return types.Geometry{}, types.Errorf(types.ErrKindInvalidArgument, "unknown geometry preset %q", g.Preset)
		}
		return geom, nil
	}
	if g.Cylinders != 0 || g.Heads != 0 || g.SectorsPerTrack != 0 || g.BytesPerSector != 0 {
		geom := types.Geometry{
			Cylinders:       g.Cylinders,
			Heads:           g.Heads,
			SectorsPerTrack: g.SectorsPerTrack,
			BytesPerSector:  g.BytesPerSector,
		}
		if err := geom.Validate(); err != nil {
			return types.Geometry{}, err
		}
		return geom, nil
	}
	if geom, ok := disk.GeometryForSize(imageSize); ok {
		return geom, nil
	}
	return types.Geometry{}, types.Errorf(types.ErrKindInvalidArgument,
		"cannot infer geometry for a %d-byte image; set geometry.preset or geometry.cylinders/heads/sectors/sector_size", imageSize)
}

// VerifyOptions converts the verify section. Call Validate first.
func (c *Config) VerifyOptions() verify.Options {
	o := verify.DefaultOptions()
	if m, err := verify.ParseMode(c.Verify.Mode); err == nil {
		o.Mode = m
	}
	o.MaxRetries = c.Verify.MaxRetries
	o.RetryDelay = c.Verify.RetryDelay
	o.MaxMismatches = c.Verify.MaxMismatches
	o.FluxTolerance = c.Verify.FluxTolerance
	o.GapBytes = c.Verify.GapBytes
	o.Format = c.Verify.Format
	o.ComputeHashes = c.Verify.Hashes
	return o
}

// TxOptions converts the tx section, with verification settings from the
// verify section.
func (c *Config) TxOptions() tx.Options {
	o := tx.DefaultOptions()
	o.CreateBackup = c.Tx.Backup
	o.VerifyAfter = c.Tx.VerifyAfter
	o.AutoRollback = c.Tx.AutoRollback
	o.Timeout = c.Tx.Timeout
	o.MaxOperations = c.Tx.MaxOperations
	if c.Tx.LogPath != "" {
		o.LogEnabled = true
		o.LogPath = c.Tx.LogPath
	}
	o.Verify = c.VerifyOptions()
	return o
}

// PreviewOptions converts the preview section.
func (c *Config) PreviewOptions() preview.Options {
	o := preview.DefaultOptions()
	o.MaxTracks = c.Preview.MaxTracks
	o.MaxSectorsPerTrack = c.Preview.MaxSectorsPerTrack
	o.GenerateDiff = c.Preview.Diff
	return o
}

// LoggerOptions converts the logging settings. Quiet wins over Verbose.
func (c *Config) LoggerOptions() logger.Options {
	level := logger.ParseLevel(c.LogLevel)
	if c.Verbose {
		level = slog.LevelDebug
	}
	return logger.Options{
		Enabled: !c.Quiet && (c.Verbose || c.LogFile != ""),
		Path:    c.LogFile,
		Level:   level,
		JSON:    c.LogJSON,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("config(file=%q, verify=%s, backup=%t, verify_after=%t, auto_rollback=%t)",
		c.File, c.Verify.Mode, c.Tx.Backup, c.Tx.VerifyAfter, c.Tx.AutoRollback)
}
