package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/joshuapare/floppykit/pkg/types"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: DISKCTL_TX__TIMEOUT=30s sets tx.timeout.
const EnvPrefix = "DISKCTL_"

// configNames are searched in the working directory, then in the user
// config directory under diskctl/.
var configNames = []string{"diskctl.yaml", "diskctl.yml"}

// flagKeys maps flag names to config keys where kebab-to-snake is not enough.
var flagKeys = map[string]string{
	"preset":         "geometry.preset",
	"cylinders":      "geometry.cylinders",
	"heads":          "geometry.heads",
	"sectors":        "geometry.sectors",
	"sector-size":    "geometry.sector_size",
	"mode":           "verify.mode",
	"retries":        "verify.max_retries",
	"retry-delay":    "verify.retry_delay",
	"format":         "verify.format",
	"gap-bytes":      "verify.gap_bytes",
	"no-backup":      "tx.backup",
	"no-verify":      "tx.verify_after",
	"no-rollback":    "tx.auto_rollback",
	"timeout":        "tx.timeout",
	"tx-log":         "tx.log_path",
	"backup-dir":     "tx.backup_dir",
	"max-ops":        "tx.max_operations",
	"diff":           "preview.diff",
	"max-tracks":     "preview.max_tracks",
	"no-hashes":      "verify.hashes",
	"max-mismatch":   "verify.max_mismatches",
	"flux-tolerance": "verify.flux_tolerance",
}

// invertedFlags are --no-X switches for keys that default to true.
var invertedFlags = map[string]bool{
	"no-backup":   true,
	"no-verify":   true,
	"no-rollback": true,
	"no-hashes":   true,
}

func defaults() map[string]any {
	return map[string]any{
		"verbose":   false,
		"quiet":     false,
		"json":      false,
		"no_color":  false,
		"log_level": "info",
		"log_json":  false,

		"verify.mode":           "bitwise",
		"verify.max_retries":    types.DefaultMaxRetries,
		"verify.retry_delay":    "10ms",
		"verify.max_mismatches": types.DefaultMaxMismatches,
		"verify.flux_tolerance": 5.0,
		"verify.hashes":         true,

		"tx.backup":         true,
		"tx.verify_after":   true,
		"tx.auto_rollback":  true,
		"tx.timeout":        "0s",
		"tx.max_operations": types.DefaultMaxOperations,

		"preview.max_tracks":            types.DefaultMaxTracks,
		"preview.max_sectors_per_track": types.DefaultMaxSectorsPerTrack,
		"preview.diff":                  false,
	}
}

// findConfigFile returns the config file to use.
// Priority: explicit path > ./diskctl.yaml > ./diskctl.yml > user config dir.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		for _, name := range configNames {
			candidate := filepath.Join(dir, "diskctl", name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// envKey transforms DISKCTL_TX__TIMEOUT into tx.timeout.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// An explicit cfgFile that does not exist is an error; a missing default
// file is not.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, types.Wrap(types.ErrKindInvalidArgument, "read config file "+used, err)
		}
	}

	// 3. Environment (DISKCTL_ prefix)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			val := posflag.FlagVal(flags, f)
			if invertedFlags[f.Name] {
				if b, ok := val.(bool); ok {
					val = !b
				}
			}
			return key, val
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, types.Wrap(types.ErrKindInvalidArgument, "decode config", err)
	}
	cfg.File = used
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
