package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/weakreg/internal/logging"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidLogLevel = errors.New("config: invalid log_level")
	ErrInvalid         = errors.New("config: invalid value")
)

// Config is the resolved weakrefctl configuration.
type Config struct {
	LogLevel       zerolog.Level
	DrainInterval  time.Duration
	CollectTimeout time.Duration
	Diag           DiagConfig
	Stress         StressConfig
}

type DiagConfig struct {
	ListenAddr  string
	CorsOrigins []string
}

// StressConfig sizes the finalization-ordering run: Targets objects, each
// observed by HandlesPerTarget handles, repeated Depth rounds.
type StressConfig struct {
	Targets          int
	HandlesPerTarget int
	Depth            int
}

func Default() Config {
	return Config{
		LogLevel:       zerolog.InfoLevel,
		DrainInterval:  100 * time.Millisecond,
		CollectTimeout: 2 * time.Second,
		Diag: DiagConfig{
			ListenAddr:  ":9400",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Stress: StressConfig{
			Targets:          1000,
			HandlesPerTarget: 2,
			Depth:            3,
		},
	}
}

// fileConfig mirrors the on-disk layout; durations stay strings until Load
// parses them.
type fileConfig struct {
	LogLevel       string     `toml:"log_level"`
	DrainInterval  string     `toml:"drain_interval"`
	CollectTimeout string     `toml:"collect_timeout"`
	Diag           fileDiag   `toml:"diag"`
	Stress         fileStress `toml:"stress"`
}

type fileDiag struct {
	ListenAddr  string   `toml:"listen_addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type fileStress struct {
	Targets          int `toml:"targets"`
	HandlesPerTarget int `toml:"handles_per_target"`
	Depth            int `toml:"depth"`
}

// Load decodes path on top of Default. Keys absent from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("config %s: unknown keys %s: %w", path, strings.Join(keys, ", "), ErrInvalid)
	}

	if meta.IsDefined("log_level") {
		level, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("%w: %q", ErrInvalidLogLevel, raw.LogLevel)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("drain_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DrainInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse drain_interval: %w", err)
		}
		cfg.DrainInterval = d
	}

	if meta.IsDefined("collect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CollectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse collect_timeout: %w", err)
		}
		cfg.CollectTimeout = d
	}

	if meta.IsDefined("diag", "listen_addr") {
		cfg.Diag.ListenAddr = strings.TrimSpace(raw.Diag.ListenAddr)
	}
	if meta.IsDefined("diag", "cors_origins") {
		cfg.Diag.CorsOrigins = normalizeOrigins(raw.Diag.CorsOrigins)
	}

	if meta.IsDefined("stress", "targets") {
		cfg.Stress.Targets = raw.Stress.Targets
	}
	if meta.IsDefined("stress", "handles_per_target") {
		cfg.Stress.HandlesPerTarget = raw.Stress.HandlesPerTarget
	}
	if meta.IsDefined("stress", "depth") {
		cfg.Stress.Depth = raw.Stress.Depth
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.DrainInterval <= 0 {
		return fmt.Errorf("%w: drain_interval must be positive", ErrInvalid)
	}
	if cfg.CollectTimeout <= 0 {
		return fmt.Errorf("%w: collect_timeout must be positive", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Diag.ListenAddr) == "" {
		return fmt.Errorf("%w: diag.listen_addr is required", ErrInvalid)
	}
	if cfg.Stress.Targets < 1 {
		return fmt.Errorf("%w: stress.targets must be at least 1", ErrInvalid)
	}
	if cfg.Stress.HandlesPerTarget < 1 {
		return fmt.Errorf("%w: stress.handles_per_target must be at least 1", ErrInvalid)
	}
	if cfg.Stress.Depth < 1 {
		return fmt.Errorf("%w: stress.depth must be at least 1", ErrInvalid)
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	return out
}
