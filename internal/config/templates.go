package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders Default as a weakrefctl config file.
func Template() (string, error) {
	cfg := Default()
	raw := fileConfig{
		LogLevel:       cfg.LogLevel.String(),
		DrainInterval:  cfg.DrainInterval.String(),
		CollectTimeout: cfg.CollectTimeout.String(),
		Diag: fileDiag{
			ListenAddr:  cfg.Diag.ListenAddr,
			CorsOrigins: cfg.Diag.CorsOrigins,
		},
		Stress: fileStress{
			Targets:          cfg.Stress.Targets,
			HandlesPerTarget: cfg.Stress.HandlesPerTarget,
			Depth:            cfg.Stress.Depth,
		},
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
