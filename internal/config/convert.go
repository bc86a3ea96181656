package config

import (
	"github.com/danmuck/weakreg/internal/collector"
	"github.com/danmuck/weakreg/internal/diag"
)

func (c Config) Collector() collector.Config {
	out := collector.DefaultConfig()
	out.DrainInterval = c.DrainInterval
	out.CollectTimeout = c.CollectTimeout
	return out
}

func (c Config) DiagServer(name string) diag.Config {
	return diag.Config{
		Name:        name,
		CorsOrigins: append([]string(nil), c.Diag.CorsOrigins...),
	}
}
