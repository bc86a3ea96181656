package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/weakreg/internal/collector"
	"github.com/danmuck/weakreg/internal/config"
	"github.com/danmuck/weakreg/internal/diag"
	"github.com/danmuck/weakreg/internal/logging"
	"github.com/danmuck/weakreg/internal/observability"
	"github.com/danmuck/weakreg/internal/weakref"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/weakrefctl/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to weakrefctl config")
	mode := flag.String("mode", "serve", "run mode: serve|stress|check")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weakrefctl: %v\n", err)
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "weakrefctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults only when the default path is absent.
func loadConfig(path string) (config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("config not found, using defaults")
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func run(ctx context.Context, mode string, cfg config.Config) error {
	switch mode {
	case "check":
		if err := config.Validate(cfg); err != nil {
			return err
		}
		log.Info().Msg("config ok")
		return nil
	case "serve":
		return serve(ctx, cfg)
	case "stress":
		report, err := runStress(ctx, cfg)
		if err != nil {
			return err
		}
		log.Info().
			Int("rounds", report.Rounds).
			Int("targets", report.Targets).
			Int("handles", report.Handles).
			Int("observed_gone", report.ObservedGone).
			Int("cycles", report.Cycles).
			Dur("elapsed", report.Elapsed).
			Msg("stress complete")
		return nil
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func newRuntime(cfg config.Config) (*weakref.Registry, *collector.Collector) {
	observability.RegisterMetrics()
	col := collector.NewWithConfig(cfg.Collector())
	reg := weakref.New(col)
	col.Attach(reg)
	return reg, col
}

func serve(ctx context.Context, cfg config.Config) error {
	reg, col := newRuntime(cfg)
	srv := diag.NewServer(cfg.DiagServer("weakrefctl"), reg, col)

	errCh := make(chan error, 2)
	go func() { errCh <- col.Run(ctx) }()
	go func() { errCh <- srv.ListenAndServe(ctx, cfg.Diag.ListenAddr) }()

	var first error
	for range 2 {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}
