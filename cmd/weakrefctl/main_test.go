package main

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/weakreg/internal/config"
	"github.com/danmuck/weakreg/internal/testutil/testlog"
)

func TestExampleConfigLoads(t *testing.T) {
	testlog.Start(t)

	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.DrainInterval != 50*time.Millisecond {
		t.Fatalf("unexpected drain interval: %v", cfg.DrainInterval)
	}
	if cfg.Diag.ListenAddr != "127.0.0.1:9401" {
		t.Fatalf("unexpected listen addr: %q", cfg.Diag.ListenAddr)
	}
	if cfg.Stress.Targets != 64 || cfg.Stress.HandlesPerTarget != 3 || cfg.Stress.Depth != 2 {
		t.Fatalf("unexpected stress config: %+v", cfg.Stress)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	testlog.Start(t)

	if err := run(context.Background(), "nope", config.Default()); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestRunCheckMode(t *testing.T) {
	testlog.Start(t)

	if err := run(context.Background(), "check", config.Default()); err != nil {
		t.Fatalf("check mode: %v", err)
	}
	bad := config.Default()
	bad.Stress.Depth = 0
	if err := run(context.Background(), "check", bad); err == nil {
		t.Fatalf("expected check failure for invalid config")
	}
}

func TestStressDropsAndConverges(t *testing.T) {
	testlog.Start(t)

	cfg := config.Default()
	cfg.Stress = config.StressConfig{Targets: 40, HandlesPerTarget: 3, Depth: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := runStress(ctx, cfg)
	if err != nil {
		t.Fatalf("stress: %v", err)
	}
	if report.Rounds != 2 {
		t.Fatalf("unexpected rounds: %d", report.Rounds)
	}
	if report.Targets != 80 || report.Handles != 240 {
		t.Fatalf("unexpected totals: %+v", report)
	}
	// odd-indexed targets keep their handles alive: 20 targets x 3 handles per round.
	if report.ObservedGone != 120 {
		t.Fatalf("unexpected gone observers: %d", report.ObservedGone)
	}
}
