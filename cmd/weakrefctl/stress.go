package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/weakreg/internal/collector"
	"github.com/danmuck/weakreg/internal/config"
	"github.com/danmuck/weakreg/internal/weakref"
	"github.com/rs/zerolog/log"
)

// stressRoundAttempts bounds forced cycles per round.
const stressRoundAttempts = 50

type stressTarget struct {
	round int
	index int
	pad   [24]byte
}

type stressReport struct {
	Rounds       int
	Targets      int
	Handles      int
	ObservedGone int
	Cycles       int
	Elapsed      time.Duration
}

// runStress drops many target/handle pairs in the same cycle so both
// finalizer kinds arrive interleaved. Every other target keeps its handles
// alive so those observers must end up Gone.
func runStress(ctx context.Context, cfg config.Config) (stressReport, error) {
	reg, col := newRuntime(cfg)
	started := time.Now()
	report := stressReport{}

	for round := 0; round < cfg.Stress.Depth; round++ {
		survivors, err := populate(reg, round, cfg.Stress)
		if err != nil {
			return report, err
		}
		report.Targets += cfg.Stress.Targets
		report.Handles += cfg.Stress.Targets * cfg.Stress.HandlesPerTarget

		cycles, err := collectUntilEmpty(ctx, reg, col)
		report.Cycles += cycles
		if err != nil {
			return report, fmt.Errorf("round %d: %w", round, err)
		}
		if err := reg.Check(); err != nil {
			return report, fmt.Errorf("round %d: %w", round, err)
		}
		for _, h := range survivors {
			if h.State() != weakref.Gone {
				return report, fmt.Errorf("round %d: handle %s is %s after its target was collected", round, h.ID(), h.State())
			}
		}
		report.ObservedGone += len(survivors)
		report.Rounds++
		log.Debug().Int("round", round).Int("cycles", cycles).Msg("stress round done")
	}

	report.Elapsed = time.Since(started)
	return report, nil
}

func populate(reg *weakref.Registry, round int, cfg config.StressConfig) ([]*weakref.Handle[stressTarget], error) {
	var survivors []*weakref.Handle[stressTarget]
	for i := 0; i < cfg.Targets; i++ {
		target := &stressTarget{round: round, index: i}
		for j := 0; j < cfg.HandlesPerTarget; j++ {
			h := weakref.NewHandle[stressTarget](reg)
			if err := h.Bind(target); err != nil {
				return nil, fmt.Errorf("bind target %d: %w", i, err)
			}
			if i%2 == 1 {
				survivors = append(survivors, h)
			}
		}
	}
	return survivors, nil
}

func collectUntilEmpty(ctx context.Context, reg *weakref.Registry, col *collector.Collector) (int, error) {
	for cycle := 1; cycle <= stressRoundAttempts; cycle++ {
		if _, err := col.Collect(ctx); err != nil && ctx.Err() != nil {
			return cycle, err
		}
		stats := reg.Stats()
		if stats.Targets == 0 && stats.Handles == 0 && col.Pending() == 0 {
			return cycle, nil
		}
	}
	stats := reg.Stats()
	return stressRoundAttempts, fmt.Errorf("registry not empty after %d cycles: %d targets, %d handles", stressRoundAttempts, stats.Targets, stats.Handles)
}
