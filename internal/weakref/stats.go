package weakref

import (
	"fmt"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/danmuck/weakreg/internal/index"
)

// Stats is a point-in-time view of the registry.
type Stats struct {
	Targets int `json:"targets"`
	Handles int `json:"bound_handles"`

	Binds                  uint64 `json:"binds"`
	RejectedBinds          uint64 `json:"rejected_binds"`
	TargetFinalizations    uint64 `json:"target_finalizations"`
	TargetFinalizationNoop uint64 `json:"target_finalization_noops"`
	HandleFinalizations    uint64 `json:"handle_finalizations"`
	HandleFinalizationNoop uint64 `json:"handle_finalization_noops"`
	MarkedGone             uint64 `json:"marked_gone"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	fwd, rev := r.index.Len()
	return Stats{
		Targets:                fwd,
		Handles:                rev,
		Binds:                  r.stats.binds,
		RejectedBinds:          r.stats.rejectedBinds,
		TargetFinalizations:    r.stats.targetFinalized,
		TargetFinalizationNoop: r.stats.targetNoop,
		HandleFinalizations:    r.stats.handleFinalized,
		HandleFinalizationNoop: r.stats.handleNoop,
		MarkedGone:             r.stats.markedGone,
	}
}

// Snapshot copies both indices.
func (r *Registry) Snapshot() index.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Snapshot()
}

// Check verifies the index pair and that every bound handle has a Bound
// state cell. It returns an error wrapping ErrInconsistent on the first
// violation found.
func (r *Registry) Check() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.index.Check(); err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistent, err)
	}
	_, rev := r.index.Len()
	if len(r.slots) != rev {
		return fmt.Errorf("%w: %d state cells for %d reverse entries", ErrInconsistent, len(r.slots), rev)
	}
	var err error
	r.index.EachHandle(func(h, _ identity.ID) {
		if err != nil {
			return
		}
		s, ok := r.slots[h]
		switch {
		case !ok:
			err = fmt.Errorf("%w: %v has no state cell", ErrInconsistent, h)
		case s.load() != Bound:
			err = fmt.Errorf("%w: %v indexed but %s", ErrInconsistent, h, s.load())
		}
	})
	return err
}
