package weakref

import (
	"fmt"
	"sync"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/danmuck/weakreg/internal/index"
	"github.com/danmuck/weakreg/internal/logging"
	"github.com/danmuck/weakreg/internal/observability"
	"github.com/rs/zerolog"
)

// Config tunes a Registry.
type Config struct {
	// Logger overrides the component logger derived from the global one.
	Logger *zerolog.Logger
}

// Registry tracks which handles observe which targets.
type Registry struct {
	host Host
	log  zerolog.Logger

	mu    sync.Mutex
	index *index.Pair
	// slots holds the state cell of every handle in the reverse index.
	slots map[identity.ID]*slot
	stats counters
}

type counters struct {
	binds           uint64
	rejectedBinds   uint64
	targetFinalized uint64
	targetNoop      uint64
	handleFinalized uint64
	handleNoop      uint64
	markedGone      uint64
}

// New creates a registry wired to host.
func New(host Host) *Registry {
	return NewWithConfig(host, Config{})
}

func NewWithConfig(host Host, cfg Config) *Registry {
	logger := logging.For("weakref")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Registry{
		host:  host,
		log:   logger,
		index: index.NewPair(),
		slots: make(map[identity.ID]*slot),
	}
}

func (r *Registry) bind(handle identity.ID, s *slot, target any, commit func()) error {
	if !r.host.Finalizable(target) {
		return r.reject(handle, "not_finalizable", fmt.Errorf("%w: %T", ErrNotFinalizable, target))
	}
	if _, nested := target.(weakHandle); nested {
		return r.reject(handle, "nested", ErrNestedHandle)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if state := s.load(); state != Unbound {
		r.stats.rejectedBinds++
		observability.RecordBind("already_bound")
		return fmt.Errorf("%w: %v is %s", ErrAlreadyBound, handle, state)
	}

	targetID := r.host.TrackTarget(target)
	if err := r.index.Link(handle, targetID); err != nil {
		r.stats.rejectedBinds++
		observability.RecordBind("error")
		return err
	}
	r.slots[handle] = s
	commit()
	s.store(Bound)

	r.stats.binds++
	observability.RecordBind("ok")
	r.publishLocked()
	r.log.Debug().
		Stringer("handle", handle).
		Stringer("target", targetID).
		Msg("handle bound")
	return nil
}

func (r *Registry) reject(handle identity.ID, reason string, err error) error {
	r.mu.Lock()
	r.stats.rejectedBinds++
	r.mu.Unlock()
	observability.RecordBind(reason)
	r.log.Debug().Stringer("handle", handle).Err(err).Msg("bind rejected")
	return err
}

// OnTargetFinalized runs the target finalization protocol for id. Every
// handle still bound to id is marked Gone unless its own finalization is
// already pending, and both index entries are removed. Unknown ids are a
// no-op.
func (r *Registry) OnTargetFinalized(id identity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.index.DropTarget(id)
	if !ok {
		r.stats.targetNoop++
		observability.RecordFinalization("target", "noop")
		r.log.Debug().Stringer("target", id).Msg("target finalized: not tracked")
		return
	}

	marked := 0
	for _, h := range handles {
		s := r.slots[h]
		delete(r.slots, h)
		if s == nil || r.host.HandlePending(h) {
			continue
		}
		s.store(Gone)
		marked++
	}

	r.stats.targetFinalized++
	r.stats.markedGone += uint64(marked)
	observability.RecordFinalization("target", "applied")
	r.publishLocked()
	r.log.Debug().
		Stringer("target", id).
		Int("handles", len(handles)).
		Int("marked_gone", marked).
		Msg("target finalized")
}

// OnHandleFinalized runs the handle finalization protocol for id: the
// handle is removed from its target's set (dropping the set once empty) and
// from the reverse index. The target is never touched. Unknown ids are a
// no-op.
func (r *Registry) OnHandleFinalized(id identity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, emptied, ok := r.index.UnlinkHandle(id)
	if !ok {
		r.stats.handleNoop++
		observability.RecordFinalization("handle", "noop")
		r.log.Trace().Stringer("handle", id).Msg("handle finalized: not bound")
		return
	}
	delete(r.slots, id)

	r.stats.handleFinalized++
	observability.RecordFinalization("handle", "applied")
	r.publishLocked()
	r.log.Debug().
		Stringer("handle", id).
		Stringer("target", target).
		Bool("target_released", emptied).
		Msg("handle finalized")
}

// RefcountID returns the number of handles bound to the target with the
// given identity; ok is false when there is no entry.
func (r *Registry) RefcountID(id identity.ID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Count(id)
}

// HandlesOf returns the handles bound to the target with the given identity,
// in ascending order.
func (r *Registry) HandlesOf(id identity.ID) []identity.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Handles(id)
}

// TargetOf returns the target identity a handle is bound to.
func (r *Registry) TargetOf(handle identity.ID) (identity.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Target(handle)
}

func (r *Registry) publishLocked() {
	fwd, rev := r.index.Len()
	observability.SetIndexEntries(fwd, rev)
}
