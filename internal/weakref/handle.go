package weakref

import (
	"fmt"
	"sync/atomic"
	"weak"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/danmuck/weakreg/internal/observability"
)

// State is the classification of a handle's reference slot.
type State int32

const (
	Unbound State = iota
	Bound
	Gone
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Gone:
		return "gone"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// slot is the handle's state word. It is a separate allocation so the
// registry can flip it to Gone without referencing the handle itself.
type slot struct {
	state atomic.Int32
}

func (s *slot) load() State {
	return State(s.state.Load())
}

func (s *slot) store(state State) {
	s.state.Store(int32(state))
}

// weakHandle is implemented by every *Handle[T]; used to refuse nesting.
type weakHandle interface {
	handleID() identity.ID
}

// Handle observes one target of type T without keeping it alive.
type Handle[T any] struct {
	id   identity.ID
	reg  *Registry
	slot *slot
	ptr  weak.Pointer[T]
}

// NewHandle allocates an unbound handle registered with r.
func NewHandle[T any](r *Registry) *Handle[T] {
	h := &Handle[T]{reg: r, slot: &slot{}}
	h.id = r.host.TrackHandle(h)
	r.log.Trace().Stringer("handle", h.id).Msg("handle created")
	return h
}

func (h *Handle[T]) handleID() identity.ID {
	return h.id
}

// ID returns the handle's identity token.
func (h *Handle[T]) ID() identity.ID {
	return h.id
}

// State reports the slot classification. A Bound handle whose target was
// reclaimed but not yet delivered still reports Bound; Get is authoritative.
func (h *Handle[T]) State() State {
	return h.slot.load()
}

// Bind points an unbound handle at target.
func (h *Handle[T]) Bind(target *T) error {
	return h.reg.bind(h.id, h.slot, target, func() {
		h.ptr = weak.Make(target)
	})
}

// Get returns the target while it is alive.
func (h *Handle[T]) Get() (*T, error) {
	switch h.slot.load() {
	case Unbound:
		observability.RecordResolve("uninitialized")
		return nil, fmt.Errorf("%w: %v", ErrUninitialized, h.id)
	case Gone:
		observability.RecordResolve("finalized")
		return nil, fmt.Errorf("%w: %v", ErrFinalized, h.id)
	}
	if v := h.ptr.Value(); v != nil {
		observability.RecordResolve("ok")
		return v, nil
	}
	// Reclaimed; the notification is still queued for the next safepoint.
	observability.RecordResolve("finalized")
	return nil, fmt.Errorf("%w: %v", ErrFinalized, h.id)
}

// Refcount returns the number of handles bound to target. ok is false when
// the registry has no entry for target, which covers both "never observed"
// and "observed by handles that are all gone".
func Refcount[T any](r *Registry, target *T) (n int, ok bool) {
	if target == nil {
		return 0, false
	}
	id, found := r.host.LookupTarget(target)
	if !found {
		return 0, false
	}
	return r.RefcountID(id)
}
