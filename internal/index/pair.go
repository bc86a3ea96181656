package index

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/weakreg/internal/identity"
)

var (
	ErrHandleLinked = errors.New("index: handle already linked")
	ErrInvalidID    = errors.New("index: invalid identity")
	ErrInconsistent = errors.New("index: inconsistent")
)

// Pair holds the forward and reverse indices.
type Pair struct {
	forward map[identity.ID]Set
	reverse map[identity.ID]identity.ID
}

// NewPair creates an empty index pair.
func NewPair() *Pair {
	return &Pair{
		forward: make(map[identity.ID]Set),
		reverse: make(map[identity.ID]identity.ID),
	}
}

// Link records that handle observes target.
func (p *Pair) Link(handle, target identity.ID) error {
	if !handle.Valid() || !target.Valid() {
		return ErrInvalidID
	}
	if _, ok := p.reverse[handle]; ok {
		return fmt.Errorf("%w: %v", ErrHandleLinked, handle)
	}
	set, ok := p.forward[target]
	if !ok {
		set = make(Set)
		p.forward[target] = set
	}
	set.Add(handle)
	p.reverse[handle] = target
	return nil
}

// Target returns the target handle currently observes.
func (p *Pair) Target(handle identity.ID) (identity.ID, bool) {
	target, ok := p.reverse[handle]
	return target, ok
}

// Count returns the number of handles observing target; ok is false when
// target has no forward entry.
func (p *Pair) Count(target identity.ID) (int, bool) {
	set, ok := p.forward[target]
	if !ok {
		return 0, false
	}
	return set.Len(), true
}

// Handles returns the handles observing target in ascending order.
func (p *Pair) Handles(target identity.ID) []identity.ID {
	set, ok := p.forward[target]
	if !ok {
		return nil
	}
	return set.Sorted()
}

// DropTarget removes target's forward entry and the reverse entry of every
// handle that observed it. The removed handles are returned in ascending order.
func (p *Pair) DropTarget(target identity.ID) ([]identity.ID, bool) {
	set, ok := p.forward[target]
	if !ok {
		return nil, false
	}
	handles := set.Sorted()
	for _, h := range handles {
		delete(p.reverse, h)
	}
	delete(p.forward, target)
	return handles, true
}

// UnlinkHandle removes handle from both indices. emptied reports whether the
// target's forward entry was removed as a result.
func (p *Pair) UnlinkHandle(handle identity.ID) (target identity.ID, emptied bool, ok bool) {
	target, ok = p.reverse[handle]
	if !ok {
		return identity.None, false, false
	}
	delete(p.reverse, handle)
	if set, found := p.forward[target]; found {
		set.Remove(handle)
		if set.Len() == 0 {
			delete(p.forward, target)
			emptied = true
		}
	}
	return target, emptied, true
}

// Len returns the number of forward and reverse entries.
func (p *Pair) Len() (forward, reverse int) {
	return len(p.forward), len(p.reverse)
}

// EachHandle calls fn for every reverse entry in ascending handle order.
func (p *Pair) EachHandle(fn func(handle, target identity.ID)) {
	handles := make([]identity.ID, 0, len(p.reverse))
	for h := range p.reverse {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	for _, h := range handles {
		fn(h, p.reverse[h])
	}
}

// Check verifies that every forward entry is non-empty and that the two
// indices describe the same set of (handle, target) links.
func (p *Pair) Check() error {
	linked := 0
	for target, set := range p.forward {
		if set.Len() == 0 {
			return fmt.Errorf("%w: empty forward entry for %v", ErrInconsistent, target)
		}
		for h := range set {
			got, ok := p.reverse[h]
			if !ok {
				return fmt.Errorf("%w: %v listed under %v has no reverse entry", ErrInconsistent, h, target)
			}
			if got != target {
				return fmt.Errorf("%w: %v listed under %v but reverse points at %v", ErrInconsistent, h, target, got)
			}
			linked++
		}
	}
	if linked != len(p.reverse) {
		for h, target := range p.reverse {
			if set, ok := p.forward[target]; !ok || !set.Has(h) {
				return fmt.Errorf("%w: reverse %v -> %v missing from forward", ErrInconsistent, h, target)
			}
		}
	}
	return nil
}

// Snapshot is a detached, ordered copy of the pair.
type Snapshot struct {
	Forward map[identity.ID][]identity.ID `json:"forward"`
	Reverse map[identity.ID]identity.ID   `json:"reverse"`
}

// Snapshot copies both indices.
func (p *Pair) Snapshot() Snapshot {
	out := Snapshot{
		Forward: make(map[identity.ID][]identity.ID, len(p.forward)),
		Reverse: make(map[identity.ID]identity.ID, len(p.reverse)),
	}
	for target, set := range p.forward {
		out.Forward[target] = set.Sorted()
	}
	for h, target := range p.reverse {
		out.Reverse[h] = target
	}
	return out
}
