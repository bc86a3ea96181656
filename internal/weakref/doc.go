// Package weakref owns the weak reference registry: handles that observe a
// target without keeping it alive, and the finalization protocols that keep
// the registry's indices consistent as the collector reclaims targets and
// handles in either order.
//
// Ownership boundary:
// - handle lifecycle: Unbound -> Bound -> Gone
// - bind / resolve / refcount queries
// - target and handle finalization protocols
// - registry diagnostics (stats, invariant check, snapshot)
//
// The collector integration (identity tokens, cleanup registration, the
// safepoint queue) lives behind the Host interface; see internal/collector.
//
// A Registry never holds a strong reference to a target or a handle. Targets
// are reachable from a handle only through a weak.Pointer, and the registry
// stores identity tokens plus the handle's state cell.
package weakref
