package weakref

import "github.com/danmuck/weakreg/internal/identity"

// Host is the collector integration a Registry relies on.
//
// TrackTarget and TrackHandle must arrange for the registry's
// OnTargetFinalized / OnHandleFinalized to be delivered exactly once, at a
// safepoint, after the object becomes unreachable. Targets and handles are
// passed as pointers boxed in an any.
type Host interface {
	// Finalizable reports whether target can be observed at all.
	Finalizable(target any) bool
	// TrackTarget returns target's identity, assigning one on first use.
	TrackTarget(target any) identity.ID
	// LookupTarget returns target's identity without assigning one.
	LookupTarget(target any) (identity.ID, bool)
	// TrackHandle assigns an identity to a freshly allocated handle.
	TrackHandle(handle any) identity.ID
	// HandlePending reports whether the handle's own finalization has been
	// observed but not yet delivered to the registry.
	HandlePending(handle identity.ID) bool
}
