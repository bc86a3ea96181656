// Package collector connects the weak reference registry to the Go runtime's
// garbage collector.
//
// Ownership boundary:
// - identity tokens for targets and handles
// - cleanup registration (runtime.AddCleanup)
// - the pending-finalization queue and its safepoint drain
//
// Cleanups run on a runtime goroutine at arbitrary times. They only append to
// the queue; the registry is mutated solely by Drain, Collect and Run, which
// are the safepoints of this host.
package collector
