package weakref

import "errors"

var (
	// ErrNotFinalizable rejects a bind whose target the collector cannot
	// finalize (nil, non-pointer, or zero-size values).
	ErrNotFinalizable = errors.New("weakref: target cannot be finalized")
	// ErrNestedHandle rejects a bind whose target is itself a weak handle.
	ErrNestedHandle = errors.New("weakref: cannot create a weak handle of a weak handle")
	// ErrAlreadyBound rejects a second bind on the same handle.
	ErrAlreadyBound = errors.New("weakref: handle already bound")
	// ErrUninitialized is returned by Get on a handle that was never bound.
	ErrUninitialized = errors.New("weakref: uninitialized handle")
	// ErrFinalized is returned by Get once the handle's target is gone.
	ErrFinalized = errors.New("weakref: target finalized")
	// ErrInconsistent is returned by Check when the indices disagree.
	ErrInconsistent = errors.New("weakref: inconsistent registry")
)
