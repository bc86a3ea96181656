// Package index owns the forward/reverse identity index pair behind the weak
// reference registry.
//
// Ownership boundary:
// - forward index: target id -> set of observing handle ids
// - reverse index: handle id -> observed target id
// - mutual-consistency checks over the pair
//
// The pair stores identity tokens only. It is not safe for concurrent use;
// the owning registry serializes access.
package index
