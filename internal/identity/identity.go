// Package identity provides the opaque tokens the registry stores in place of
// object references.
package identity

import (
	"strconv"
	"sync/atomic"
)

// ID is a stable, comparable stand-in for one object. The zero ID names nothing.
type ID uint64

// None is the zero ID.
const None ID = 0

func (id ID) String() string {
	return "obj#" + strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether id was issued by an Allocator.
func (id ID) Valid() bool {
	return id != None
}

// Allocator issues monotonically increasing IDs starting at 1.
type Allocator struct {
	last atomic.Uint64
}

// Next returns a fresh ID. Safe for concurrent use.
func (a *Allocator) Next() ID {
	return ID(a.last.Add(1))
}

// Issued returns how many IDs have been handed out.
func (a *Allocator) Issued() uint64 {
	return a.last.Load()
}

// Parse reads an ID from its decimal or String form.
func Parse(raw string) (ID, bool) {
	if len(raw) > 4 && raw[:4] == "obj#" {
		raw = raw[4:]
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return None, false
	}
	return ID(v), true
}
