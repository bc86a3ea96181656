package index

import (
	"slices"

	"github.com/danmuck/weakreg/internal/identity"
)

// Set is an unordered set of handle ids.
type Set map[identity.ID]struct{}

func (s Set) Add(id identity.ID) {
	s[id] = struct{}{}
}

func (s Set) Remove(id identity.ID) {
	delete(s, id)
}

func (s Set) Has(id identity.ID) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []identity.ID {
	out := make([]identity.ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
