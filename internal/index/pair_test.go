package index

import (
	"errors"
	"testing"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/danmuck/weakreg/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestLinkCreatesBothEntries(t *testing.T) {
	testlog.Start(t)
	p := NewPair()
	if err := p.Link(10, 1); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := p.Link(11, 1); err != nil {
		t.Fatalf("link: %v", err)
	}

	n, ok := p.Count(1)
	if !ok || n != 2 {
		t.Fatalf("count: got=(%d,%v) want=(2,true)", n, ok)
	}
	if target, ok := p.Target(11); !ok || target != 1 {
		t.Fatalf("target: got=(%v,%v)", target, ok)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}

	want := Snapshot{
		Forward: map[identity.ID][]identity.ID{1: {10, 11}},
		Reverse: map[identity.ID]identity.ID{10: 1, 11: 1},
	}
	if diff := cmp.Diff(want, p.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestLinkRejectsDuplicateAndZero(t *testing.T) {
	testlog.Start(t)
	p := NewPair()
	if err := p.Link(10, 1); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := p.Link(10, 2); !errors.Is(err, ErrHandleLinked) {
		t.Fatalf("expected ErrHandleLinked, got %v", err)
	}
	if err := p.Link(identity.None, 2); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := p.Link(12, identity.None); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	fwd, rev := p.Len()
	if fwd != 1 || rev != 1 {
		t.Fatalf("rejected links must not touch state: fwd=%d rev=%d", fwd, rev)
	}
}

func TestUnlinkHandleDropsEmptyForwardEntry(t *testing.T) {
	testlog.Start(t)
	p := NewPair()
	_ = p.Link(10, 1)
	_ = p.Link(11, 1)

	target, emptied, ok := p.UnlinkHandle(10)
	if !ok || target != 1 || emptied {
		t.Fatalf("first unlink: got=(%v,%v,%v)", target, emptied, ok)
	}
	if got := p.Handles(1); len(got) != 1 || got[0] != 11 {
		t.Fatalf("remaining handles: %v", got)
	}

	target, emptied, ok = p.UnlinkHandle(11)
	if !ok || target != 1 || !emptied {
		t.Fatalf("second unlink: got=(%v,%v,%v)", target, emptied, ok)
	}
	if _, ok := p.Count(1); ok {
		t.Fatalf("expected forward entry removed")
	}
	if _, _, ok := p.UnlinkHandle(11); ok {
		t.Fatalf("expected repeated unlink to report absent")
	}
	if err := p.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestDropTargetRemovesReverseEntries(t *testing.T) {
	testlog.Start(t)
	p := NewPair()
	_ = p.Link(12, 2)
	_ = p.Link(10, 1)
	_ = p.Link(11, 1)

	handles, ok := p.DropTarget(1)
	if !ok {
		t.Fatalf("expected drop to find target")
	}
	if diff := cmp.Diff([]identity.ID{10, 11}, handles); diff != "" {
		t.Fatalf("dropped handles (-want +got):\n%s", diff)
	}
	if _, ok := p.DropTarget(1); ok {
		t.Fatalf("expected second drop to be a no-op")
	}

	want := Snapshot{
		Forward: map[identity.ID][]identity.ID{2: {12}},
		Reverse: map[identity.ID]identity.ID{12: 2},
	}
	if diff := cmp.Diff(want, p.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		corrupt func(p *Pair)
	}{
		{name: "empty forward set", corrupt: func(p *Pair) { p.forward[9] = make(Set) }},
		{name: "missing reverse", corrupt: func(p *Pair) { delete(p.reverse, 10) }},
		{name: "reverse mismatch", corrupt: func(p *Pair) { p.reverse[10] = 2 }},
		{name: "orphan reverse", corrupt: func(p *Pair) { p.reverse[99] = 1 }},
	}
	for _, tc := range cases {
		p := NewPair()
		_ = p.Link(10, 1)
		_ = p.Link(11, 1)
		tc.corrupt(p)
		if err := p.Check(); !errors.Is(err, ErrInconsistent) {
			t.Fatalf("%s: expected ErrInconsistent, got %v", tc.name, err)
		}
	}
}

func TestEachHandleOrdered(t *testing.T) {
	testlog.Start(t)
	p := NewPair()
	_ = p.Link(30, 3)
	_ = p.Link(10, 1)
	_ = p.Link(20, 1)

	var got []identity.ID
	p.EachHandle(func(h, _ identity.ID) {
		got = append(got, h)
	})
	if diff := cmp.Diff([]identity.ID{10, 20, 30}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}
