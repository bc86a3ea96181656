package collector

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/danmuck/weakreg/internal/testutil/testlog"
	"github.com/danmuck/weakreg/internal/weakref"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

type payload struct {
	name string
	buf  [64]byte
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	c      *Collector
	// pendingSeen records HandlePending for each handle at delivery time.
	pendingSeen map[identity.ID]bool
}

func (s *recordingSink) OnTargetFinalized(id identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "target:"+id.String())
}

func (s *recordingSink) OnHandleFinalized(id identity.ID) {
	pending := s.c.HandlePending(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "handle:"+id.String())
	if s.pendingSeen == nil {
		s.pendingSeen = make(map[identity.ID]bool)
	}
	s.pendingSeen[id] = pending
}

func newWired(t *testing.T) (*Collector, *weakref.Registry) {
	t.Helper()
	c := NewWithConfig(Config{DrainInterval: 5 * time.Millisecond, CollectTimeout: 500 * time.Millisecond})
	reg := weakref.New(c)
	c.Attach(reg)
	return c, reg
}

// collectUntil forces collections until cond holds or the deadline passes.
func collectUntil(t *testing.T, c *Collector, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		_, _ = c.Collect(context.Background())
	}
}

func TestFinalizableRules(t *testing.T) {
	testlog.Start(t)
	c := New()
	var nilPtr *payload
	cases := []struct {
		name   string
		target any
		want   bool
	}{
		{name: "pointer", target: &payload{}, want: true},
		{name: "nil interface", target: nil, want: false},
		{name: "nil pointer", target: nilPtr, want: false},
		{name: "immediate int", target: 5, want: false},
		{name: "string value", target: "x", want: false},
		{name: "zero-size", target: &struct{}{}, want: false},
	}
	for _, tc := range cases {
		if got := c.Finalizable(tc.target); got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestTrackTargetIdentityIsStable(t *testing.T) {
	testlog.Start(t)
	c := New()
	a := &payload{name: "a"}
	b := &payload{name: "b"}

	if _, ok := c.LookupTarget(a); ok {
		t.Fatalf("lookup must not assign identities")
	}
	idA := c.TrackTarget(a)
	if again := c.TrackTarget(a); again != idA {
		t.Fatalf("identity changed: %v then %v", idA, again)
	}
	idB := c.TrackTarget(b)
	if idA == idB {
		t.Fatalf("distinct targets share identity %v", idA)
	}
	if got, ok := c.LookupTarget(a); !ok || got != idA {
		t.Fatalf("lookup: got=(%v,%v) want=%v", got, ok, idA)
	}
	if _, ok := c.LookupTarget(42); ok {
		t.Fatalf("lookup of an immediate must fail")
	}
	h := c.TrackHandle(&payload{name: "h"})
	if h == idA || h == idB {
		t.Fatalf("handle and target identities overlap")
	}
	if c.Tracked() != 2 {
		t.Fatalf("tracked: got=%d want=2", c.Tracked())
	}
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestDrainDeliversInQueueOrder(t *testing.T) {
	testlog.Start(t)
	c := New()
	sink := &recordingSink{c: c}

	c.handleCollected(7)
	c.targetCollected(3)
	c.handleCollected(8)
	if !c.HandlePending(7) || !c.HandlePending(8) {
		t.Fatalf("handles must be pending before the safepoint")
	}
	if c.Drain() != 0 {
		t.Fatalf("drain without sink must deliver nothing")
	}
	if c.Pending() != 3 {
		t.Fatalf("queue must survive a sinkless drain: %d", c.Pending())
	}

	c.Attach(sink)
	if n := c.Drain(); n != 3 {
		t.Fatalf("delivered: got=%d want=3", n)
	}
	want := []string{"handle:obj#7", "target:obj#3", "handle:obj#8"}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Fatalf("delivery order (-want +got):\n%s", diff)
	}
	if !sink.pendingSeen[7] || !sink.pendingSeen[8] {
		t.Fatalf("handle must read as pending while its own notification is delivered: %v", sink.pendingSeen)
	}
	if c.HandlePending(7) || c.HandlePending(8) {
		t.Fatalf("pending flags must clear after delivery")
	}
	if c.Pending() != 0 || c.Drain() != 0 {
		t.Fatalf("second drain must be empty")
	}
}

func queueWaitSamples(t *testing.T) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "weakreg_collector_queue_wait_seconds" {
			continue
		}
		var total uint64
		for _, m := range mf.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
		return total
	}
	return 0
}

func TestDrainObservesQueueWait(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Attach(&recordingSink{c: c})

	c.handleCollected(21)
	c.targetCollected(22)
	before := queueWaitSamples(t)
	time.Sleep(2 * time.Millisecond)
	if n := c.Drain(); n != 2 {
		t.Fatalf("delivered: got=%d want=2", n)
	}
	if got := queueWaitSamples(t); got < before+2 {
		t.Fatalf("queue wait samples: got=%d want>=%d", got, before+2)
	}
}

type outer struct {
	first payload
	later payload
}

func TestFieldTargetsHaveOwnIdentity(t *testing.T) {
	testlog.Start(t)
	c, reg := newWired(t)
	o := &outer{}

	whole := weakref.NewHandle[outer](reg)
	first := weakref.NewHandle[payload](reg)
	later := weakref.NewHandle[payload](reg)
	firstAgain := weakref.NewHandle[payload](reg)
	if err := whole.Bind(o); err != nil {
		t.Fatalf("bind whole: %v", err)
	}
	if err := first.Bind(&o.first); err != nil {
		t.Fatalf("bind first: %v", err)
	}
	if err := firstAgain.Bind(&o.first); err != nil {
		t.Fatalf("bind first again: %v", err)
	}
	if err := later.Bind(&o.later); err != nil {
		t.Fatalf("bind later: %v", err)
	}

	idWhole, _ := c.LookupTarget(o)
	idFirst, _ := c.LookupTarget(&o.first)
	idLater, _ := c.LookupTarget(&o.later)
	if idWhole == idFirst || idWhole == idLater || idFirst == idLater {
		t.Fatalf("identities must differ: whole=%v first=%v later=%v", idWhole, idFirst, idLater)
	}
	if n, ok := weakref.Refcount(reg, o); !ok || n != 1 {
		t.Fatalf("refcount(o): got=(%d,%v) want=(1,true)", n, ok)
	}
	if n, ok := weakref.Refcount(reg, &o.first); !ok || n != 2 {
		t.Fatalf("refcount(&o.first): got=(%d,%v) want=(2,true)", n, ok)
	}
	if n, ok := weakref.Refcount(reg, &o.later); !ok || n != 1 {
		t.Fatalf("refcount(&o.later): got=(%d,%v) want=(1,true)", n, ok)
	}
	if c.Tracked() != 3 {
		t.Fatalf("tracked: got=%d want=3", c.Tracked())
	}
	runtime.KeepAlive(o)
	runtime.KeepAlive([]any{whole, first, later, firstAgain})
}

func TestCollectRequiresSink(t *testing.T) {
	testlog.Start(t)
	c := New()
	if _, err := c.Collect(context.Background()); !errors.Is(err, ErrNoSink) {
		t.Fatalf("expected ErrNoSink, got %v", err)
	}
}

func bindDropped(t *testing.T, reg *weakref.Registry, c *Collector, n int) ([]*weakref.Handle[payload], identity.ID) {
	t.Helper()
	target := &payload{name: "short-lived"}
	handles := make([]*weakref.Handle[payload], n)
	for i := range handles {
		handles[i] = weakref.NewHandle[payload](reg)
		if err := handles[i].Bind(target); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
	id, ok := c.LookupTarget(target)
	if !ok {
		t.Fatalf("bound target has no identity")
	}
	return handles, id
}

func TestCollectedTargetMarksHandlesGone(t *testing.T) {
	testlog.Start(t)
	c, reg := newWired(t)
	handles, targetID := bindDropped(t, reg, c, 3)
	if n, ok := reg.RefcountID(targetID); !ok || n != 3 {
		t.Fatalf("refcount: got=(%d,%v) want=(3,true)", n, ok)
	}

	collectUntil(t, c, "target finalization", func() bool {
		_, ok := reg.RefcountID(targetID)
		return !ok
	})

	for i, h := range handles {
		if _, err := h.Get(); !errors.Is(err, weakref.ErrFinalized) {
			t.Fatalf("handle %d: expected ErrFinalized, got %v", i, err)
		}
		if h.State() != weakref.Gone {
			t.Fatalf("handle %d state: %s", i, h.State())
		}
	}
	if err := reg.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func dropHandles(t *testing.T, reg *weakref.Registry, target *payload, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := weakref.NewHandle[payload](reg).Bind(target); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
}

func TestCollectedHandlesReleaseTargetEntry(t *testing.T) {
	testlog.Start(t)
	c, reg := newWired(t)
	target := &payload{name: "long-lived"}
	dropHandles(t, reg, target, 4)
	if n, ok := weakref.Refcount(reg, target); !ok || n != 4 {
		t.Fatalf("refcount: got=(%d,%v) want=(4,true)", n, ok)
	}

	collectUntil(t, c, "handle finalization", func() bool {
		_, ok := weakref.Refcount(reg, target)
		return !ok
	})

	// The target itself was never finalized; a new handle still works.
	h := weakref.NewHandle[payload](reg)
	if err := h.Bind(target); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if got, err := h.Get(); err != nil || got != target {
		t.Fatalf("get: got=(%p,%v)", got, err)
	}
	if err := reg.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
	runtime.KeepAlive(target)
}

func createPairs(t *testing.T, reg *weakref.Registry, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := weakref.NewHandle[payload](reg).Bind(&payload{name: "pair"}); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
}

func TestPairsCollectedInOneCycleConverge(t *testing.T) {
	testlog.Start(t)
	c, reg := newWired(t)
	createPairs(t, reg, 200)
	if st := reg.Stats(); st.Targets != 200 || st.Handles != 200 {
		t.Fatalf("unexpected stats after binds: %+v", st)
	}

	collectUntil(t, c, "all pairs finalized", func() bool {
		st := reg.Stats()
		return st.Targets == 0 && st.Handles == 0
	})
	if err := reg.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	testlog.Start(t)
	c := NewWithConfig(Config{DrainInterval: 2 * time.Millisecond})
	sink := &recordingSink{c: c}
	c.Attach(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.targetCollected(11)
	c.handleCollected(12)
	deadline := time.Now().Add(5 * time.Second)
	for c.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("run loop never drained")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if diff := cmp.Diff([]string{"target:obj#11", "handle:obj#12"}, sink.events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}
