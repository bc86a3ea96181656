package collector

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/danmuck/weakreg/internal/logging"
	"github.com/danmuck/weakreg/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidDrainInterval = errors.New("collector: invalid drain interval")
	ErrNoSink               = errors.New("collector: no sink attached")
)

// Sink receives finalization notifications at safepoints.
type Sink interface {
	OnTargetFinalized(id identity.ID)
	OnHandleFinalized(id identity.ID)
}

// Kind tells which finalizer produced a notification.
type Kind uint8

const (
	KindTarget Kind = iota + 1
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindTarget:
		return "target"
	case KindHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// Notification is one queued finalization.
type Notification struct {
	Kind     Kind
	ID       identity.ID
	QueuedAt time.Time
}

// Config configures safepoint scheduling.
type Config struct {
	DrainInterval  time.Duration
	CollectTimeout time.Duration
	Logger         *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		DrainInterval:  100 * time.Millisecond,
		CollectTimeout: 2 * time.Second,
	}
}

// Collector is the Go runtime host for a weakref.Registry.
type Collector struct {
	cfg Config
	log zerolog.Logger
	ids identity.Allocator

	mu      sync.Mutex
	sink    Sink
	targets map[targetKey]identity.ID
	keys    map[identity.ID]targetKey
	queue   []Notification
	// pending holds handles whose cleanup ran but whose notification has
	// not been delivered yet.
	pending map[identity.ID]struct{}

	drainMu sync.Mutex
}

// New creates a collector with default config.
func New() *Collector {
	return NewWithConfig(DefaultConfig())
}

func NewWithConfig(cfg Config) *Collector {
	defaults := DefaultConfig()
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = defaults.DrainInterval
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = defaults.CollectTimeout
	}
	logger := logging.For("collector")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Collector{
		cfg:     cfg,
		log:     logger,
		targets: make(map[targetKey]identity.ID),
		keys:    make(map[identity.ID]targetKey),
		pending: make(map[identity.ID]struct{}),
	}
}

// Attach sets the sink notifications are delivered to.
func (c *Collector) Attach(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Finalizable reports whether target is a non-nil pointer to a value the
// runtime allocates individually. Zero-size values share one address and
// are never reclaimed.
func (c *Collector) Finalizable(target any) bool {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	return v.Type().Elem().Size() > 0
}

// TrackTarget returns target's identity. The first call for an object
// registers the cleanup that will queue its finalization.
func (c *Collector) TrackTarget(target any) identity.ID {
	base := basePointer(target)
	key := keyOf(target, base)

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.targets[key]; ok {
		return id
	}
	id := c.ids.Next()
	c.targets[key] = id
	c.keys[id] = key
	runtime.AddCleanup(base, c.targetCollected, id)
	c.log.Trace().Stringer("target", id).Msg("target tracked")
	return id
}

// LookupTarget returns target's identity without tracking it.
func (c *Collector) LookupTarget(target any) (identity.ID, bool) {
	if !c.Finalizable(target) {
		return identity.None, false
	}
	key := keyOf(target, basePointer(target))
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.targets[key]
	return id, ok
}

// TrackHandle assigns an identity to handle and registers its cleanup.
func (c *Collector) TrackHandle(handle any) identity.ID {
	id := c.ids.Next()
	runtime.AddCleanup(basePointer(handle), c.handleCollected, id)
	return id
}

// HandlePending reports whether id's cleanup ran and its notification is
// still waiting for a safepoint.
func (c *Collector) HandlePending(id identity.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Pending returns the queue depth.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Tracked returns the number of targets with a live identity.
func (c *Collector) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

func (c *Collector) targetCollected(id identity.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[id]; ok {
		delete(c.targets, key)
		delete(c.keys, id)
	}
	c.enqueueLocked(KindTarget, id)
}

func (c *Collector) handleCollected(id identity.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = struct{}{}
	c.enqueueLocked(KindHandle, id)
}

func (c *Collector) enqueueLocked(kind Kind, id identity.ID) {
	c.queue = append(c.queue, Notification{Kind: kind, ID: id, QueuedAt: time.Now()})
	observability.SetCollectorPending(len(c.queue))
}

// Drain is the safepoint: it delivers every queued notification to the sink
// in queue order and returns how many were delivered. With no sink attached
// the queue is left untouched.
func (c *Collector) Drain() int {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.mu.Lock()
	sink := c.sink
	if sink == nil || len(c.queue) == 0 {
		c.mu.Unlock()
		return 0
	}
	batch := c.queue
	c.queue = nil
	observability.SetCollectorPending(0)
	c.mu.Unlock()

	now := time.Now()
	var oldest time.Duration
	for _, n := range batch {
		wait := now.Sub(n.QueuedAt)
		observability.RecordQueueWait(wait)
		oldest = max(oldest, wait)
		switch n.Kind {
		case KindTarget:
			sink.OnTargetFinalized(n.ID)
		case KindHandle:
			sink.OnHandleFinalized(n.ID)
			c.mu.Lock()
			delete(c.pending, n.ID)
			c.mu.Unlock()
		}
	}

	observability.RecordDrain(len(batch))
	c.log.Debug().
		Int("delivered", len(batch)).
		Dur("oldest_wait", oldest).
		Msg("safepoint drained")
	return len(batch)
}

// Collect forces a collection cycle, waits (bounded by ctx and the
// configured timeout) for the cycle's cleanups to start running, then
// drains. Cleanup scheduling is up to the runtime, so an object that became
// unreachable just before Collect may still be delivered by a later
// safepoint.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	c.mu.Lock()
	attached := c.sink != nil
	c.mu.Unlock()
	if !attached {
		return 0, ErrNoSink
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CollectTimeout)
	defer cancel()

	start := time.Now()
	var waitErr error
	for round := 0; round < 2 && waitErr == nil; round++ {
		done := armSentinel()
		runtime.GC()
		select {
		case <-done:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}
	runtime.Gosched()
	delivered := c.Drain()
	observability.RecordForcedCycle(time.Since(start))
	c.log.Info().
		Int("delivered", delivered).
		Dur("duration", time.Since(start)).
		Err(waitErr).
		Msg("forced collection")
	return delivered, waitErr
}

// Run drains at every DrainInterval until ctx is cancelled, then drains once
// more and returns nil.
func (c *Collector) Run(ctx context.Context) error {
	if c.cfg.DrainInterval <= 0 {
		return ErrInvalidDrainInterval
	}
	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", c.cfg.DrainInterval).Msg("safepoint loop started")
	for {
		select {
		case <-ctx.Done():
			c.Drain()
			c.log.Info().Msg("safepoint loop stopped")
			return nil
		case <-ticker.C:
			c.Drain()
		}
	}
}

type sentinel struct {
	_ *byte
	_ [8]byte
}

// armSentinel allocates an unreachable object whose cleanup closes the
// returned channel.
func armSentinel() <-chan struct{} {
	done := make(chan struct{})
	s := &sentinel{}
	runtime.AddCleanup(s, func(ch chan struct{}) { close(ch) }, done)
	return done
}

// targetKey identifies a target by its pointer type and address. A struct
// and its first field share an address but are distinct targets.
type targetKey struct {
	typ reflect.Type
	ptr weak.Pointer[byte]
}

func keyOf(obj any, base *byte) targetKey {
	return targetKey{typ: reflect.TypeOf(obj), ptr: weak.Make(base)}
}

func basePointer(obj any) *byte {
	return (*byte)(reflect.ValueOf(obj).UnsafePointer())
}
