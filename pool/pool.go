package pool

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
)

// Factory supplies the lifecycle operations for a pooled resource type.
type Factory[R any] struct {
	// Create builds a new resource for a key.
	Create func(ctx context.Context, key string) (R, error)
	// Test reports whether a resource is still healthy.
	Test func(R) bool
	// Destroy releases a resource. Must be safe to call exactly once.
	Destroy func(R)
}

// Config configures pool behavior. All limits are per key.
type Config struct {
	// Min is the number of resources the pool keeps alive per key.
	Min int `yaml:"min,omitempty" mapstructure:"min"`
	// Max bounds live resources per key.
	Max int `yaml:"max,omitempty" mapstructure:"max"`
	// IdleTimeout evicts resources unused for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty" mapstructure:"idle_timeout"`
	// AcquireTimeout bounds how long Acquire waits when at Max.
	AcquireTimeout time.Duration `yaml:"acquire_timeout,omitempty" mapstructure:"acquire_timeout"`
	// TestOnBorrow tests a resource before handing it out.
	TestOnBorrow bool `yaml:"test_on_borrow,omitempty" mapstructure:"test_on_borrow"`
	// TestOnReturn tests a resource when it comes back.
	TestOnReturn bool `yaml:"test_on_return,omitempty" mapstructure:"test_on_return"`
	// TestIdleInterval is the reaper period.
	TestIdleInterval time.Duration `yaml:"test_idle_interval,omitempty" mapstructure:"test_idle_interval"`
}

// ApplyDefaults applies default values.
func (c *Config) ApplyDefaults() {
	if c.Max <= 0 {
		c.Max = 4
	}
	if c.Min < 0 {
		c.Min = 0
	}
	if c.Min > c.Max {
		c.Min = c.Max
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.TestIdleInterval <= 0 {
		c.TestIdleInterval = 30 * time.Second
	}
}

// entry tracks one pooled resource.
type entry[R any] struct {
	resource R
	key      string
	lastUsed time.Time
}

// waiter is a parked Acquire call. Handoff is direct: a released entry is
// delivered to the oldest waiter without touching the idle list.
type waiter[R any] struct {
	ch chan *entry[R]
}

// bucket holds per-key state.
type bucket[R any] struct {
	idle    []*entry[R]
	waiters []*waiter[R]
	live    int
}

// Pool is a generic keyed resource pool.
type Pool[R any] struct {
	cfg     Config
	factory Factory[R]
	log     *logger.Logger

	mu      sync.Mutex
	buckets map[string]*bucket[R]
	closed  bool
	inUse   int

	reaperStop chan struct{}
	reaperDone chan struct{}
	drained    *sync.Cond
}

// New creates a pool and starts its idle reaper.
func New[R any](cfg Config, factory Factory[R], log *logger.Logger) *Pool[R] {
	cfg.ApplyDefaults()
	p := &Pool[R]{
		cfg:        cfg,
		factory:    factory,
		log:        log.WithComponent("pool"),
		buckets:    make(map[string]*bucket[R]),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	p.drained = sync.NewCond(&p.mu)
	go p.reap()
	return p
}

// Lease is a borrowed resource. The holder has exclusive use until Release
// or Discard; it must not destroy the resource itself.
type Lease[R any] struct {
	Resource R
	pool     *Pool[R]
	entry    *entry[R]
	done     bool
}

// Release returns the resource to the pool.
func (l *Lease[R]) Release() {
	if l.done {
		return
	}
	l.done = true
	l.pool.release(l.entry, false)
}

// Discard removes the resource from the pool and destroys it. Use after a
// transport-level failure mid-operation.
func (l *Lease[R]) Discard() {
	if l.done {
		return
	}
	l.done = true
	l.pool.release(l.entry, true)
}

// Acquire borrows a healthy resource for key, creating one when under Max.
// At Max it waits FIFO behind earlier callers up to AcquireTimeout.
func (p *Pool[R]) Acquire(ctx context.Context, key string) (*Lease[R], error) {
	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.Cancelled("pool acquire").WithDetail("pool_key", key)
		}
		b := p.bucket(key)

		// Prefer the most recently used idle resource; older ones age out.
		if n := len(b.idle); n > 0 {
			e := b.idle[n-1]
			b.idle = b.idle[:n-1]
			p.inUse++
			p.mu.Unlock()

			if p.cfg.TestOnBorrow && p.factory.Test != nil && !p.factory.Test(e.resource) {
				p.destroyEntry(e)
				continue
			}
			return &Lease[R]{Resource: e.resource, pool: p, entry: e}, nil
		}

		if b.live < p.cfg.Max {
			b.live++
			p.inUse++
			p.mu.Unlock()

			resource, err := p.factory.Create(ctx, key)
			if err != nil {
				p.mu.Lock()
				p.bucket(key).live--
				p.inUse--
				p.drained.Broadcast()
				p.mu.Unlock()
				return nil, err
			}
			e := &entry[R]{resource: resource, key: key, lastUsed: time.Now()}
			return &Lease[R]{Resource: resource, pool: p, entry: e}, nil
		}

		// At capacity: park behind earlier waiters.
		w := &waiter[R]{ch: make(chan *entry[R], 1)}
		b.waiters = append(b.waiters, w)
		p.mu.Unlock()

		select {
		case e := <-w.ch:
			if e == nil {
				return nil, errors.Cancelled("pool acquire").WithDetail("pool_key", key)
			}
			if p.cfg.TestOnBorrow && p.factory.Test != nil && !p.factory.Test(e.resource) {
				p.destroyEntry(e)
				continue
			}
			return &Lease[R]{Resource: e.resource, pool: p, entry: e}, nil
		case <-ctx.Done():
			p.abandonWaiter(key, w)
			return nil, errors.Cancelled("pool acquire").WithCause(ctx.Err())
		case <-deadline.C:
			p.abandonWaiter(key, w)
			return nil, errors.Timeout("pool acquire").WithDetail("pool_key", key)
		}
	}
}

// Warm creates resources up to Min for the key.
func (p *Pool[R]) Warm(ctx context.Context, key string) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		b := p.bucket(key)
		if b.live >= p.cfg.Min {
			p.mu.Unlock()
			return nil
		}
		b.live++
		p.mu.Unlock()

		resource, err := p.factory.Create(ctx, key)
		if err != nil {
			p.mu.Lock()
			p.bucket(key).live--
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
		p.bucket(key).idle = append(p.bucket(key).idle, &entry[R]{
			resource: resource, key: key, lastUsed: time.Now(),
		})
		p.mu.Unlock()
	}
}

// Stats reports live and idle counts for a key.
func (p *Pool[R]) Stats(key string) (live, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		return 0, 0
	}
	return b.live, len(b.idle)
}

// Shutdown drains the pool: pending waiters are rejected, idle resources
// destroyed, and in-use resources awaited until ctx expires.
func (p *Pool[R]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var toDestroy []*entry[R]
	for _, b := range p.buckets {
		for _, w := range b.waiters {
			w.ch <- nil
		}
		b.waiters = nil
		toDestroy = append(toDestroy, b.idle...)
		b.idle = nil
	}
	p.mu.Unlock()

	close(p.reaperStop)
	for _, e := range toDestroy {
		p.destroyIdle(e)
	}
	<-p.reaperDone

	// Wait for borrowed resources to come home; they are destroyed on
	// release once closed.
	waitDone := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.inUse > 0 {
			p.drained.Wait()
		}
		p.mu.Unlock()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return errors.Timeout("pool shutdown").WithCause(ctx.Err())
	}
}

// release returns an entry to the pool or destroys it.
func (p *Pool[R]) release(e *entry[R], discard bool) {
	if !discard && p.cfg.TestOnReturn && p.factory.Test != nil && !p.factory.Test(e.resource) {
		discard = true
	}

	p.mu.Lock()
	if p.closed || discard {
		p.mu.Unlock()
		p.destroyEntry(e)
		return
	}

	b := p.bucket(e.key)
	e.lastUsed = time.Now()

	// Direct handoff to the oldest waiter keeps FIFO ordering.
	if len(b.waiters) > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		w.ch <- e
		p.mu.Unlock()
		return
	}

	b.idle = append(b.idle, e)
	p.inUse--
	p.drained.Broadcast()
	p.mu.Unlock()
}

// destroyEntry destroys a borrowed entry and updates counters.
func (p *Pool[R]) destroyEntry(e *entry[R]) {
	p.factory.Destroy(e.resource)
	p.mu.Lock()
	if b, ok := p.buckets[e.key]; ok {
		b.live--
	}
	p.inUse--
	p.drained.Broadcast()
	p.mu.Unlock()
}

// destroyIdle destroys an idle (not borrowed) entry.
func (p *Pool[R]) destroyIdle(e *entry[R]) {
	p.factory.Destroy(e.resource)
	p.mu.Lock()
	if b, ok := p.buckets[e.key]; ok {
		b.live--
	}
	p.mu.Unlock()
}

// abandonWaiter removes w from its queue; if a handoff raced in, the entry
// is put back.
func (p *Pool[R]) abandonWaiter(key string, w *waiter[R]) {
	p.mu.Lock()
	b := p.bucket(key)
	for i, candidate := range b.waiters {
		if candidate == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// A handoff raced in: the entry is still accounted as borrowed, so a
	// plain release puts it back.
	select {
	case e := <-w.ch:
		if e != nil {
			p.release(e, false)
		}
	default:
	}
}

// reap destroys idle resources past IdleTimeout or failing the liveness
// test, keeping Min per key alive.
func (p *Pool[R]) reap() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(p.cfg.TestIdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
		}

		var expired []*entry[R]
		cutoff := time.Now().Add(-p.cfg.IdleTimeout)

		p.mu.Lock()
		for _, b := range p.buckets {
			kept := b.idle[:0]
			for _, e := range b.idle {
				if b.live-countOf(expired, e.key) > p.cfg.Min && e.lastUsed.Before(cutoff) {
					expired = append(expired, e)
				} else {
					kept = append(kept, e)
				}
			}
			b.idle = kept
		}
		p.mu.Unlock()

		for _, e := range expired {
			p.log.Debug("evicting idle resource", logger.Fields(logger.FieldPoolKey, e.key))
			p.destroyIdle(e)
		}

		// Liveness pass over what remains. Testing may do transport I/O,
		// so the idle entries are stolen and tested outside the lock.
		if p.factory.Test == nil {
			continue
		}
		p.mu.Lock()
		var candidates []*entry[R]
		for _, b := range p.buckets {
			candidates = append(candidates, b.idle...)
			b.idle = nil
		}
		p.mu.Unlock()

		for _, e := range candidates {
			if p.factory.Test(e.resource) {
				p.mu.Lock()
				if p.closed {
					p.mu.Unlock()
					p.destroyIdle(e)
					continue
				}
				p.bucket(e.key).idle = append(p.bucket(e.key).idle, e)
				p.mu.Unlock()
				continue
			}
			p.log.Debug("evicting unhealthy resource", logger.Fields(logger.FieldPoolKey, e.key))
			p.destroyIdle(e)
		}
	}
}

func countOf[R any](entries []*entry[R], key string) int {
	n := 0
	for _, e := range entries {
		if e.key == key {
			n++
		}
	}
	return n
}

// bucket returns the bucket for key, creating it on first use.
// Callers hold p.mu.
func (p *Pool[R]) bucket(key string) *bucket[R] {
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket[R]{}
		p.buckets[key] = b
	}
	return b
}
