package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/pool"
)

type fakeResource struct {
	id      int64
	healthy bool
}

type fakeFactory struct {
	created   atomic.Int64
	destroyed atomic.Int64
	mu        sync.Mutex
	resources []*fakeResource
}

func (f *fakeFactory) factory() pool.Factory[*fakeResource] {
	return pool.Factory[*fakeResource]{
		Create: func(ctx context.Context, key string) (*fakeResource, error) {
			r := &fakeResource{id: f.created.Add(1), healthy: true}
			f.mu.Lock()
			f.resources = append(f.resources, r)
			f.mu.Unlock()
			return r, nil
		},
		Test:    func(r *fakeResource) bool { return r.healthy },
		Destroy: func(r *fakeResource) { f.destroyed.Add(1) },
	}
}

func newPool(t *testing.T, cfg pool.Config, f *fakeFactory) *pool.Pool[*fakeResource] {
	t.Helper()
	p := pool.New(cfg, f.factory(), logger.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestAcquireReuse(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(t, pool.Config{Max: 2}, f)

	lease, err := p.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := lease.Resource.id
	lease.Release()

	lease, err = p.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.Resource.id != first {
		t.Fatalf("expected reuse of resource %d, got %d", first, lease.Resource.id)
	}
	lease.Release()

	if f.created.Load() != 1 {
		t.Fatalf("expected one creation, got %d", f.created.Load())
	}
}

func TestMaxBound(t *testing.T) {
	const max = 3
	const callers = 20

	f := &fakeFactory{}
	p := newPool(t, pool.Config{Max: max, AcquireTimeout: 5 * time.Second}, f)

	var inUse atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background(), "k")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inUse.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inUse.Add(-1)
			lease.Release()
		}()
	}
	wg.Wait()

	if peak.Load() > max {
		t.Fatalf("pool exceeded max: %d live at once", peak.Load())
	}
	if f.created.Load() > max {
		t.Fatalf("pool created %d resources for max %d", f.created.Load(), max)
	}
}

func TestAcquireTimeoutAtCapacity(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(t, pool.Config{Max: 1, AcquireTimeout: 50 * time.Millisecond}, f)

	lease, err := p.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lease.Release()

	_, err = p.Acquire(context.Background(), "k")
	if !errors.Is(err, errors.KindTimeout) {
		t.Fatalf("expected timeout kind, got %v", err)
	}
}

func TestTestOnBorrowEvictsUnhealthy(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(t, pool.Config{Max: 2, TestOnBorrow: true}, f)

	lease, _ := p.Acquire(context.Background(), "k")
	lease.Resource.healthy = false
	lease.Release()

	lease, err := p.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lease.Release()

	if !lease.Resource.healthy {
		t.Fatal("borrowed an unhealthy resource")
	}
	if f.destroyed.Load() != 1 {
		t.Fatalf("expected one destruction, got %d", f.destroyed.Load())
	}
}

func TestDiscardDestroys(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(t, pool.Config{Max: 1}, f)

	lease, _ := p.Acquire(context.Background(), "k")
	lease.Discard()

	if f.destroyed.Load() != 1 {
		t.Fatalf("expected destruction on discard, got %d", f.destroyed.Load())
	}

	// Capacity freed: a fresh acquire creates a new resource.
	lease, err := p.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lease.Release()
}

func TestShutdownDestroysEverythingOnce(t *testing.T) {
	f := &fakeFactory{}
	p := pool.New(pool.Config{Max: 4}, f.factory(), logger.Nop())

	leases := make([]*pool.Lease[*fakeResource], 0, 3)
	for i := 0; i < 3; i++ {
		lease, err := p.Acquire(context.Background(), "k")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		leases = append(leases, lease)
	}
	leases[0].Release()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- p.Shutdown(ctx)
	}()

	// Borrowed resources come home while shutdown drains.
	time.Sleep(20 * time.Millisecond)
	leases[1].Release()
	leases[2].Release()

	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if f.destroyed.Load() != f.created.Load() {
		t.Fatalf("created %d but destroyed %d", f.created.Load(), f.destroyed.Load())
	}

	if _, err := p.Acquire(context.Background(), "k"); err == nil {
		t.Fatal("acquire after shutdown must fail")
	}
}

func TestWarmCreatesMin(t *testing.T) {
	f := &fakeFactory{}
	p := newPool(t, pool.Config{Min: 2, Max: 4}, f)

	if err := p.Warm(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	live, idle := p.Stats("k")
	if live != 2 || idle != 2 {
		t.Fatalf("expected 2 live / 2 idle, got %d / %d", live, idle)
	}
}
