package pool

import (
	"context"
	"errors"
	"testing"
)

type fakeAllocatorStore struct {
	pool    []string
	counter int64
}

func (f *fakeAllocatorStore) SPop(ctx context.Context, key string) (string, bool, error) {
	if len(f.pool) == 0 {
		return "", false, nil
	}
	id := f.pool[len(f.pool)-1]
	f.pool = f.pool[:len(f.pool)-1]
	return id, true, nil
}

func (f *fakeAllocatorStore) SAdd(ctx context.Context, key string, members ...interface{}) error {
	for _, m := range members {
		f.pool = append(f.pool, m.(string))
	}
	return nil
}

func (f *fakeAllocatorStore) Incr(ctx context.Context, key string) (int64, error) {
	f.counter++
	return f.counter, nil
}

func TestAllocator_AcquireMintsNewIDs(t *testing.T) {
	a := NewAllocator(&fakeAllocatorStore{})
	first, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first == second {
		t.Errorf("expected distinct ids, got %q twice", first)
	}
}

func TestAllocator_ReleaseThenAcquireReuses(t *testing.T) {
	store := &fakeAllocatorStore{}
	a := NewAllocator(store)

	id, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := a.Release(context.Background(), id); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	reused, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if reused != id {
		t.Errorf("expected Acquire to reuse released id %q, got %q", id, reused)
	}
}

func TestAllocator_CeilingReached(t *testing.T) {
	store := &fakeAllocatorStore{counter: MaxNodeIDs}
	a := NewAllocator(store)
	_, err := a.Acquire(context.Background())
	if !errors.Is(err, ErrNodeIDCeiling) {
		t.Fatalf("Acquire() error = %v, want ErrNodeIDCeiling", err)
	}
}
