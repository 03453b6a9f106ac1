package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheHitMissExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[int](Options{TTL: time.Minute}, Hooks{})
	c.now = func() time.Time { return now }

	calls := 0
	load := func(context.Context, string) (int, error) {
		calls++
		return calls, nil
	}
	ctx := context.Background()

	if v, _, err := c.Get(ctx, "price", load); err != nil || v != 1 {
		t.Fatalf("first Get = %d, %v", v, err)
	}
	if v, _, _ := c.Get(ctx, "price", load); v != 1 {
		t.Errorf("cached Get = %d, want 1", v)
	}

	now = now.Add(2 * time.Minute)
	if v, _, _ := c.Get(ctx, "price", load); v != 2 {
		t.Errorf("Get after expiry = %d, want 2", v)
	}
	if calls != 2 {
		t.Errorf("loader calls = %d, want 2", calls)
	}
}

func TestCacheServesStaleOnError(t *testing.T) {
	now := time.Unix(1000, 0)
	var staleKeys []string
	c := New[string](Options{TTL: time.Minute, ServeStaleOnError: true}, Hooks{
		OnStale: func(key string, _ error) { staleKeys = append(staleKeys, key) },
	})
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set("treasury", "old")
	now = now.Add(time.Hour)

	v, stale, err := c.Get(ctx, "treasury", func(context.Context, string) (string, error) {
		return "", errors.New("upstream down")
	})
	if err != nil || !stale || v != "old" {
		t.Errorf("Get = %q stale=%v err=%v, want old value", v, stale, err)
	}
	if len(staleKeys) != 1 {
		t.Errorf("OnStale calls = %d, want 1", len(staleKeys))
	}
}

func TestCacheErrorWithoutFallback(t *testing.T) {
	c := New[string](Options{TTL: time.Minute}, Hooks{})
	boom := errors.New("boom")

	_, _, err := c.Get(context.Background(), "k", func(context.Context, string) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed load was stored")
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	c := New[int](Options{TTL: time.Minute}, Hooks{})
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context, string) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, _, err := c.Get(context.Background(), "k", load); err != nil || v != 7 {
				t.Errorf("Get = %d, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("loader calls = %d, want 1", n)
	}
}

func TestCacheEvictionAndInvalidate(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxEntries: 2}, Hooks{})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, err := c.Peek("a"); !errors.Is(err, ErrNoValue) {
		t.Error("oldest entry not evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Invalidate("b")
	if v, err := c.Peek("b"); err != nil || v != 2 {
		t.Errorf("Peek after Invalidate = %d, %v", v, err)
	}
	v, _, _ := c.Get(context.Background(), "b", func(context.Context, string) (int, error) { return 20, nil })
	if v != 20 {
		t.Errorf("Get after Invalidate = %d, want reload", v)
	}

	c.Delete("b")
	if _, err := c.Peek("b"); !errors.Is(err, ErrNoValue) {
		t.Error("Delete kept entry")
	}
}
