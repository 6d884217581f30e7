package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassOf(t *testing.T) {
	cases := map[string]string{
		"actor/a1":       "actor",
		"settings/class": "settings",
		"plain":          "plain",
	}
	for key, want := range cases {
		if got := ClassOf(key); got != want {
			t.Fatalf("ClassOf(%q)=%q want %q", key, got, want)
		}
	}
}

func TestGetExpiresPerClass(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New(TTLTable{"actor": 5 * time.Second, "settings": time.Minute}).WithClock(clock)

	c.Set("actor/a1", int64(500))
	c.Set("settings/class", "cfg")

	if _, ok := c.Get("actor/a1"); !ok {
		t.Fatalf("expected fresh actor entry")
	}

	now = now.Add(10 * time.Second)
	if _, ok := c.Get("actor/a1"); ok {
		t.Fatalf("actor entry should have expired")
	}
	if _, ok := c.Get("settings/class"); !ok {
		t.Fatalf("settings entry should still be live")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(nil)
	c.Set("goal/g1", int64(100))
	c.Invalidate("goal/g1")
	if _, ok := c.Get("goal/g1"); ok {
		t.Fatalf("expected entry gone after invalidation")
	}
}

func TestGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := New(nil)
	var loads atomic.Int64
	release := make(chan struct{})

	load := func(ctx context.Context) (any, error) {
		loads.Add(1)
		<-release
		return int64(42), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "actor/a1", load)
			if err != nil {
				t.Errorf("load failed: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("expected one shared load, got %d", got)
	}
	for i, v := range results {
		if v != int64(42) {
			t.Fatalf("caller %d got %v", i, v)
		}
	}
}

// A load that started before an invalidation must not re-pin its stale
// value after the invalidation runs.
func TestGetOrLoadRacingInvalidateDoesNotCacheStaleValue(t *testing.T) {
	c := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := c.GetOrLoad(context.Background(), "actor/a1", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return int64(100), nil
		})
		if err != nil {
			t.Errorf("load failed: %v", err)
			return
		}
		// The slow loader still gets its own (pre-commit) value.
		if v != int64(100) {
			t.Errorf("loader got %v", v)
		}
	}()

	<-started
	// A commit lands while the load is in flight.
	c.Invalidate("actor/a1")
	close(release)
	wg.Wait()

	if v, ok := c.Get("actor/a1"); ok {
		t.Fatalf("stale value %v pinned past invalidation", v)
	}
	v, err := c.GetOrLoad(context.Background(), "actor/a1", func(ctx context.Context) (any, error) {
		return int64(250), nil
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if v != int64(250) {
		t.Fatalf("reload got %v, want post-commit 250", v)
	}
}

func TestGetOrLoadErrorIsNotCached(t *testing.T) {
	c := New(nil)
	boom := errors.New("store down")
	calls := 0
	load := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	if _, err := c.GetOrLoad(context.Background(), "actor/a1", load); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	v, err := c.GetOrLoad(context.Background(), "actor/a1", load)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if v != "ok" {
		t.Fatalf("got %v", v)
	}
}
