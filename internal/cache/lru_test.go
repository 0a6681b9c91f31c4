// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(capacity int, ttl time.Duration) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(capacity, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache_SeenAndMark(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	if c.Seen("a") {
		t.Fatal("unmarked key reported as seen")
	}
	c.Mark("a")
	if !c.Seen("a") {
		t.Fatal("marked key not seen")
	}

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("Stats() = %d, %d, %d", hits, misses, size)
	}
}

func TestLRUCache_IsDuplicate(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	if c.IsDuplicate("k") {
		t.Error("first call should not be a duplicate")
	}
	if !c.IsDuplicate("k") {
		t.Error("second call should be a duplicate")
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Mark("a")
	c.Mark("b")

	clock.Advance(30 * time.Second)
	c.Mark("b") // refresh b only

	clock.Advance(45 * time.Second)
	if c.Seen("a") {
		t.Error("a should have expired")
	}
	if !c.Seen("b") {
		t.Error("b was refreshed and should still be live")
	}

	clock.Advance(time.Hour)
	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(3, time.Minute)
	c.Mark("a")
	c.Mark("b")
	c.Mark("c")

	c.Seen("a")
	c.Mark("d")

	tests := []struct {
		key  string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"c", true},
		{"d", true},
	}
	for _, tt := range tests {
		if got := c.Seen(tt.key); got != tt.want {
			t.Errorf("Seen(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestLRUCache_Forget(t *testing.T) {
	c, _ := newTestCache(3, time.Minute)
	c.Mark("a")
	if !c.Forget("a") {
		t.Error("Forget(a) = false")
	}
	if c.Forget("a") {
		t.Error("second Forget(a) = true")
	}
	if c.Seen("a") {
		t.Error("forgotten key still seen")
	}
}

func TestLRUCache_Defaults(t *testing.T) {
	c := NewLRUCache(0, 0)
	if c.capacity != 10000 || c.ttl != 10*time.Minute {
		t.Errorf("defaults = %d, %v", c.capacity, c.ttl)
	}
}

func TestLRUCache_ConcurrentIsDuplicate(t *testing.T) {
	c := NewLRUCache(1000, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := make(map[string]int)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i)
				if !c.IsDuplicate(key) {
					mu.Lock()
					firsts[key]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for key, n := range firsts {
		if n != 1 {
			t.Errorf("%s accepted %d times", key, n)
		}
	}
	if len(firsts) != 100 {
		t.Errorf("accepted %d distinct keys, want 100", len(firsts))
	}
}
