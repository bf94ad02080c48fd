package pipecache

import (
	"testing"
	"time"
)

func TestPutThenGetReturnsValue(t *testing.T) {
	c := New[string](10, time.Minute)
	c.Put("a", "hello")

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestGetMissesAfterTTL(t *testing.T) {
	c := New[int](10, 5*time.Minute)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	c.Put("k", 42)

	now = now.Add(4 * time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be live before TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should expire after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed, len=%d", c.Len())
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](3, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit on a")
	}

	c.Put("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestOverwriteRefreshesEntry(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Put("a", 1)
	c.Put("a", 2)

	if c.Len() != 1 {
		t.Fatalf("overwrite must not grow the cache, len=%d", c.Len())
	}
	got, _ := c.Get("a")
	if got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestKeyNormalizes(t *testing.T) {
	a := Key("embed", "  What Is Raft?  ")
	b := Key("embed", "what is raft?")
	if a != b {
		t.Error("keys should match after normalization")
	}
	if Key("embed", "x") == Key("result", "x") {
		t.Error("operation tag must separate key spaces")
	}
	if Key("embed", "ab", "c") == Key("embed", "a", "bc") {
		t.Error("part boundaries must be preserved")
	}
}
