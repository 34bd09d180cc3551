package catalog

import (
	"testing"
	"time"
)

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := newCache(time.Minute, 2)
	defer c.Close()

	c.set("a", []byte("1"))
	c.set("b", []byte("2"))
	c.set("c", []byte("3")) // should evict "a"

	if _, ok := c.get("a"); ok {
		t.Fatal("expected oldest entry 'a' to be evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Fatal("expected 'b' to survive eviction")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("expected 'c' to be present")
	}
}

func TestCacheGetMissesOnExpiry(t *testing.T) {
	c := newCache(5*time.Millisecond, 10)
	defer c.Close()

	c.set("a", []byte("1"))
	time.Sleep(10 * time.Millisecond)

	if _, ok := c.get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCacheOverwriteDoesNotDuplicateOrderEntry(t *testing.T) {
	c := newCache(time.Minute, 2)
	defer c.Close()

	c.set("a", []byte("1"))
	c.set("a", []byte("2"))
	c.set("b", []byte("3"))

	body, ok := c.get("a")
	if !ok || string(body) != "2" {
		t.Fatalf("expected 'a' updated in place, got %q ok=%v", body, ok)
	}
	if _, ok := c.get("b"); !ok {
		t.Fatal("expected 'b' present, overwrite should not have triggered spurious eviction")
	}
}

func TestCacheCloseIdempotent(t *testing.T) {
	c := newCache(time.Minute, 10)
	c.Close()
	c.Close()
}
