package cache

import "testing"

func TestLRU_GetPut(t *testing.T) {
	c := New[string, int](0, nil)
	c.Put("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](2, func(key string, value int) {
		evicted = append(evicted, key)
	})

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // promote a, making b the LRU
	c.Put("c", 3)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("expected b to be evicted first, got %v", evicted)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("c should be cached")
	}
}

func TestLRU_RemoveInvokesEvict(t *testing.T) {
	var evicted []string
	c := New[string, int](0, func(key string, value int) {
		evicted = append(evicted, key)
	})
	c.Put("a", 1)
	c.Remove("a")

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected explicit Remove to invoke onEvict, got %v", evicted)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should no longer be cached")
	}
}

func TestLRU_Clear(t *testing.T) {
	var evicted int
	c := New[string, int](0, func(key string, value int) {
		evicted++
	})
	c.Put("a", 1)
	c.Put("b", 2)
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got %d entries", c.Len())
	}
	if evicted != 2 {
		t.Fatalf("expected onEvict called for both entries, got %d", evicted)
	}
}

func TestLRU_Len(t *testing.T) {
	c := New[string, int](0, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}
