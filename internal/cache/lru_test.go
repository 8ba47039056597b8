package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestPeekDoesNotPromote(t *testing.T) {
	c := New(2)
	c.Put("a", Entry{Text: "A"})
	c.Put("b", Entry{Text: "B"})

	// Peek "a" repeatedly; since Get must not promote, "a" stays the
	// oldest and is evicted when "c" is inserted.
	for i := 0; i < 5; i++ {
		if _, ok := c.Get("a"); !ok {
			t.Fatalf("iteration %d: expected a to still be present", i)
		}
	}

	c.Put("c", Entry{Text: "C"})

	if _, ok := c.Get("a"); ok {
		t.Error("expected a to have been evicted despite repeated Get")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestEvictsOldestSilently(t *testing.T) {
	c := New(3)
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("k%d", i), Entry{Text: fmt.Sprintf("v%d", i), At: time.Now()})
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("expected k0 to be evicted")
	}
	if _, ok := c.Get("k9"); !ok {
		t.Error("expected k9 to be present")
	}
}

func TestDefaultCapacity(t *testing.T) {
	c := New(0)
	if c.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", c.capacity, DefaultCapacity)
	}
}
