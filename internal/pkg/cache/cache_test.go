package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestGetRespectsExpiry(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](time.Minute).WithClock(clk.now)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected live entry, got %v %v", v, ok)
	}

	clk.t = clk.t.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire at its deadline")
	}
	if c.Len() != 1 {
		t.Fatalf("expired entry must stay until Sweep, len=%d", c.Len())
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](time.Minute).WithClock(clk.now)

	c.Set("short", 1)
	c.SetWithTTL("long", 2, time.Hour)
	clk.t = clk.t.Add(2 * time.Minute)

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatalf("long-lived entry should survive sweep")
	}
}

func TestSetIfAbsent(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, string](time.Minute).WithClock(clk.now)

	if !c.SetIfAbsent("k", "first") {
		t.Fatalf("first SetIfAbsent should store")
	}
	if c.SetIfAbsent("k", "second") {
		t.Fatalf("second SetIfAbsent should not overwrite a live entry")
	}
	clk.t = clk.t.Add(time.Minute)
	if !c.SetIfAbsent("k", "third") {
		t.Fatalf("SetIfAbsent should replace an expired entry")
	}
	if v, _ := c.Get("k"); v != "third" {
		t.Fatalf("expected third, got %s", v)
	}
}
