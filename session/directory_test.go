package session

import (
	"testing"
	"time"
)

func newTestDirectory(ttl time.Duration) (*Directory, *time.Time) {
	d := NewDirectory(ttl)
	clock := time.Unix(1000, 0)
	d.now = func() time.Time { return clock }
	return d, &clock
}

func TestDirectorySetGet(t *testing.T) {
	d, _ := newTestDirectory(time.Hour)

	if _, ok := d.Get("lane-a"); ok {
		t.Fatal("unexpected entry")
	}
	d.Set("lane-a", "sess-1")
	got, ok := d.Get("lane-a")
	if !ok || got != "sess-1" {
		t.Fatalf("got %q/%v", got, ok)
	}
}

func TestDirectoryExpiry(t *testing.T) {
	d, clock := newTestDirectory(time.Hour)
	d.Set("lane-a", "sess-1")

	// Exactly at the TTL boundary the entry is still live.
	*clock = clock.Add(time.Hour)
	if _, ok := d.Get("lane-a"); !ok {
		t.Fatal("entry expired at the TTL boundary")
	}

	*clock = clock.Add(time.Nanosecond)
	if _, ok := d.Get("lane-a"); ok {
		t.Fatal("entry survived past TTL")
	}
	if d.Len() != 0 {
		t.Fatalf("expired entry not evicted, len = %d", d.Len())
	}
}

func TestDirectoryGetDoesNotRefresh(t *testing.T) {
	d, clock := newTestDirectory(time.Hour)
	d.Set("lane-a", "sess-1")

	// Repeated reads must not push expiry out.
	*clock = clock.Add(30 * time.Minute)
	if _, ok := d.Get("lane-a"); !ok {
		t.Fatal("entry missing")
	}
	*clock = clock.Add(31 * time.Minute)
	if _, ok := d.Get("lane-a"); ok {
		t.Fatal("read refreshed the entry")
	}
}

func TestDirectorySetRefreshes(t *testing.T) {
	d, clock := newTestDirectory(time.Hour)
	d.Set("lane-a", "sess-1")

	*clock = clock.Add(50 * time.Minute)
	d.Set("lane-a", "sess-2")

	*clock = clock.Add(30 * time.Minute)
	got, ok := d.Get("lane-a")
	if !ok || got != "sess-2" {
		t.Fatalf("got %q/%v", got, ok)
	}
}

func TestDirectoryIgnoresEmptyToken(t *testing.T) {
	d, _ := newTestDirectory(time.Hour)
	d.Set("lane-a", "sess-1")
	d.Set("lane-a", "")

	got, ok := d.Get("lane-a")
	if !ok || got != "sess-1" {
		t.Fatalf("empty token clobbered entry: %q/%v", got, ok)
	}
}

func TestDirectoryDeleteAndClear(t *testing.T) {
	d, _ := newTestDirectory(time.Hour)
	d.Set("a", "1")
	d.Set("b", "2")

	d.Delete("a")
	if _, ok := d.Get("a"); ok {
		t.Fatal("delete did not remove entry")
	}
	d.Clear()
	if d.Len() != 0 {
		t.Fatalf("len = %d after Clear", d.Len())
	}
}

func TestDirectorySnapshot(t *testing.T) {
	d, clock := newTestDirectory(time.Hour)
	d.Set("fresh", "f1")
	*clock = clock.Add(2 * time.Hour)
	d.Set("recent", "r1")

	snap := d.Snapshot()
	if len(snap) != 1 || snap["recent"] != "r1" {
		t.Fatalf("snapshot = %v", snap)
	}
	if d.Len() != 1 {
		t.Fatalf("expired entry not evicted, len = %d", d.Len())
	}
}
