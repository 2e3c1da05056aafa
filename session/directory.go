package session

import (
	"sync"
	"time"
)

// DefaultTTL is how long a lane keeps its session token without a new
// completed run refreshing it.
const DefaultTTL = time.Hour

type entry struct {
	sessionID string
	updatedAt time.Time
}

// Directory maps lane keys to agent session tokens. Entries expire TTL
// after their last write; expiry is checked lazily on read, and reads do
// not refresh a stored entry. A lane with no live entry starts a fresh
// agent conversation on its next run.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewDirectory creates a directory. ttl <= 0 uses DefaultTTL.
func NewDirectory(ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the live session token for a lane. An expired entry is
// evicted and reported as absent.
func (d *Directory) Get(key string) (string, bool) {
	d.mu.RLock()
	e, ok := d.entries[key]
	d.mu.RUnlock()
	if !ok {
		return "", false
	}
	if d.now().Sub(e.updatedAt) > d.ttl {
		d.mu.Lock()
		// Re-check under the write lock; Set may have raced.
		if cur, ok := d.entries[key]; ok && cur.updatedAt.Equal(e.updatedAt) {
			delete(d.entries, key)
		}
		d.mu.Unlock()
		return "", false
	}
	return e.sessionID, true
}

// Set stores a lane's session token and refreshes its expiry clock.
// Empty tokens are ignored so a run that yielded no token never clobbers
// a live one.
func (d *Directory) Set(key, sessionID string) {
	if sessionID == "" {
		return
	}
	d.mu.Lock()
	d.entries[key] = entry{sessionID: sessionID, updatedAt: d.now()}
	d.mu.Unlock()
}

// Delete drops a lane's entry, forcing its next run to start fresh.
func (d *Directory) Delete(key string) {
	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
}

// Clear drops every entry.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.entries = make(map[string]entry)
	d.mu.Unlock()
}

// Len counts the stored entries, expired ones included.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Snapshot returns the live lane-to-token mapping, evicting expired
// entries as it goes.
func (d *Directory) Snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	out := make(map[string]string, len(d.entries))
	for k, e := range d.entries {
		if now.Sub(e.updatedAt) > d.ttl {
			delete(d.entries, k)
			continue
		}
		out[k] = e.sessionID
	}
	return out
}
