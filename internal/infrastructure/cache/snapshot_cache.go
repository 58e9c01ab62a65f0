package cache

import (
	"sync"

	"github.com/venrates/bcv-rates-service/internal/domain/entity"
)

// SnapshotCache holds the last committed snapshot and history in memory so
// read endpoints serve copies without touching the store or the refresh
// lock. The refresh path publishes into it after every successful commit.
type SnapshotCache struct {
	mutex    sync.RWMutex
	snapshot *entity.RateSnapshot
	history  []entity.HistoryEntry
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{}
}

// Snapshot returns a copy of the cached snapshot, if one has been published.
func (c *SnapshotCache) Snapshot() (entity.RateSnapshot, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.snapshot == nil {
		return entity.RateSnapshot{}, false
	}
	return *c.snapshot, true
}

// History returns a copy of the cached history, most recent first.
func (c *SnapshotCache) History() []entity.HistoryEntry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]entity.HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// SetSnapshot publishes a new snapshot copy.
func (c *SnapshotCache) SetSnapshot(snapshot entity.RateSnapshot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.snapshot = &snapshot
}

// SetHistory publishes a new history copy.
func (c *SnapshotCache) SetHistory(history []entity.HistoryEntry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.history = make([]entity.HistoryEntry, len(history))
	copy(c.history, history)
}

// Clear empties the cache.
func (c *SnapshotCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.snapshot = nil
	c.history = nil
}
