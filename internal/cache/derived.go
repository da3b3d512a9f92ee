package cache

import (
	"sync"

	"github.com/OCAP2/markers/pkg/core"
)

// DerivedCache memoizes derivation results per raw table and capture window.
// Tables are append-only, so an entry stays valid as long as the row count
// and the window match.
type DerivedCache struct {
	mu      sync.RWMutex
	entries map[*core.RawMarkerTable]derivedEntry
}

type derivedEntry struct {
	rows    int
	capture core.Range
	info    *core.DerivedMarkerInfo
}

// NewDerivedCache creates a new DerivedCache
func NewDerivedCache() *DerivedCache {
	return &DerivedCache{
		entries: make(map[*core.RawMarkerTable]derivedEntry),
	}
}

// Get returns the cached result for table derived over capture. Entries
// recorded before rows were appended, or for another window, are treated as
// missing.
func (c *DerivedCache) Get(table *core.RawMarkerTable, capture core.Range) (*core.DerivedMarkerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[table]
	if !ok || e.rows != table.Len() || e.capture != capture {
		return nil, false
	}
	return e.info, true
}

// Set stores the result for table derived over capture, replacing any entry
// for another window.
func (c *DerivedCache) Set(table *core.RawMarkerTable, capture core.Range, info *core.DerivedMarkerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[table] = derivedEntry{rows: table.Len(), capture: capture, info: info}
}

// Delete removes the result for table
func (c *DerivedCache) Delete(table *core.RawMarkerTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, table)
}

// Len returns the number of cached tables
func (c *DerivedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset clears all entries from the cache
func (c *DerivedCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[*core.RawMarkerTable]derivedEntry)
}
