package cache

import (
	"sync"

	"github.com/OCAP2/markers/pkg/core"
)

// StringTable interns marker names for every thread of a profile
type StringTable struct {
	mu      sync.RWMutex
	strings []string
	index   map[string]core.StringIndex
}

var _ core.StringTable = (*StringTable)(nil)

// NewStringTable creates an empty StringTable
func NewStringTable() *StringTable {
	return &StringTable{
		index: make(map[string]core.StringIndex),
	}
}

// NewStringTableFrom rebuilds a table whose indexes match the given slice
func NewStringTableFrom(strings []string) *StringTable {
	t := &StringTable{
		strings: make([]string, 0, len(strings)),
		index:   make(map[string]core.StringIndex, len(strings)),
	}
	for _, s := range strings {
		t.strings = append(t.strings, s)
		if _, ok := t.index[s]; !ok {
			t.index[s] = core.StringIndex(len(t.strings) - 1)
		}
	}
	return t
}

// Intern returns the index of s, adding it when unseen
func (t *StringTable) Intern(s string) core.StringIndex {
	t.mu.RLock()
	i, ok := t.index[s]
	t.mu.RUnlock()
	if ok {
		return i
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[s]; ok {
		return i
	}
	t.strings = append(t.strings, s)
	i = core.StringIndex(len(t.strings) - 1)
	t.index[s] = i
	return i
}

// Resolve returns the string at index i, or "" when out of range
func (t *StringTable) Resolve(i core.StringIndex) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || int(i) >= len(t.strings) {
		return ""
	}
	return t.strings[i]
}

// Lookup returns the index of s without interning it
func (t *StringTable) Lookup(s string) (core.StringIndex, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[s]
	return i, ok
}

// Strings returns a copy of the table contents in index order
func (t *StringTable) Strings() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.strings...)
}

// Len returns the number of interned strings
func (t *StringTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.strings)
}
