// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/profile"
)

// Backend keeps derived threads in memory and exports them to JSON on Close.
type Backend struct {
	cfg       config.MemoryConfig
	name      string
	startTime time.Time

	meta    profile.Meta
	threads map[int]profile.ThreadResult // keyed by thread index

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend. name labels the export file.
func New(cfg config.MemoryConfig, name string) *Backend {
	return &Backend{
		cfg:       cfg,
		name:      name,
		startTime: time.Now(),
		threads:   make(map[int]profile.ThreadResult),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports everything collected so far. Nothing is written when no
// thread was saved.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.threads) == 0 {
		return nil
	}
	return b.exportJSON()
}

// SaveThread records a thread result. A later result with the same index
// replaces the earlier one.
func (b *Backend) SaveThread(_ context.Context, r profile.ThreadResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.meta = r.Meta
	b.threads[r.Index] = r
	return nil
}

// Threads returns the saved results ordered by thread index.
func (b *Backend) Threads() []profile.ThreadResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedThreads()
}

func (b *Backend) sortedThreads() []profile.ThreadResult {
	out := make([]profile.ThreadResult, 0, len(b.threads))
	for _, r := range b.threads {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
