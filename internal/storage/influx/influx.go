// Package influxstorage implements the storage.Backend interface by writing
// one InfluxDB point per derived marker.
package influxstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/influx"
	"github.com/OCAP2/markers/internal/profile"
)

// ErrNotInitialized is returned when the backend is used before Init.
var ErrNotInitialized = errors.New("influx backend not initialized")

const connectTimeout = 10 * time.Second

// Backend writes derived markers to an influx.Sink.
type Backend struct {
	cfg         config.InfluxConfig
	log         zerolog.Logger
	profileName string
	created     time.Time

	// mu serializes writers; the sink is not safe for concurrent use.
	mu   sync.Mutex
	sink *influx.Sink
}

// New creates an influx backend.
func New(cfg config.InfluxConfig, profileName string, log zerolog.Logger) *Backend {
	return &Backend{
		cfg:         cfg,
		log:         log,
		profileName: profileName,
		created:     time.Now(),
	}
}

// Init connects to the server or opens the backup file.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	sink, err := influx.Open(ctx, b.cfg, b.log)
	if err != nil {
		return fmt.Errorf("influx: %w", err)
	}
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return nil
}

// Close flushes and closes the sink.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil {
		return nil
	}
	err := b.sink.Close()
	b.sink = nil
	return err
}

// Online reports whether points reach the server rather than the backup file.
func (b *Backend) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink != nil && b.sink.Online()
}

// SaveThread writes one point per derived marker in start-time order.
// Points are stamped relative to the profile start, or to the backend's
// creation time when the profile has none.
func (b *Backend) SaveThread(ctx context.Context, r profile.ThreadResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil {
		return ErrNotInitialized
	}

	origin := b.created
	if r.Meta.StartTime > 0 {
		origin = time.UnixMilli(int64(r.Meta.StartTime))
	}
	for _, i := range r.Info.SortedIndexes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := influx.MarkerPoint(b.profileName, r.Thread.Name, r.Thread.Pid, origin, r.Info.Markers[i])
		if err := b.sink.Write(p); err != nil {
			return fmt.Errorf("marker %d of %q: %w", i, r.Thread.Name, err)
		}
	}
	return nil
}
