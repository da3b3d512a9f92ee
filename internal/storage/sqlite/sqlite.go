// Package sqlitestorage keeps markers in an in-memory SQLite database and
// snapshots it to disk with VACUUM INTO, periodically and on Close.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/markers/internal/database"
	gormstorage "github.com/OCAP2/markers/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string
}

// Backend is the gorm backend over an in-memory connection plus the dump
// schedule.
type Backend struct {
	*gormstorage.Backend
	deps gormstorage.Dependencies
	cfg  Config

	stop      chan struct{}
	loop      sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New opens the in-memory database. deps.DB is replaced.
func New(cfg Config, deps gormstorage.Dependencies) (*Backend, error) {
	db, err := database.OpenSqlite("", deps.ZLogger)
	if err != nil {
		return nil, fmt.Errorf("in-memory sqlite: %w", err)
	}
	deps.DB = db
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Backend{
		Backend: gormstorage.New(deps),
		deps:    deps,
		cfg:     cfg,
		stop:    make(chan struct{}),
	}, nil
}

// Init migrates the schema and starts the dump schedule.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.loop.Add(1)
		go b.dumpEvery(b.cfg.DumpInterval)
	}
	return nil
}

// Close stops the schedule, writes queued rows and takes a final dump.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		b.loop.Wait()

		err := b.Backend.Close()
		if err == nil && b.cfg.DumpPath != "" {
			err = b.dump()
		}
		b.closeErr = err
	})
	return b.closeErr
}

// GetExportedFilePath returns the dump path, empty if none is configured.
func (b *Backend) GetExportedFilePath() string {
	return b.cfg.DumpPath
}

func (b *Backend) dump() error {
	err := database.Dump(b.deps.DB, b.cfg.DumpPath, b.deps.ZLogger)
	if err != nil {
		b.deps.Logger.Error("SQLite dump failed", "path", b.cfg.DumpPath, "error", err)
	}
	return err
}

// VACUUM INTO takes a consistent snapshot, so writers keep going meanwhile.
func (b *Backend) dumpEvery(interval time.Duration) {
	defer b.loop.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			_ = b.dump()
		}
	}
}
