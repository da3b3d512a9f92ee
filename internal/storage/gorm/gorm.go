// Package gormstorage implements the storage.Backend interface using GORM
// with internal queues that batch raw and derived marker rows.
// It works against both PostgreSQL and SQLite connections.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/database"
	"github.com/OCAP2/markers/internal/model"
	"github.com/OCAP2/markers/internal/model/convert"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/internal/queue"
	"github.com/OCAP2/markers/pkg/core"
)

// ErrNotInitialized is returned when the backend is used before Init.
var ErrNotInitialized = errors.New("gorm backend not initialized")

// writeBatchSize bounds the rows inserted per transaction.
const writeBatchSize = 500

// Dependencies holds all dependencies for the GORM storage backend.
// Without DB, Init connects using Postgres.
type Dependencies struct {
	DB          *gorm.DB
	Postgres    config.DBConfig
	Logger      *slog.Logger
	ZLogger     zerolog.Logger
	ProfileName string
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	RawMarkers     *queue.Queue[model.RawMarker]
	DerivedMarkers *queue.Queue[model.DerivedMarker]
}

func newQueues() *queues {
	return &queues{
		RawMarkers:     queue.New[model.RawMarker](),
		DerivedMarkers: queue.New[model.DerivedMarker](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	queues *queues
	// flushMu serializes queue drains so rows are never written twice.
	flushMu sync.Mutex
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{
		deps: deps,
	}
}

// Init creates internal queues and runs schema migration.
// If no DB was injected it connects to Postgres, falling back to SQLite
// when Postgres.FallbackPath is set.
func (b *Backend) Init() error {
	b.queues = newQueues()

	if b.deps.DB == nil {
		db, local, err := database.Connect(b.deps.Postgres, b.deps.ZLogger)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if local {
			b.deps.Logger.Warn("Writing to local SQLite instead of Postgres", "path", b.deps.Postgres.FallbackPath)
		}
		b.deps.DB = db
	}

	b.deps.Logger.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Close writes any rows still queued.
func (b *Backend) Close() error {
	if b.queues == nil {
		return nil
	}
	return b.Flush(context.Background())
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// SaveThread inserts the thread row synchronously to obtain its ID, then
// queues its raw and derived markers and flushes them.
func (b *Backend) SaveThread(ctx context.Context, r profile.ThreadResult) error {
	if b.queues == nil || b.deps.DB == nil {
		return ErrNotInitialized
	}

	thread := convert.ThreadToGorm(b.deps.ProfileName, r.Index, r.Thread)
	if err := b.deps.DB.WithContext(ctx).Create(&thread).Error; err != nil {
		return fmt.Errorf("failed to insert thread %q: %w", r.Thread.Name, err)
	}

	raw, err := convert.RawTableToGorm(r.Thread.Markers, r.Strings)
	if err != nil {
		return fmt.Errorf("failed to convert raw markers of %q: %w", r.Thread.Name, err)
	}
	for i := range raw {
		raw[i].ThreadID = thread.ID
	}

	derived, err := convert.DerivedInfoToGorm(r.Info)
	if err != nil {
		return fmt.Errorf("failed to convert derived markers of %q: %w", r.Thread.Name, err)
	}
	for i := range derived {
		derived[i].ThreadID = thread.ID
	}

	b.queues.RawMarkers.Push(raw...)
	b.queues.DerivedMarkers.Push(derived...)
	return b.Flush(ctx)
}

// Flush drains both queues into the database.
func (b *Backend) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	db := b.deps.DB.WithContext(ctx)
	if err := writeQueue(db, b.queues.RawMarkers, "raw markers", b.deps.Logger); err != nil {
		return err
	}
	return writeQueue(db, b.queues.DerivedMarkers, "derived markers", b.deps.Logger)
}

// writeQueue drains a queue into the database, one transaction per batch.
// A failed batch is put back at the front for the next flush.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) error {
	written := 0
	for q.Len() > 0 {
		items := q.Take(writeBatchSize)
		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Omit("Thread").Create(&items).Error
		})
		if err != nil {
			log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
			q.Requeue(items...)
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		written += len(items)
	}

	if written > 0 {
		log.Debug("Wrote rows", "table", name, "count", written)
	}
	return nil
}

// Threads lists the stored threads of a profile, or of every profile when
// profileName is empty.
func (b *Backend) Threads(ctx context.Context, profileName string) ([]model.Thread, error) {
	var threads []model.Thread
	q := b.deps.DB.WithContext(ctx).Order("id")
	if profileName != "" {
		q = q.Where("profile = ?", profileName)
	}
	if err := q.Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

// LoadThread rebuilds a stored thread and its raw table, interning names
// into strings. The result can be derived again.
func (b *Backend) LoadThread(ctx context.Context, id uint, strings core.StringTable) (*profile.Thread, error) {
	var thread model.Thread
	if err := b.deps.DB.WithContext(ctx).First(&thread, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load thread %d: %w", id, err)
	}

	var rows []model.RawMarker
	if err := b.deps.DB.WithContext(ctx).Where("thread_id = ?", id).Order("row_index").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load raw markers of thread %d: %w", id, err)
	}

	table, err := convert.RawTableToCore(rows, strings)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild raw markers of thread %d: %w", id, err)
	}

	t := convert.ThreadToCore(thread)
	t.Markers = table
	return t, nil
}

// DerivedMarkers returns the stored derived markers of a thread by start time.
func (b *Backend) DerivedMarkers(ctx context.Context, threadID uint) ([]model.DerivedMarker, error) {
	var markers []model.DerivedMarker
	err := b.deps.DB.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("start_time, id").
		Find(&markers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load derived markers of thread %d: %w", threadID, err)
	}
	return markers, nil
}
