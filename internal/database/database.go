// Package database opens the gorm connections the SQL storage backends
// write to and keeps their schema current.
package database

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/model"
)

const (
	maxPostgresConns  = 10
	postgresBatchSize = 10000
	sqliteBatchSize   = 2000
	sharedMemoryDSN   = "file::memory:?cache=shared"
)

// SQLite is tuned for bulk inserts; durability comes from the final dump.
var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA page_size = 32768;",
}

// DSN renders cfg as a libpq keyword/value connection string.
func DSN(cfg config.DBConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
}

// OpenPostgres connects and pings the server.
func OpenPostgres(cfg config.DBConfig, log zerolog.Logger) (*gorm.DB, error) {
	log.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connecting to Postgres")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  DSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        postgresBatchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres sql handle: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	sqlDB.SetMaxOpenConns(maxPostgresConns)

	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connected to Postgres")
	return db, nil
}

// OpenSqlite opens the SQLite file at path, or a shared in-memory database
// when path is empty.
func OpenSqlite(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = sharedMemoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        sqliteBatchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	if path == "" {
		log.Info().Msg("Using in-memory SQLite")
	} else {
		log.Info().Str("path", path).Msg("Using SQLite file")
	}
	return db, nil
}

// Connect prefers Postgres. When it is unreachable and cfg.FallbackPath is
// set, the SQLite file there is used instead and local reports true.
func Connect(cfg config.DBConfig, log zerolog.Logger) (db *gorm.DB, local bool, err error) {
	db, err = OpenPostgres(cfg, log)
	if err == nil {
		return db, false, nil
	}
	if cfg.FallbackPath == "" {
		return nil, false, err
	}

	log.Error().Err(err).Str("fallback", cfg.FallbackPath).Msg("Postgres unavailable, falling back to SQLite")
	db, sqliteErr := OpenSqlite(cfg.FallbackPath, log)
	if sqliteErr != nil {
		return nil, false, errors.Join(err, sqliteErr)
	}
	return db, true, nil
}

// Migrate creates or updates every table in model.DatabaseModels.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Dump snapshots db into a fresh SQLite file at path with VACUUM INTO,
// replacing any previous dump.
func Dump(db *gorm.DB, path string, log zerolog.Logger) error {
	if path == "" {
		return errors.New("sqlite dump path not set")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous dump: %w", err)
	}

	start := time.Now()
	if err := db.Exec("VACUUM INTO ?", "file:"+path).Error; err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	log.Debug().Str("path", path).Dur("took", time.Since(start)).Msg("Dumped SQLite to disk")
	return nil
}
