package database

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/model"
)

func TestDSN(t *testing.T) {
	cfg := config.DBConfig{Host: "10.0.0.1", Port: "5433", Username: "markers", Password: "secret", Database: "profiles"}
	assert.Equal(t,
		"host=10.0.0.1 port=5433 user=markers password=secret dbname=profiles sslmode=disable",
		DSN(cfg))
}

func TestOpenSqlite_MigrateAndDump(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenSqlite(filepath.Join(dir, "markers.db"), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	for _, tbl := range model.DatabaseModels {
		assert.True(t, db.Migrator().HasTable(tbl))
	}

	dump := filepath.Join(dir, "dump.db")
	require.NoError(t, Dump(db, dump, zerolog.Nop()))
	assert.FileExists(t, dump)
	// a second dump replaces the first
	require.NoError(t, Dump(db, dump, zerolog.Nop()))

	copied, err := OpenSqlite(dump, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, copied.Migrator().HasTable(&model.Thread{}))
}

func TestDump_NoPath(t *testing.T) {
	assert.EqualError(t, Dump(nil, "", zerolog.Nop()), "sqlite dump path not set")
}

func TestConnect_FallsBackToSqlite(t *testing.T) {
	cfg := config.DBConfig{
		Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d",
		FallbackPath: filepath.Join(t.TempDir(), "fallback.db"),
	}

	db, local, err := Connect(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, local)
	assert.Equal(t, "sqlite", db.Name())

	cfg.FallbackPath = ""
	_, _, err = Connect(cfg, zerolog.Nop())
	assert.Error(t, err)
}
