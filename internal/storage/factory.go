package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/logging"
	gormstorage "github.com/OCAP2/markers/internal/storage/gorm"
	influxstorage "github.com/OCAP2/markers/internal/storage/influx"
	"github.com/OCAP2/markers/internal/storage/memory"
	parquetstorage "github.com/OCAP2/markers/internal/storage/parquet"
	sqlitestorage "github.com/OCAP2/markers/internal/storage/sqlite"
	"github.com/OCAP2/markers/internal/storage/websocket"
)

// Deps carries what the backends need besides their config section.
type Deps struct {
	ProfileName string
	Product     string
	Logger      *slog.Logger
	ZLogger     zerolog.Logger
}

// NewBackend creates the storage backends named by cfg.Type. A
// comma-separated list yields a Fanout over all of them.
func NewBackend(cfg config.StorageConfig, deps Deps) (Backend, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var named []Named
	seen := make(map[string]bool)
	for _, t := range strings.Split(cfg.Type, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true

		b, err := newSingle(t, cfg, deps)
		if err != nil {
			return nil, err
		}
		named = append(named, Named{Name: t, Backend: b})
	}

	switch len(named) {
	case 0:
		return nil, fmt.Errorf("no storage type configured")
	case 1:
		return named[0].Backend, nil
	default:
		return NewFanout(logging.NewDispatcherLogger(deps.ZLogger), named...)
	}
}

func newSingle(t string, cfg config.StorageConfig, deps Deps) (Backend, error) {
	sqlDeps := gormstorage.Dependencies{
		Logger:      deps.Logger,
		ZLogger:     deps.ZLogger,
		ProfileName: deps.ProfileName,
	}
	switch t {
	case "memory":
		return memory.New(cfg.Memory, deps.ProfileName), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, sqlDeps)
	case "postgres":
		// connection is opened on Init
		sqlDeps.Postgres = config.GetDBConfig()
		return gormstorage.New(sqlDeps), nil
	case "parquet":
		return parquetstorage.New(parquetstorage.Config{OutputDir: cfg.Parquet.OutputDir}, deps.ProfileName, deps.Logger), nil
	case "influx":
		return influxstorage.New(cfg.Influx, deps.ProfileName, deps.ZLogger), nil
	case "websocket":
		return websocket.New(websocket.Config{URL: cfg.WebSocket.URL, Secret: cfg.WebSocket.Secret},
			deps.ProfileName, deps.Product, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", t)
	}
}
