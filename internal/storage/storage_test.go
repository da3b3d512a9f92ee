// internal/storage/storage_test.go
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/profile"
	gormstorage "github.com/OCAP2/markers/internal/storage/gorm"
	influxstorage "github.com/OCAP2/markers/internal/storage/influx"
	"github.com/OCAP2/markers/internal/storage/memory"
	parquetstorage "github.com/OCAP2/markers/internal/storage/parquet"
	sqlitestorage "github.com/OCAP2/markers/internal/storage/sqlite"
	"github.com/OCAP2/markers/internal/storage/websocket"
)

// Compile-time interface checks
var (
	_ Backend = (*memory.Backend)(nil)
	_ Backend = (*sqlitestorage.Backend)(nil)
	_ Backend = (*gormstorage.Backend)(nil)
	_ Backend = (*parquetstorage.Backend)(nil)
	_ Backend = (*influxstorage.Backend)(nil)
	_ Backend = (*websocket.Backend)(nil)
	_ Backend = (*Fanout)(nil)

	_ Uploadable = (*memory.Backend)(nil)
	_ Uploadable = (*parquetstorage.Backend)(nil)
)

// recordingBackend remembers the thread indexes it saw.
type recordingBackend struct {
	mu       sync.Mutex
	indexes  []int
	initErr  error
	saveErr  error
	inited   bool
	closed   bool
	closeErr error
}

func (r *recordingBackend) Init() error {
	r.inited = true
	return r.initErr
}

func (r *recordingBackend) Close() error {
	r.closed = true
	return r.closeErr
}

func (r *recordingBackend) SaveThread(_ context.Context, tr profile.ThreadResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.indexes = append(r.indexes, tr.Index)
	return nil
}

func TestNewBackend_Types(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StorageConfig{
		Memory:  config.MemoryConfig{OutputDir: dir},
		Parquet: config.ParquetConfig{OutputDir: dir},
		SQLite:  config.SQLiteConfig{DumpPath: filepath.Join(dir, "m.db")},
	}
	deps := Deps{ProfileName: "p", ZLogger: zerolog.Nop()}

	tests := []struct {
		typ  string
		want any
	}{
		{"memory", &memory.Backend{}},
		{"sqlite", &sqlitestorage.Backend{}},
		{"postgres", &gormstorage.Backend{}},
		{"parquet", &parquetstorage.Backend{}},
		{"influx", &influxstorage.Backend{}},
		{"websocket", &websocket.Backend{}},
		{" Memory ", &memory.Backend{}},
		{"memory,parquet", &Fanout{}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cfg.Type = tt.typ
			b, err := NewBackend(cfg, deps)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestNewBackend_Errors(t *testing.T) {
	_, err := NewBackend(config.StorageConfig{Type: "cassandra"}, Deps{})
	assert.ErrorContains(t, err, "unknown storage type: cassandra")

	_, err = NewBackend(config.StorageConfig{Type: " , "}, Deps{})
	assert.ErrorContains(t, err, "no storage type configured")
}

func TestNewBackend_DuplicateTypes(t *testing.T) {
	b, err := NewBackend(config.StorageConfig{Type: "memory,memory"}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)
}

func TestFanout_DeliversToEveryBackend(t *testing.T) {
	a, b := &recordingBackend{}, &recordingBackend{}
	f, err := NewFanout(nopLogger{}, Named{"a", a}, Named{"b", b})
	require.NoError(t, err)
	require.NoError(t, f.Init())
	assert.True(t, a.inited)
	assert.True(t, b.inited)

	for i := 0; i < 10; i++ {
		require.NoError(t, f.SaveThread(context.Background(), profile.ThreadResult{Index: i}))
	}
	require.NoError(t, f.Close())

	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, want, a.indexes)
	assert.Equal(t, want, b.indexes)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Len(t, f.Backends(), 2)
}

func TestFanout_ErrorsSurfaceOnClose(t *testing.T) {
	failing := &recordingBackend{saveErr: errors.New("disk full"), closeErr: errors.New("close failed")}
	ok := &recordingBackend{}
	f, err := NewFanout(nopLogger{}, Named{"failing", failing}, Named{"ok", ok})
	require.NoError(t, err)

	require.NoError(t, f.SaveThread(context.Background(), profile.ThreadResult{Index: 3}))
	err = f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "close failing: close failed")
	assert.Equal(t, []int{3}, ok.indexes)

	err = f.SaveThread(context.Background(), profile.ThreadResult{})
	assert.Error(t, err)
}

func TestFanout_InitStopsAtFirstFailure(t *testing.T) {
	first := &recordingBackend{initErr: errors.New("boom")}
	second := &recordingBackend{}
	f, err := NewFanout(nopLogger{}, Named{"first", first}, Named{"second", second})
	require.NoError(t, err)

	assert.ErrorContains(t, f.Init(), "init first: boom")
	assert.False(t, second.inited)
}

func TestUploadables(t *testing.T) {
	mem := memory.New(config.MemoryConfig{}, "p")
	pq := parquetstorage.New(parquetstorage.Config{}, "p", nil)
	f, err := NewFanout(nopLogger{}, Named{"memory", mem}, Named{"rec", &recordingBackend{}}, Named{"parquet", pq})
	require.NoError(t, err)

	ups := Uploadables(f)
	require.Len(t, ups, 2)
	assert.Same(t, mem, ups[0])
	assert.Same(t, pq, ups[1])

	assert.Empty(t, Uploadables(&recordingBackend{}))
	assert.Len(t, Uploadables(mem), 1)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
