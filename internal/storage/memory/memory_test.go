// internal/storage/memory/memory_test.go
package memory

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/codec"
	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/deriver"
	"github.com/OCAP2/markers/internal/fixture"
	"github.com/OCAP2/markers/internal/profile"
)

func threadResult(t *testing.T, index int, name string) profile.ThreadResult {
	t.Helper()
	b := fixture.New().Interval("Paint", 2, 5).Instant("Click", 1)
	d, err := deriver.New(nil)
	require.NoError(t, err)
	thread := &profile.Thread{Name: name, ProcessType: "default", Pid: 1, Tid: index + 1, CaptureEnd: 10, Markers: b.Table}
	return profile.ThreadResult{
		Meta:    profile.Meta{Product: "Firefox", Version: 27},
		Index:   index,
		Thread:  thread,
		Strings: b.Strings,
		Info:    d.Derive(b.Table, b.Strings, 0, 10),
	}
}

func TestNew(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: "/tmp/test", CompressOutput: true}, "nightly")
	require.NotNil(t, b)
	assert.Equal(t, "/tmp/test", b.cfg.OutputDir)
	assert.True(t, b.cfg.CompressOutput)
	assert.NotNil(t, b.threads)
	assert.NoError(t, b.Init())
}

func TestClose_NothingSaved(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir}, "empty")
	require.NoError(t, b.Close())
	assert.Empty(t, b.GetExportedFilePath())
}

func TestSaveThread_OrderedByIndex(t *testing.T) {
	b := New(config.MemoryConfig{}, "p")
	ctx := context.Background()
	require.NoError(t, b.SaveThread(ctx, threadResult(t, 2, "C")))
	require.NoError(t, b.SaveThread(ctx, threadResult(t, 0, "A")))
	require.NoError(t, b.SaveThread(ctx, threadResult(t, 1, "B")))
	require.NoError(t, b.SaveThread(ctx, threadResult(t, 1, "B2")))

	threads := b.Threads()
	require.Len(t, threads, 3)
	assert.Equal(t, "A", threads[0].Thread.Name)
	assert.Equal(t, "B2", threads[1].Thread.Name)
	assert.Equal(t, "C", threads[2].Thread.Name)
}

func TestSaveThread_Concurrent(t *testing.T) {
	b := New(config.MemoryConfig{}, "p")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.SaveThread(context.Background(), threadResult(t, i, "T"))
		}(i)
	}
	wg.Wait()
	assert.Len(t, b.Threads(), 16)
}

func TestClose_ExportsDerivedMarkers(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
		suffix   string
	}{
		{"plain", false, ".derived.json"},
		{"gzip", true, ".derived.json.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: tt.compress}, "night ly:run")
			require.NoError(t, b.SaveThread(context.Background(), threadResult(t, 0, "GeckoMain")))
			require.NoError(t, b.Close())

			path := b.GetExportedFilePath()
			assert.Equal(t, dir, filepath.Dir(path))
			assert.True(t, strings.HasPrefix(filepath.Base(path), "night_ly_run_"))
			assert.True(t, strings.HasSuffix(path, tt.suffix))

			doc, err := codec.ReadDerivedFile(path)
			require.NoError(t, err)
			assert.Equal(t, "Firefox", doc.Meta.Product)
			require.Len(t, doc.Threads, 1)
			markers := doc.Threads[0].Markers
			require.Len(t, markers, 2)
			assert.Equal(t, "Click", markers[0].Name)
			assert.Equal(t, "Paint", markers[1].Name)
			assert.Equal(t, 3.0, markers[1].Dur)
		})
	}
}

func TestGetExportMetadata(t *testing.T) {
	b := New(config.MemoryConfig{}, "nightly")
	require.NoError(t, b.SaveThread(context.Background(), threadResult(t, 0, "A")))
	require.NoError(t, b.SaveThread(context.Background(), threadResult(t, 1, "B")))

	meta := b.GetExportMetadata()
	assert.Equal(t, "nightly", meta.ProfileName)
	assert.Equal(t, "Firefox", meta.Product)
	assert.Equal(t, 2, meta.Threads)
	assert.Equal(t, 4, meta.Markers)
	assert.Equal(t, 4.0, meta.Duration)
}
