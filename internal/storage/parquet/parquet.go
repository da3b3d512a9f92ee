// Package parquetstorage implements the storage.Backend interface by writing
// one parquet row per derived marker.
package parquetstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/parquet-go/parquet-go"

	"github.com/OCAP2/markers/internal/api"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

// ErrNotInitialized is returned when the backend is used before Init.
var ErrNotInitialized = errors.New("parquet backend not initialized")

// MarkerRow is the parquet schema of one derived marker.
type MarkerRow struct {
	Thread      string  `parquet:"thread,dict"`
	ThreadIndex int32   `parquet:"thread_index"`
	Pid         int64   `parquet:"pid"`
	Tid         int64   `parquet:"tid"`
	Name        string  `parquet:"name,dict"`
	Start       float64 `parquet:"start"`
	Duration    float64 `parquet:"duration"`
	Category    int32   `parquet:"category"`
	Title       string  `parquet:"title,optional"`
	Incomplete  bool    `parquet:"incomplete"`
	PayloadType string  `parquet:"payload_type,dict,optional"`
	Payload     string  `parquet:"payload,optional"`
	RawIndexes  []int32 `parquet:"raw_indexes"`
}

// Config holds parquet export settings.
type Config struct {
	OutputDir string
}

// Backend streams derived markers into a single parquet file.
type Backend struct {
	cfg    Config
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	writer  *parquet.GenericWriter[MarkerRow]
	path    string
	product string
	threads int
	markers int
	first   float64
	last    float64
}

// New creates a parquet backend. name labels the output file.
func New(cfg Config, name string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, name: name, logger: logger}
}

// Init creates the output file.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	name := strings.NewReplacer(" ", "_", ":", "_").Replace(b.name)
	if name == "" {
		name = "profile"
	}
	b.path = filepath.Join(b.cfg.OutputDir,
		fmt.Sprintf("%s_%s.markers.parquet", name, time.Now().Format("20060102_150405")))

	f, err := os.Create(b.path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	b.file = f
	b.writer = parquet.NewGenericWriter[MarkerRow](f, parquet.Compression(&parquet.Zstd))
	b.logger.Debug("Parquet output opened", "path", b.path)
	return nil
}

// SaveThread appends the derived markers of a thread in start-time order.
func (b *Backend) SaveThread(ctx context.Context, r profile.ThreadResult) error {
	rows, err := Rows(r)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writer == nil {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write markers of %q: %w", r.Thread.Name, err)
	}

	b.product = r.Meta.Product
	b.threads++
	for _, row := range rows {
		if b.markers == 0 || row.Start < b.first {
			b.first = row.Start
		}
		if b.markers == 0 || row.Start+row.Duration > b.last {
			b.last = row.Start + row.Duration
		}
		b.markers++
	}
	return nil
}

// Close flushes the footer and closes the file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writer == nil {
		return nil
	}
	err := b.writer.Close()
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	b.writer = nil
	if err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}
	b.logger.Info("Parquet export written", "path", b.path, "markers", b.markers)
	return nil
}

// GetExportedFilePath returns the parquet file path.
func (b *Backend) GetExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// GetExportMetadata summarizes the written rows for upload.
func (b *Backend) GetExportMetadata() api.UploadMetadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return api.UploadMetadata{
		ProfileName: b.name,
		Product:     b.product,
		Threads:     b.threads,
		Markers:     b.markers,
		Duration:    b.last - b.first,
	}
}

// Rows converts a thread result into parquet rows in start-time order.
func Rows(r profile.ThreadResult) ([]MarkerRow, error) {
	index, err := safecast.Conv[int32](r.Index)
	if err != nil {
		return nil, fmt.Errorf("thread index: %w", err)
	}

	rows := make([]MarkerRow, 0, r.Info.Len())
	for _, i := range r.Info.SortedIndexes() {
		m := r.Info.Markers[i]
		category, err := safecast.Conv[int32](m.Category)
		if err != nil {
			return nil, fmt.Errorf("category of %q: %w", m.Name, err)
		}
		raw := make([]int32, 0, len(r.Info.RawIndexes[i]))
		for _, row := range r.Info.RawIndexes[i] {
			v, err := safecast.Conv[int32](row)
			if err != nil {
				return nil, fmt.Errorf("raw row of %q: %w", m.Name, err)
			}
			raw = append(raw, v)
		}

		row := MarkerRow{
			Thread:      r.Thread.Name,
			ThreadIndex: index,
			Pid:         int64(r.Thread.Pid),
			Tid:         int64(r.Thread.Tid),
			Name:        m.Name,
			Start:       m.Start,
			Duration:    m.Dur,
			Category:    category,
			Title:       m.Title,
			Incomplete:  m.Incomplete,
			RawIndexes:  raw,
		}
		if m.Data != nil {
			data, err := core.MarshalDerived(m.Data)
			if err != nil {
				return nil, fmt.Errorf("payload of %q: %w", m.Name, err)
			}
			row.PayloadType = m.Data.PayloadType()
			row.Payload = string(data)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadFile loads every row of a parquet marker file.
func ReadFile(path string) ([]MarkerRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	r := parquet.NewGenericReader[MarkerRow](pf)
	defer r.Close()

	out := make([]MarkerRow, 0, r.NumRows())
	for {
		// rows keep references into buf, so each batch gets its own
		buf := make([]MarkerRow, 256)
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	return out, nil
}
