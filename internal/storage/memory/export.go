// internal/storage/memory/export.go
package memory

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/OCAP2/markers/internal/api"
	"github.com/OCAP2/markers/internal/codec"
)

// exportJSON writes the derived markers of all threads to a JSON file,
// gzipped when configured. Callers hold b.mu.
func (b *Backend) exportJSON() error {
	doc, err := b.buildExport()
	if err != nil {
		return err
	}

	name := strings.ReplaceAll(b.name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	if name == "" {
		name = "profile"
	}
	timestamp := b.startTime.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.derived.json", name, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := codec.WriteDerivedFile(outputPath, doc); err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() (*codec.DerivedDocument, error) {
	threads := b.sortedThreads()
	doc := &codec.DerivedDocument{
		Meta:    b.meta,
		Threads: make([]codec.DerivedThreadDoc, 0, len(threads)),
	}
	for _, r := range threads {
		td, err := codec.NewDerivedThread(r.Thread, r.Info)
		if err != nil {
			return nil, fmt.Errorf("error exporting thread %q: %w", r.Thread.Name, err)
		}
		doc.Threads = append(doc.Threads, td)
	}
	return doc, nil
}

// GetExportedFilePath returns the path of the last export.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata summarizes the exported profile for upload.
func (b *Backend) GetExportMetadata() api.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	meta := api.UploadMetadata{
		ProfileName: b.name,
		Product:     b.meta.Product,
		Threads:     len(b.threads),
	}
	var first, last float64
	seen := false
	for _, r := range b.threads {
		meta.Markers += r.Info.Len()
		for _, m := range r.Info.Markers {
			if !seen || m.Start < first {
				first = m.Start
			}
			if !seen || m.End() > last {
				last = m.End()
			}
			seen = true
		}
	}
	meta.Duration = last - first
	return meta
}
