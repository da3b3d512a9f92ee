// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/OCAP2/markers/internal/api"
	"github.com/OCAP2/markers/internal/profile"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveThread stores one thread together with its derived markers.
	// Backends must accept concurrent calls.
	SaveThread(ctx context.Context, r profile.ThreadResult) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the viewer server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() api.UploadMetadata
}
