package port

import (
	"context"
	"io"

	"github.com/lmplayground/model-store/internal/domain"
)

// OctetStream is the content type used for every asset write
const OctetStream = "application/octet-stream"

// StorageEntry is one entry of a storage listing
type StorageEntry struct {
	Name      string
	SizeBytes int64
	Handle    string
}

// StorageUsage reports capacity of a storage location
type StorageUsage struct {
	TotalBytes     int64
	AvailableBytes int64
}

// StorageBackend is the storage abstraction of one storage location
type StorageBackend interface {
	// Location returns the location this backend serves
	Location() domain.StorageLocation

	// List returns the entries of the location
	List(ctx context.Context) ([]StorageEntry, error)

	// OpenForRead opens an entry by the handle returned from List
	OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error)

	// OpenForWrite creates name. The content becomes visible on a successful
	// Close. Callers delete an existing entry of the same name first.
	OpenForWrite(ctx context.Context, name, mime string) (io.WriteCloser, error)

	// Delete removes name. Deleting an absent entry is not an error.
	Delete(ctx context.Context, name string) error

	// UsageStats returns capacity information
	UsageStats(ctx context.Context) (StorageUsage, error)
}

// LocalPather is implemented by backends whose entries are local files
type LocalPather interface {
	LocalPath(name string) string
}

// BackendResolver turns a location into a backend. Resolving does not
// touch the storage; access failures surface from backend calls.
type BackendResolver interface {
	Resolve(ctx context.Context, loc domain.StorageLocation) (StorageBackend, error)
}

// LegacySource is the read-only legacy downloads directory
type LegacySource interface {
	// List returns plain files in the directory
	List(ctx context.Context) ([]StorageEntry, error)

	// Open opens a file by name
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// ConfigStore persists single-key settings
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}
