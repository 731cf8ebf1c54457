package port

import (
	"context"

	"github.com/lmplayground/model-store/internal/domain"
)

// DownloadSubsystem performs the actual transfers into the staging area.
// Task ids are assigned by the subsystem and are never reused.
type DownloadSubsystem interface {
	// Enqueue requests a transfer of locator, saved under destinationHint in
	// the staging area.
	Enqueue(ctx context.Context, locator, destinationHint string) (int64, error)

	// Query returns the state of one transfer, or nil when the subsystem no
	// longer knows the id.
	Query(ctx context.Context, taskID int64) (*domain.DownloadInfo, error)

	// QueryAllActive returns every non-terminal transfer
	QueryAllActive(ctx context.Context) ([]domain.DownloadInfo, error)

	// Remove stops and forgets a transfer. Removing an unknown id is not an error.
	Remove(ctx context.Context, taskID int64) error

	// Subscribe registers ch for completion signals; each terminal transition
	// sends the task id once.
	Subscribe(ch chan<- int64)

	// Unsubscribe stops delivery to ch
	Unsubscribe(ch chan<- int64)
}

// StagingArea gives access to files the download subsystem has written
type StagingArea interface {
	// Open opens a staged file for reading. Returns domain.ErrNotFound when absent.
	Open(filename string) (StagedFile, error)

	// Remove deletes the staged file and any partial transfer for it.
	// Removing an absent file is not an error.
	Remove(filename string) error

	// Exists reports whether a completed staged file exists
	Exists(filename string) bool

	// Path returns the local path a staged file lives at
	Path(filename string) string
}

// StagedFile is an open staged file with a known size
type StagedFile interface {
	Read(p []byte) (int, error)
	Close() error
	Size() int64
}
