package repository

import (
	"context"
	"time"

	"github.com/lmplayground/model-store/internal/domain"
)

// DownloadRecordRepository defines the persistent queue of the download subsystem
type DownloadRecordRepository interface {
	// CreateRecord inserts a new pending record and assigns its ID
	CreateRecord(ctx context.Context, rec *domain.DownloadRecord) error

	// ClaimNext atomically claims the oldest claimable record for a worker.
	// Pending records and paused records whose next_retry_at has passed are
	// claimable. Returns nil if nothing is available.
	ClaimNext(ctx context.Context, workerID string) (*domain.DownloadRecord, error)

	// GetRecord retrieves a record by ID. Returns domain.ErrNotFound if absent.
	GetRecord(ctx context.Context, id int64) (*domain.DownloadRecord, error)

	// ListActive returns pending, running and paused records
	ListActive(ctx context.Context) ([]*domain.DownloadRecord, error)

	// UpdateRecord persists a record's state
	UpdateRecord(ctx context.Context, rec *domain.DownloadRecord) error

	// UpdateProgress persists transfer progress only
	UpdateProgress(ctx context.Context, id int64, downloaded, total int64) error

	// DeleteRecord removes a record by ID
	DeleteRecord(ctx context.Context, id int64) error

	// ReleaseStaleRunning resets running records not updated within staleDuration
	ReleaseStaleRunning(ctx context.Context, staleDuration time.Duration) (int, error)

	// CleanupFinished removes failed and succeeded records older than the given duration
	CleanupFinished(ctx context.Context, olderThan time.Duration) (int, error)

	// GetQueueStats returns queue statistics
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)
}
