package domain

import "time"

// Default retry backoffs for transient transfer failures
var defaultRetryBackoffs = []time.Duration{
	10 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
}

// DownloadRecord is a row in the download subsystem's persistent queue
type DownloadRecord struct {
	ID       int64
	Locator  string
	Filename string

	// State
	Status   DownloadStatus
	WorkerID string
	Reason   FailureReason

	// Resume support
	BytesDownloaded int64
	BytesTotal      int64

	// Retry handling
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	LastError   string

	// Timestamps
	CreatedAt time.Time
	ClaimedAt *time.Time
	UpdatedAt time.Time
}

// CanRetry returns true if the record can be retried
func (r *DownloadRecord) CanRetry() bool {
	return r.RetryCount < r.MaxRetries
}

// MarkFailed records a transfer failure.
// Transient failures with retries left pause the record with backoff;
// everything else is final.
func (r *DownloadRecord) MarkFailed(reason FailureReason, err string) {
	r.LastError = err
	r.WorkerID = ""
	r.ClaimedAt = nil

	if reason.Transient() && r.CanRetry() {
		r.RetryCount++
		r.Status = DownloadPaused
		backoffIdx := r.RetryCount - 1
		if backoffIdx >= len(defaultRetryBackoffs) {
			backoffIdx = len(defaultRetryBackoffs) - 1
		}
		nextRetry := time.Now().Add(defaultRetryBackoffs[backoffIdx])
		r.NextRetryAt = &nextRetry
		return
	}

	r.Status = DownloadFailed
	r.Reason = reason
	r.NextRetryAt = nil
}

// Claim marks the record as claimed by a worker
func (r *DownloadRecord) Claim(workerID string) {
	r.Status = DownloadRunning
	r.WorkerID = workerID
	now := time.Now()
	r.ClaimedAt = &now
	r.NextRetryAt = nil
}

// MarkSucceeded marks the transfer complete
func (r *DownloadRecord) MarkSucceeded(total int64) {
	r.Status = DownloadSucceeded
	r.BytesDownloaded = total
	r.BytesTotal = total
	r.WorkerID = ""
	r.LastError = ""
	r.Reason = ""
}

// UpdateProgress updates the transfer progress
func (r *DownloadRecord) UpdateProgress(bytesDownloaded, bytesTotal int64) {
	r.BytesDownloaded = bytesDownloaded
	if bytesTotal > 0 {
		r.BytesTotal = bytesTotal
	}
}

// ResetForRetry returns the record to the queue for a fresh attempt
func (r *DownloadRecord) ResetForRetry() {
	r.Status = DownloadPending
	r.WorkerID = ""
	r.ClaimedAt = nil
	r.NextRetryAt = nil
}

// Info projects the record onto the port-level view
func (r *DownloadRecord) Info() DownloadInfo {
	return DownloadInfo{
		TaskID:          r.ID,
		Locator:         r.Locator,
		Filename:        r.Filename,
		Status:          r.Status,
		BytesDownloaded: r.BytesDownloaded,
		BytesTotal:      r.BytesTotal,
		Reason:          r.Reason,
	}
}

// DownloadInfo is what the download subsystem reports about one transfer
type DownloadInfo struct {
	TaskID          int64
	Locator         string
	Filename        string
	Status          DownloadStatus
	BytesDownloaded int64
	BytesTotal      int64
	Reason          FailureReason
}

// DownloadResult describes a finished transfer into the staging area
type DownloadResult struct {
	// StagedPath is the local path where the file was saved
	StagedPath string

	// BytesWritten is the total bytes written during this attempt
	BytesWritten int64

	// Resumed indicates whether the transfer continued a previous attempt
	Resumed bool

	// ResumedFrom is the byte position from which the transfer was resumed
	ResumedFrom int64
}

// QueueStats summarizes the download queue
type QueueStats struct {
	PendingCount int
	RunningCount int
	PausedCount  int
	FailedCount  int
}
