package domain

import (
	"fmt"
	"time"
)

// DownloadStatus is the lifecycle state of a download
type DownloadStatus string

// Download status constants. Finalizing and FinalizeFailed are orchestrator
// sub-states that the download subsystem never reports.
const (
	DownloadPending        DownloadStatus = "pending"
	DownloadRunning        DownloadStatus = "running"
	DownloadPaused         DownloadStatus = "paused"
	DownloadSucceeded      DownloadStatus = "succeeded"
	DownloadFailed         DownloadStatus = "failed"
	DownloadCancelled      DownloadStatus = "cancelled"
	DownloadFinalizing     DownloadStatus = "finalizing"
	DownloadFinalizeFailed DownloadStatus = "finalize_failed"
)

// IndeterminateProgress is reported when the total size is unknown or the
// task is in a state without meaningful byte progress.
const IndeterminateProgress = -1.0

// IsTerminal returns true when the subsystem will not change the status again
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadSucceeded || s == DownloadFailed || s == DownloadCancelled
}

// IsPollable returns true when the subsystem still owns the transfer
func (s DownloadStatus) IsPollable() bool {
	return s == DownloadPending || s == DownloadRunning || s == DownloadPaused
}

// DownloadTask is the orchestrator's bookkeeping for one asset download
type DownloadTask struct {
	TaskID   int64
	AssetID  string
	Name     string
	Locator  string
	Filename string

	Status          DownloadStatus
	BytesDownloaded int64
	BytesTotal      int64
	LastError       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDownloadTask creates a pending task for an asset
func NewDownloadTask(desc AssetDescriptor) *DownloadTask {
	now := time.Now()
	return &DownloadTask{
		AssetID:   desc.ID,
		Name:      desc.Name,
		Locator:   desc.RemoteLocator,
		Filename:  desc.Filename,
		Status:    DownloadPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Progress returns the completed fraction in [0,1], or IndeterminateProgress
func (t *DownloadTask) Progress() float64 {
	switch t.Status {
	case DownloadPaused, DownloadFinalizing, DownloadFinalizeFailed:
		return IndeterminateProgress
	}
	if t.BytesTotal <= 0 {
		return IndeterminateProgress
	}
	p := float64(t.BytesDownloaded) / float64(t.BytesTotal)
	if p > 1 {
		p = 1
	}
	return p
}

// StatusText returns the human readable status line for the task
func (t *DownloadTask) StatusText() string {
	switch t.Status {
	case DownloadPending:
		if t.TaskID == 0 {
			return "Starting download..."
		}
		return "Pending..."
	case DownloadRunning:
		if t.BytesTotal > 0 {
			return fmt.Sprintf("Downloading %d%%", int(t.Progress()*100))
		}
		return "Downloading..."
	case DownloadPaused:
		return "Paused"
	case DownloadFinalizing:
		return "Moving to storage..."
	case DownloadFinalizeFailed:
		if t.LastError != "" {
			return "Waiting for storage: " + t.LastError
		}
		return "Waiting for storage"
	default:
		return "Downloading..."
	}
}

// ApplyUpdate copies externally observed state onto the task. It reports
// whether anything visible changed.
func (t *DownloadTask) ApplyUpdate(status DownloadStatus, downloaded, total int64) bool {
	if t.Status == DownloadFinalizing || t.Status == DownloadFinalizeFailed {
		return false
	}
	if t.Status == status && t.BytesDownloaded == downloaded && t.BytesTotal == total {
		return false
	}
	t.Status = status
	t.BytesDownloaded = downloaded
	t.BytesTotal = total
	t.UpdatedAt = time.Now()
	return true
}

// BeginFinalize moves the task into the non-interruptible finalizing state
func (t *DownloadTask) BeginFinalize() error {
	switch t.Status {
	case DownloadFinalizing:
		return ErrInvalidStateTransition
	}
	t.Status = DownloadFinalizing
	t.LastError = ""
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFinalizeFailed records a finalize failure. The staged file is kept.
func (t *DownloadTask) MarkFinalizeFailed(reason string) {
	t.Status = DownloadFinalizeFailed
	t.LastError = reason
	t.UpdatedAt = time.Now()
}

// Snapshot returns a copy safe to hand to readers
func (t *DownloadTask) Snapshot() DownloadProgress {
	return DownloadProgress{
		AssetID:         t.AssetID,
		TaskID:          t.TaskID,
		Name:            t.Name,
		Filename:        t.Filename,
		Status:          t.Status,
		Progress:        t.Progress(),
		StatusText:      t.StatusText(),
		BytesDownloaded: t.BytesDownloaded,
		BytesTotal:      t.BytesTotal,
	}
}

// DownloadProgress is the read-only projection of a task
type DownloadProgress struct {
	AssetID         string         `json:"asset_id"`
	TaskID          int64          `json:"task_id"`
	Name            string         `json:"name"`
	Filename        string         `json:"filename"`
	Status          DownloadStatus `json:"status"`
	Progress        float64        `json:"progress"`
	StatusText      string         `json:"status_text"`
	BytesDownloaded int64          `json:"bytes_downloaded"`
	BytesTotal      int64          `json:"bytes_total"`
}
