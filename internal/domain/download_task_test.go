package domain

import (
	"testing"
)

func TestDownloadTask_Progress(t *testing.T) {
	tests := []struct {
		name       string
		status     DownloadStatus
		downloaded int64
		total      int64
		want       float64
	}{
		{name: "half done", status: DownloadRunning, downloaded: 50, total: 100, want: 0.5},
		{name: "unknown total", status: DownloadRunning, downloaded: 50, total: 0, want: IndeterminateProgress},
		{name: "paused", status: DownloadPaused, downloaded: 50, total: 100, want: IndeterminateProgress},
		{name: "finalizing", status: DownloadFinalizing, downloaded: 100, total: 100, want: IndeterminateProgress},
		{name: "overshoot clamps", status: DownloadRunning, downloaded: 120, total: 100, want: 1},
		{name: "pending", status: DownloadPending, downloaded: 0, total: 100, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &DownloadTask{Status: tt.status, BytesDownloaded: tt.downloaded, BytesTotal: tt.total}
			if got := task.Progress(); got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownloadTask_StatusText(t *testing.T) {
	tests := []struct {
		name string
		task DownloadTask
		want string
	}{
		{name: "not yet enqueued", task: DownloadTask{Status: DownloadPending}, want: "Starting download..."},
		{name: "queued", task: DownloadTask{TaskID: 3, Status: DownloadPending}, want: "Pending..."},
		{name: "running", task: DownloadTask{TaskID: 3, Status: DownloadRunning, BytesDownloaded: 25, BytesTotal: 100}, want: "Downloading 25%"},
		{name: "running unknown size", task: DownloadTask{TaskID: 3, Status: DownloadRunning}, want: "Downloading..."},
		{name: "paused", task: DownloadTask{TaskID: 3, Status: DownloadPaused}, want: "Paused"},
		{name: "finalizing", task: DownloadTask{TaskID: 3, Status: DownloadFinalizing}, want: "Moving to storage..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.StatusText(); got != tt.want {
				t.Errorf("StatusText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDownloadTask_ApplyUpdate(t *testing.T) {
	task := NewDownloadTask(AssetDescriptor{ID: "m", Filename: "m.gguf", RemoteLocator: "https://x/m.gguf"})

	if !task.ApplyUpdate(DownloadRunning, 10, 100) {
		t.Fatal("first update should report a change")
	}
	if task.ApplyUpdate(DownloadRunning, 10, 100) {
		t.Error("identical update should not report a change")
	}

	if err := task.BeginFinalize(); err != nil {
		t.Fatalf("BeginFinalize() error = %v", err)
	}
	if task.ApplyUpdate(DownloadRunning, 20, 100) {
		t.Error("finalizing task must ignore poll updates")
	}
	if err := task.BeginFinalize(); err != ErrInvalidStateTransition {
		t.Errorf("second BeginFinalize() error = %v, want %v", err, ErrInvalidStateTransition)
	}
}

func TestDownloadRecord_MarkFailed(t *testing.T) {
	r := &DownloadRecord{Status: DownloadRunning, MaxRetries: 2, WorkerID: "w1"}

	r.MarkFailed(FailureNetworkError, "connection reset")
	if r.Status != DownloadPaused || r.NextRetryAt == nil || r.RetryCount != 1 {
		t.Fatalf("transient failure: status=%s next=%v retries=%d", r.Status, r.NextRetryAt, r.RetryCount)
	}
	if r.WorkerID != "" {
		t.Error("worker should be released")
	}

	r.MarkFailed(FailureNetworkError, "connection reset")
	r.MarkFailed(FailureNetworkError, "connection reset")
	if r.Status != DownloadFailed || r.Reason != FailureNetworkError {
		t.Errorf("exhausted retries: status=%s reason=%s", r.Status, r.Reason)
	}

	r2 := &DownloadRecord{Status: DownloadRunning, MaxRetries: 5}
	r2.MarkFailed(FailureInsufficientSpace, "disk full")
	if r2.Status != DownloadFailed || r2.RetryCount != 0 {
		t.Errorf("non-transient failure should be final: status=%s retries=%d", r2.Status, r2.RetryCount)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		reason  FailureReason
		message string
		err     error
	}{
		{FailureNetworkError, "Network data error", ErrNetworkError},
		{FailureInsufficientSpace, "Insufficient storage space", ErrInsufficientSpace},
		{FailureFileConflict, "File already exists", ErrConflict},
		{FailureTooManyRedirects, "Too many redirects", ErrNetworkError},
		{FailureDeviceUnavailable, "Storage device not found", ErrAccessDenied},
		{FailureUnknown, "Download failed", ErrUnknown},
		{ParseFailureReason("garbage"), "Download failed", ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.Message(); got != tt.message {
				t.Errorf("Message() = %q, want %q", got, tt.message)
			}
			if got := tt.reason.Err(); got != tt.err {
				t.Errorf("Err() = %v, want %v", got, tt.err)
			}
		})
	}
}

func TestMigrationResult_Message(t *testing.T) {
	if got := (MigrationResult{SuccessCount: 2}).Message(); got != "Migrated 2 model(s)" {
		t.Errorf("Message() = %q", got)
	}
	if got := (MigrationResult{SuccessCount: 1, FailCount: 1}).Message(); got != "Migrated 1, failed 1 model(s)" {
		t.Errorf("Message() = %q", got)
	}
}
