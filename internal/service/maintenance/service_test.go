package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/adapter/filesystem"
)

// mockRecordJanitor implements RecordJanitor for testing
type mockRecordJanitor struct {
	mu                  sync.Mutex
	releaseStaleCount   int
	cleanupCount        int
	releaseStaleErr     error
	cleanupErr          error
	releaseStaleCalled  int
	cleanupCalled       int
	lastStaleDuration   time.Duration
	lastCleanupDuration time.Duration
}

func (m *mockRecordJanitor) ReleaseStaleRunning(ctx context.Context, staleDuration time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseStaleCalled++
	m.lastStaleDuration = staleDuration
	return m.releaseStaleCount, m.releaseStaleErr
}

func (m *mockRecordJanitor) CleanupFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalled++
	m.lastCleanupDuration = olderThan
	return m.cleanupCount, m.cleanupErr
}

func (m *mockRecordJanitor) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseStaleCalled, m.cleanupCalled
}

// run starts s and stops it after d
func run(t *testing.T, s *Service, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(d)
	cancel()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestService_New(t *testing.T) {
	logger := zap.NewNop()
	records := &mockRecordJanitor{}
	staging, err := filesystem.NewStaging(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	s := New(nil, records, staging, logger)
	if s.config.StaleRecordCheckInterval != time.Minute {
		t.Errorf("StaleRecordCheckInterval = %v, want %v", s.config.StaleRecordCheckInterval, time.Minute)
	}
	if s.config.PartialFileMaxAge != 7*24*time.Hour {
		t.Errorf("PartialFileMaxAge = %v, want %v", s.config.PartialFileMaxAge, 7*24*time.Hour)
	}

	// Zero fields fall back to defaults
	s = New(&Config{StaleRecordTimeout: 15 * time.Minute}, records, staging, logger)
	if s.config.StaleRecordTimeout != 15*time.Minute {
		t.Errorf("StaleRecordTimeout = %v, want %v", s.config.StaleRecordTimeout, 15*time.Minute)
	}
	if s.config.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", s.config.CleanupInterval, time.Hour)
	}
}

func TestService_ReleasesStaleRecords(t *testing.T) {
	records := &mockRecordJanitor{releaseStaleCount: 5}
	staging, err := filesystem.NewStaging(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &Config{
		StaleRecordCheckInterval: 10 * time.Millisecond,
		StaleRecordTimeout:       time.Minute,
		CleanupInterval:          time.Hour,
	}
	run(t, New(cfg, records, staging, zap.NewNop()), 50*time.Millisecond)

	released, cleaned := records.calls()
	if released == 0 {
		t.Error("ReleaseStaleRunning was not called")
	}
	if cleaned != 0 {
		t.Errorf("CleanupFinished called %d times, want 0", cleaned)
	}
	if records.lastStaleDuration != time.Minute {
		t.Errorf("stale duration = %v, want %v", records.lastStaleDuration, time.Minute)
	}
}

func TestService_CleansPartialTransfers(t *testing.T) {
	dir := t.TempDir()
	staging, err := filesystem.NewStaging(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	old := staging.PartialPath("old.gguf")
	fresh := staging.PartialPath("fresh.gguf")
	done := staging.Path("done.gguf")
	for _, p := range []string{old, fresh, done} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(done, past, past); err != nil {
		t.Fatal(err)
	}

	records := &mockRecordJanitor{cleanupCount: 3}
	cfg := &Config{
		StaleRecordCheckInterval: time.Hour,
		CleanupInterval:          10 * time.Millisecond,
		FinishedRecordMaxAge:     12 * time.Hour,
		PartialFileMaxAge:        time.Hour,
	}
	run(t, New(cfg, records, staging, zap.NewNop()), 50*time.Millisecond)

	if _, cleaned := records.calls(); cleaned == 0 {
		t.Error("CleanupFinished was not called")
	}
	if records.lastCleanupDuration != 12*time.Hour {
		t.Errorf("cleanup age = %v, want %v", records.lastCleanupDuration, 12*time.Hour)
	}

	tests := []struct {
		path   string
		exists bool
	}{
		{old, false},
		{fresh, true},
		{done, true},
	}
	for _, tt := range tests {
		_, err := os.Stat(tt.path)
		if got := err == nil; got != tt.exists {
			t.Errorf("%s exists = %v, want %v", filepath.Base(tt.path), got, tt.exists)
		}
	}
}

func TestService_DoubleStart(t *testing.T) {
	staging, err := filesystem.NewStaging(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	s := New(nil, &mockRecordJanitor{}, staging, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err == nil {
			t.Error("second Start() returned nil, want error")
		}
	case <-time.After(time.Second):
		t.Error("second Start() blocked")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StaleRecordTimeout != 30*time.Minute {
		t.Errorf("StaleRecordTimeout = %v, want %v", cfg.StaleRecordTimeout, 30*time.Minute)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", cfg.CleanupInterval, time.Hour)
	}
	if cfg.FinishedRecordMaxAge != 24*time.Hour {
		t.Errorf("FinishedRecordMaxAge = %v, want %v", cfg.FinishedRecordMaxAge, 24*time.Hour)
	}
}
