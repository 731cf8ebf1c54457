package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/adapter/filesystem"
	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/domain/event/eventtest"
	"github.com/lmplayground/model-store/internal/port"
	"github.com/lmplayground/model-store/internal/service/catalog"
)

const (
	modelID      = "m"
	modelFile    = "m.gguf"
	modelLocator = "https://example.com/m.gguf"
)

// fakeDownloads is an in-memory download subsystem
type fakeDownloads struct {
	mu           sync.Mutex
	next         int64
	records      map[int64]*domain.DownloadInfo
	subs         []chan<- int64
	removed      []int64
	keepOnRemove bool
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{records: make(map[int64]*domain.DownloadInfo)}
}

func (f *fakeDownloads) Enqueue(ctx context.Context, locator, hint string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.records[f.next] = &domain.DownloadInfo{TaskID: f.next, Locator: locator, Filename: hint, Status: domain.DownloadPending}
	return f.next, nil
}

func (f *fakeDownloads) Query(ctx context.Context, id int64) (*domain.DownloadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDownloads) QueryAllActive(ctx context.Context) ([]domain.DownloadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DownloadInfo
	for _, rec := range f.records {
		if rec.Status.IsPollable() {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeDownloads) Remove(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	if !f.keepOnRemove {
		delete(f.records, id)
	}
	return nil
}

func (f *fakeDownloads) Subscribe(ch chan<- int64) {
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
}

func (f *fakeDownloads) Unsubscribe(ch chan<- int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == ch {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

func (f *fakeDownloads) set(id int64, status domain.DownloadStatus, dl, total int64, reason domain.FailureReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[id]
	rec.Status = status
	rec.BytesDownloaded = dl
	rec.BytesTotal = total
	rec.Reason = reason
}

func (f *fakeDownloads) add(info domain.DownloadInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info.TaskID > f.next {
		f.next = info.TaskID
	}
	f.records[info.TaskID] = &info
}

func (f *fakeDownloads) drop(id int64) {
	f.mu.Lock()
	delete(f.records, id)
	f.mu.Unlock()
}

func (f *fakeDownloads) signal(id int64) {
	f.mu.Lock()
	subs := append([]chan<- int64(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- id
	}
}

// countingBackend counts writes reaching the storage
type countingBackend struct {
	port.StorageBackend
	writes atomic.Int32
}

func (b *countingBackend) OpenForWrite(ctx context.Context, name, mime string) (io.WriteCloser, error) {
	b.writes.Add(1)
	return b.StorageBackend.OpenForWrite(ctx, name, mime)
}

type fakeStorage struct {
	mu      sync.Mutex
	backend port.StorageBackend
}

func (s *fakeStorage) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend != nil
}

func (s *fakeStorage) Backend(ctx context.Context) (port.StorageBackend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil, domain.ErrNotConfigured
	}
	return s.backend, nil
}

type harness struct {
	orch      *Orchestrator
	downloads *fakeDownloads
	staging   *filesystem.Staging
	storage   *fakeStorage
	backend   *countingBackend
	storeDir   string
	dispatcher *event.InMemoryDispatcher
	recorder   *eventtest.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	staging, err := filesystem.NewStaging(filepath.Join(t.TempDir(), "staging"), 0)
	require.NoError(t, err)

	storeDir := t.TempDir()
	loc, err := domain.ParseStorageLocation(storeDir)
	require.NoError(t, err)
	local, err := filesystem.NewLocalBackend(loc)
	require.NoError(t, err)
	backend := &countingBackend{StorageBackend: local}

	cat, err := catalog.New([]domain.AssetDescriptor{
		{ID: modelID, Name: "Model M", Filename: modelFile, RemoteLocator: modelLocator},
		{ID: "n", Name: "Model N", Filename: "n.gguf", RemoteLocator: "https://example.com/n.gguf"},
	})
	require.NoError(t, err)

	dispatcher := event.NewInMemoryDispatcher(false, nil)
	recorder := &eventtest.Recorder{}
	dispatcher.Subscribe(recorder)

	downloads := newFakeDownloads()
	storage := &fakeStorage{backend: backend}
	cfg := &Config{PollInterval: 5 * time.Millisecond, CopyBufferSize: 4}
	orch := New(cfg, downloads, staging, storage, cat, dispatcher, zap.NewNop())

	return &harness{
		orch:      orch,
		downloads: downloads,
		staging:   staging,
		storage:   storage,
		backend:   backend,
		storeDir:   storeDir,
		dispatcher: dispatcher,
		recorder:   recorder,
	}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		return h.orch.ctx != nil
	}, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) stage(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.staging.Path(modelFile), []byte(content), 0644))
}

func (h *harness) taskID(t *testing.T) int64 {
	t.Helper()
	p, ok := h.orch.ActiveDownloads()[modelID]
	require.True(t, ok)
	return p.TaskID
}

func (h *harness) waitInactive(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.orch.IsActive(modelID)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDownloadLifecycle(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)

	h.downloads.set(id, domain.DownloadRunning, 50, 100, "")
	require.Eventually(t, func() bool {
		return h.orch.ActiveDownloads()[modelID].Progress == 0.5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Downloading 50%", h.orch.ActiveDownloads()[modelID].StatusText)

	h.stage(t, "0123456789")
	h.downloads.set(id, domain.DownloadSucceeded, 10, 10, "")
	h.downloads.signal(id)

	h.waitInactive(t)
	data, err := os.ReadFile(filepath.Join(h.storeDir, modelFile))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.False(t, h.staging.Exists(modelFile))
	assert.Len(t, h.recorder.Named(event.NameDownloadFinalized), 1)
	assert.Contains(t, h.downloads.removed, id)
}

func TestStartDownload_Preconditions(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.orch.StartDownload(ctx, "unknown"), domain.ErrNotFound)

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	assert.ErrorIs(t, h.orch.StartDownload(ctx, modelID), domain.ErrAlreadyActive)
	assert.Len(t, h.orch.ActiveDownloads(), 1)

	h.storage.mu.Lock()
	h.storage.backend = nil
	h.storage.mu.Unlock()
	assert.ErrorIs(t, h.orch.StartDownload(ctx, "n"), domain.ErrNotConfigured)
}

func TestCancel_NeverResurrected(t *testing.T) {
	h := newHarness(t)
	h.downloads.keepOnRemove = true
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)
	h.downloads.set(id, domain.DownloadRunning, 10, 100, "")
	require.NoError(t, os.WriteFile(h.staging.PartialPath(modelFile), []byte("partial"), 0644))

	require.NoError(t, h.orch.CancelDownload(ctx, modelID))
	assert.False(t, h.orch.IsActive(modelID))
	assert.NoFileExists(t, h.staging.PartialPath(modelFile))

	// The subsystem still reports the transfer for a while
	h.orch.sync(ctx)
	h.orch.sync(ctx)
	assert.False(t, h.orch.IsActive(modelID))
	assert.Empty(t, h.recorder.Named(event.NameDownloadStarted)[1:], "no adoption of a cancelled transfer")

	cancelled := h.recorder.Named(event.NameDownloadCancelled)
	require.Len(t, cancelled, 1)
	assert.Empty(t, cancelled[0].(event.Notice).Message(), "user cancellation is silent")

	assert.NoError(t, h.orch.CancelDownload(ctx, modelID), "cancel is idempotent")
}

func TestExternalCancellation(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)
	require.NoError(t, os.WriteFile(h.staging.PartialPath(modelFile), []byte("partial"), 0644))

	h.downloads.drop(id)
	h.waitInactive(t)

	require.Eventually(t, func() bool {
		return len(h.recorder.Named(event.NameDownloadCancelled)) == 1
	}, time.Second, 5*time.Millisecond)
	ev := h.recorder.Named(event.NameDownloadCancelled)[0].(event.DownloadCancelled)
	assert.Equal(t, "Model M: Download cancelled", ev.Message())
	assert.NoFileExists(t, h.staging.PartialPath(modelFile))
}

func TestFailure_InsufficientSpace(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)
	require.NoError(t, os.WriteFile(h.staging.PartialPath(modelFile), []byte("partial"), 0644))

	h.downloads.set(id, domain.DownloadFailed, 7, 100, domain.FailureInsufficientSpace)
	h.downloads.signal(id)
	h.waitInactive(t)

	assert.NoFileExists(t, h.staging.PartialPath(modelFile))
	assert.NoFileExists(t, filepath.Join(h.storeDir, modelFile))

	failed := h.recorder.Named(event.NameDownloadFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "Model M: Insufficient storage space", failed[0].(event.Notice).Message())
}

func TestFinalize_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.run(t)

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)
	h.stage(t, "payload")
	h.downloads.set(id, domain.DownloadSucceeded, 7, 7, "")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.handleSignal(ctx, id)
		}()
	}
	wg.Wait()
	h.waitInactive(t)

	assert.Equal(t, int32(1), h.backend.writes.Load())
	assert.Len(t, h.recorder.Named(event.NameDownloadFinalized), 1)
}

func TestFinalize_StorageUnavailableKeepsStagedFile(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)
	h.stage(t, "payload")
	require.NoError(t, os.RemoveAll(h.storeDir))

	h.downloads.set(id, domain.DownloadSucceeded, 7, 7, "")
	h.downloads.signal(id)

	require.Eventually(t, func() bool {
		return h.orch.ActiveDownloads()[modelID].Status == domain.DownloadFinalizeFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.staging.Exists(modelFile))
	assert.Equal(t, domain.IndeterminateProgress, h.orch.ActiveDownloads()[modelID].Progress)

	ff := h.recorder.Named(event.NameDownloadFinalizeFailed)
	require.Len(t, ff, 1)
	assert.Equal(t, "Model M: Cannot access storage folder", ff[0].(event.Notice).Message())

	// Polling does not treat the waiting task as cancelled
	h.orch.sync(ctx)
	assert.True(t, h.orch.IsActive(modelID))

	require.NoError(t, os.MkdirAll(h.storeDir, 0755))
	require.NoError(t, h.orch.StartDownload(ctx, modelID))

	assert.False(t, h.orch.IsActive(modelID))
	assert.FileExists(t, filepath.Join(h.storeDir, modelFile))
	assert.False(t, h.staging.Exists(modelFile))
}

func TestFinalize_RetriedOnLocationChange(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	h.storage.mu.Lock()
	saved := h.storage.backend
	h.storage.backend = nil
	h.storage.mu.Unlock()

	// Tasks adopted before configuration still finalize once storage exists
	h.downloads.add(domain.DownloadInfo{TaskID: 42, Locator: modelLocator, Filename: modelFile, Status: domain.DownloadRunning})
	h.orch.sync(ctx)
	require.True(t, h.orch.IsActive(modelID))

	h.stage(t, "payload")
	h.downloads.set(42, domain.DownloadSucceeded, 7, 7, "")
	h.orch.handleSignal(ctx, 42)

	ff := h.recorder.Named(event.NameDownloadFinalizeFailed)
	require.Len(t, ff, 1)
	assert.Equal(t, "Storage not configured", ff[0].(event.DownloadFinalizeFailed).Reason)

	h.storage.mu.Lock()
	h.storage.backend = saved
	h.storage.mu.Unlock()
	h.dispatcher.Dispatch(event.NewLocationChanged(domain.StorageLocation{}, saved.Location()))

	h.waitInactive(t)
	assert.FileExists(t, filepath.Join(h.storeDir, modelFile))
}

func TestAdoptsUntrackedDownloads(t *testing.T) {
	h := newHarness(t)
	h.downloads.add(domain.DownloadInfo{TaskID: 7, Locator: modelLocator, Filename: modelFile, Status: domain.DownloadPaused})
	h.downloads.add(domain.DownloadInfo{TaskID: 8, Locator: "https://elsewhere/x.bin", Filename: "x.bin", Status: domain.DownloadRunning})
	h.run(t)

	require.Eventually(t, func() bool { return h.orch.IsActive(modelID) }, time.Second, 5*time.Millisecond)
	p := h.orch.ActiveDownloads()[modelID]
	assert.Equal(t, int64(7), p.TaskID)
	assert.Equal(t, "Paused", p.StatusText)
	assert.Len(t, h.orch.ActiveDownloads(), 1)

	started := h.recorder.Named(event.NameDownloadStarted)
	require.Len(t, started, 1)
	assert.True(t, started[0].(event.DownloadStarted).Adopted)
}

func TestPollLoopStopsWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	require.NoError(t, h.orch.CancelDownload(ctx, modelID))

	require.Eventually(t, func() bool {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		return !h.orch.polling
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	h.orch.mu.Lock()
	polling := h.orch.polling
	h.orch.mu.Unlock()
	assert.True(t, polling, "next start restarts the loop")
}

func TestRetryableErrorFromFinalize(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StartDownload(ctx, modelID))
	id := h.taskID(t)
	h.stage(t, "payload")
	require.NoError(t, os.RemoveAll(h.storeDir))
	h.downloads.set(id, domain.DownloadSucceeded, 7, 7, "")
	h.orch.handleSignal(ctx, id)

	err := h.orch.StartDownload(ctx, modelID)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))
}
