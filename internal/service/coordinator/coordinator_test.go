package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/adapter/filesystem"
	"github.com/lmplayground/model-store/internal/adapter/location"
	"github.com/lmplayground/model-store/internal/adapter/sqlite"
	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/service/catalog"
	"github.com/lmplayground/model-store/internal/service/migration"
	"github.com/lmplayground/model-store/internal/service/registry"
)

// fakeDownloads records commands and reports a fixed active set
type fakeDownloads struct {
	mu      sync.Mutex
	started []string
	active  map[string]domain.DownloadProgress
	err     error
}

func (d *fakeDownloads) StartDownload(ctx context.Context, assetID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.started = append(d.started, assetID)
	d.active[assetID] = domain.DownloadProgress{AssetID: assetID, Status: domain.DownloadPending, StatusText: "Pending"}
	return nil
}

func (d *fakeDownloads) CancelDownload(ctx context.Context, assetID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, assetID)
	return nil
}

func (d *fakeDownloads) ActiveDownloads() map[string]domain.DownloadProgress {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]domain.DownloadProgress, len(d.active))
	for k, v := range d.active {
		out[k] = v
	}
	return out
}

type fixture struct {
	coord      *Coordinator
	registry   *registry.Registry
	downloads  *fakeDownloads
	dispatcher *event.InMemoryDispatcher
	legacy     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.New([]domain.AssetDescriptor{
		{ID: "m", Name: "Model M", Filename: "m.gguf", RemoteLocator: "https://example.com/m.gguf"},
		{ID: "old", Name: "Old", Filename: "old.gguf", RemoteLocator: "https://example.com/old.gguf", Obsolete: true},
	})
	require.NoError(t, err)

	dispatcher := event.NewInMemoryDispatcher(false, nil)
	reg := registry.New(sqlite.NewConfigStore(store), location.NewResolver(nil, t.TempDir()), dispatcher, zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))

	legacy := t.TempDir()
	engine := migration.New(nil, reg, filesystem.NewLegacyDir(legacy), cat, dispatcher, zap.NewNop())
	downloads := &fakeDownloads{active: map[string]domain.DownloadProgress{}}

	coord := New(reg, cat, downloads, engine, dispatcher, zap.NewNop())
	return &fixture{coord: coord, registry: reg, downloads: downloads, dispatcher: dispatcher, legacy: legacy}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		f.coord.runMu.Lock()
		defer f.coord.runMu.Unlock()
		return f.coord.ctx != nil
	}, time.Second, 5*time.Millisecond)
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestCoordinator_InitialState(t *testing.T) {
	f := newFixture(t)
	s := f.coord.Snapshot()

	assert.False(t, s.IsConfigured)
	assert.Empty(t, s.Stored)
	require.Len(t, s.Catalog, 1, "obsolete entries hidden when absent")
	assert.Equal(t, "m", s.Catalog[0].Descriptor.ID)
	assert.Equal(t, domain.MigrationIdle, s.MigrationState)
}

func TestCoordinator_LocationChangeWithoutAssetsAppliesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	write(t, dir, "m.gguf", "bytes")
	write(t, dir, "old.gguf", "bytes")
	write(t, dir, "notes.txt", "x")

	plan, err := f.coord.RequestLocationChange(ctx, dir)
	require.NoError(t, err)
	assert.Nil(t, plan)

	s := f.coord.Snapshot()
	assert.True(t, s.IsConfigured)
	assert.Empty(t, s.StorageError)
	require.Len(t, s.Stored, 2)
	assert.True(t, s.IsDownloaded("m"))
	assert.True(t, s.IsDownloaded("old"), "obsolete entries shown when present")
	require.NotNil(t, s.Usage)
	assert.Equal(t, int64(10), s.Usage.UsedBytes)
}

func TestCoordinator_InvalidLocation(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.RequestLocationChange(context.Background(), "ftp://nowhere")
	assert.ErrorIs(t, err, domain.ErrInvalidLocation)
}

func TestCoordinator_ConfirmMigration(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	ctx := context.Background()
	write(t, f.legacy, "m.gguf", "legacy")
	dest := t.TempDir()

	assert.ErrorIs(t, f.coord.ConfirmMigration(), domain.ErrNoPendingMigration)

	plan, err := f.coord.RequestLocationChange(ctx, dest)
	require.NoError(t, err)
	require.NotNil(t, plan)

	s := f.coord.Snapshot()
	assert.Equal(t, domain.MigrationPlanProposed, s.MigrationState)
	require.NotNil(t, s.PendingMigration)
	assert.True(t, s.PendingMigration.IsFromLegacyDefault)

	require.NoError(t, f.coord.ConfirmMigration())
	require.Eventually(t, func() bool {
		s := f.coord.Snapshot()
		return s.IsConfigured && s.MigrationState == domain.MigrationIdle
	}, 2*time.Second, 10*time.Millisecond)

	s = f.coord.Snapshot()
	assert.Nil(t, s.PendingMigration)
	assert.Nil(t, s.MigrationProgress)
	assert.True(t, s.IsDownloaded("m"))
	assert.Contains(t, s.Notice, "1")

	data, err := os.ReadFile(filepath.Join(dest, "m.gguf"))
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(data))
}

func TestCoordinator_SkipAndCancelMigration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	write(t, f.legacy, "m.gguf", "legacy")

	_, err := f.coord.RequestLocationChange(ctx, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, f.coord.CancelMigration(ctx))
	s := f.coord.Snapshot()
	assert.False(t, s.IsConfigured)
	assert.Nil(t, s.PendingMigration)

	assert.ErrorIs(t, f.coord.SkipMigration(ctx), domain.ErrNoPendingMigration)

	dest := t.TempDir()
	_, err = f.coord.RequestLocationChange(ctx, dest)
	require.NoError(t, err)
	require.NoError(t, f.coord.SkipMigration(ctx))

	s = f.coord.Snapshot()
	assert.True(t, s.IsConfigured)
	assert.False(t, s.IsDownloaded("m"))
	assert.NoFileExists(t, filepath.Join(dest, "m.gguf"))
}

func TestCoordinator_DeleteAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	write(t, dir, "m.gguf", "bytes")
	_, err := f.coord.RequestLocationChange(ctx, dir)
	require.NoError(t, err)
	require.True(t, f.coord.Snapshot().IsDownloaded("m"))

	require.NoError(t, f.coord.DeleteAsset(ctx, "m.gguf"))
	assert.False(t, f.coord.Snapshot().IsDownloaded("m"))
	assert.ErrorIs(t, f.coord.DeleteAsset(ctx, "m.gguf"), domain.ErrNotFound)
}

func TestCoordinator_OpenAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	write(t, dir, "m.gguf", "bytes")
	_, err := f.coord.RequestLocationChange(ctx, dir)
	require.NoError(t, err)

	h, err := f.coord.OpenAsset(ctx, "m.gguf")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, int64(5), h.Size())
}

func TestCoordinator_DownloadEventsUpdateSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.StartDownload(ctx, "m"))
	f.dispatcher.Dispatch(event.NewDownloadStarted("m", 1, "https://example.com/m.gguf", false))

	s := f.coord.Snapshot()
	require.Contains(t, s.ActiveDownloads, "m")
	assert.Equal(t, "Pending", s.ActiveDownloads["m"].StatusText)

	require.NoError(t, f.coord.CancelDownload(ctx, "m"))
	f.dispatcher.Dispatch(event.NewDownloadCancelled([]string{"m"}, []string{"Model M"}, true))

	s = f.coord.Snapshot()
	assert.Empty(t, s.ActiveDownloads)
	assert.NotEmpty(t, s.Notice)

	f.coord.DismissNotice()
	assert.Empty(t, f.coord.Snapshot().Notice)
}

func TestCoordinator_StartDownloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{
			name:    "finalize retry still waiting",
			err:     domain.NewRetryableError(fmt.Errorf("finalize m.gguf: %w", domain.ErrAccessDenied)),
			wantErr: nil,
		},
		{
			name:    "already active",
			err:     fmt.Errorf("asset %q: %w", "m", domain.ErrAlreadyActive),
			wantErr: domain.ErrAlreadyActive,
		},
		{
			name:    "not configured",
			err:     domain.ErrNotConfigured,
			wantErr: domain.ErrNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.downloads.err = tt.err

			err := f.coord.StartDownload(context.Background(), "m")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCoordinator_Subscribe(t *testing.T) {
	f := newFixture(t)
	ch, unsubscribe := f.coord.Subscribe()

	first := <-ch
	assert.Equal(t, f.coord.Snapshot().Version, first.Version)

	// Two publishes without a read leave only the latest value buffered
	f.coord.DismissNotice()
	f.coord.DismissNotice()
	latest := <-ch
	assert.Equal(t, first.Version+2, latest.Version)

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
}
