package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/port"
	"github.com/lmplayground/model-store/internal/service/catalog"
	"github.com/lmplayground/model-store/internal/service/registry"
)

// Storage is the location registry as used by the coordinator
type Storage interface {
	IsConfigured() bool
	Active() domain.StorageLocation
	ListStored(ctx context.Context) ([]port.StorageEntry, error)
	Usage(ctx context.Context) (registry.Usage, error)
	DeleteAsset(ctx context.Context, filename string) error
	OpenAsset(ctx context.Context, filename string) (*registry.AssetHandle, error)
}

// Downloads is the download orchestrator as used by the coordinator
type Downloads interface {
	StartDownload(ctx context.Context, assetID string) error
	CancelDownload(ctx context.Context, assetID string) error
	ActiveDownloads() map[string]domain.DownloadProgress
}

// Migrations is the migration engine as used by the coordinator
type Migrations interface {
	Propose(ctx context.Context, loc domain.StorageLocation) (*domain.MigrationPlan, error)
	Confirm(ctx context.Context) (domain.MigrationResult, error)
	Skip(ctx context.Context) error
	Cancel() error
	State() domain.MigrationState
	PendingPlan() *domain.MigrationPlan
	Progress() *domain.MigrationProgress
}

// Coordinator composes the registry, catalog, orchestrator and migration
// engine behind one command surface and publishes State snapshots.
type Coordinator struct {
	storage    Storage
	catalog    *catalog.Catalog
	downloads  Downloads
	migrations Migrations
	logger     *zap.Logger

	mu    sync.Mutex
	state State
	subs  map[chan State]struct{}

	runMu   sync.Mutex
	ctx     context.Context
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Ensure Coordinator handles domain events
var _ event.EventHandler = (*Coordinator)(nil)

// New creates a Coordinator and subscribes it to dispatcher
func New(
	storage Storage,
	cat *catalog.Catalog,
	downloads Downloads,
	migrations Migrations,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		storage:    storage,
		catalog:    cat,
		downloads:  downloads,
		migrations: migrations,
		logger:     logger,
		subs:       make(map[chan State]struct{}),
	}
	c.state = State{
		Catalog:         cat.Visible(nil),
		ActiveDownloads: map[string]domain.DownloadProgress{},
		MigrationState:  domain.MigrationIdle,
	}
	if dispatcher != nil {
		dispatcher.Subscribe(c)
	}
	return c
}

// Start refreshes the snapshot and blocks until ctx is cancelled or Stop
// is called. Confirmed migrations run on the Start context.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.ctx = ctx
	c.runMu.Unlock()

	c.Refresh(ctx)
	c.logger.Info("coordinator started")

	<-ctx.Done()
	c.wg.Wait()

	c.mu.Lock()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.mu.Unlock()
	c.logger.Info("coordinator stopped")
	return nil
}

// Stop stops the coordinator
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
}

// Snapshot returns the current state
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving every new State. Slow readers only
// see the latest value. The returned func unsubscribes.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// publish applies mutate to a copy of the state and fans it out
func (c *Coordinator) publish(mutate func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state
	mutate(&next)
	next.Version = c.state.Version + 1
	c.state = next

	for ch := range c.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
}

// Refresh rebuilds the whole snapshot from the components
func (c *Coordinator) Refresh(ctx context.Context) {
	storage := c.loadStorage(ctx)
	downloads := c.downloads.ActiveDownloads()
	plan := c.migrations.PendingPlan()
	progress := c.migrations.Progress()
	mstate := c.migrations.State()

	c.publish(func(s *State) {
		storage.apply(s)
		s.ActiveDownloads = downloads
		s.PendingMigration = plan
		s.MigrationProgress = progress
		s.MigrationState = mstate
	})
}

type storageView struct {
	configured bool
	location   string
	usage      *registry.Usage
	err        string
	catalog    []domain.AssetStatus
	stored     []domain.StoredAsset
}

func (v storageView) apply(s *State) {
	s.IsConfigured = v.configured
	s.Location = v.location
	s.Usage = v.usage
	s.StorageError = v.err
	s.Catalog = v.catalog
	s.Stored = v.stored
}

// loadStorage lists the active location and joins it with the catalog
func (c *Coordinator) loadStorage(ctx context.Context) storageView {
	v := storageView{
		configured: c.storage.IsConfigured(),
		location:   c.storage.Active().String(),
		stored:     []domain.StoredAsset{},
	}
	if !v.configured {
		v.catalog = c.catalog.Visible(nil)
		return v
	}

	entries, err := c.storage.ListStored(ctx)
	if err != nil {
		c.logger.Warn("failed to list storage", zap.Error(err))
		v.err = err.Error()
		v.catalog = c.catalog.Visible(nil)
		return v
	}
	v.stored = c.catalog.StoredAssets(entries)
	v.catalog = c.catalog.Visible(catalog.PresentSet(v.stored))

	if usage, err := c.storage.Usage(ctx); err == nil {
		v.usage = &usage
	} else {
		c.logger.Debug("usage unavailable", zap.Error(err))
	}
	return v
}

// HandledEvents returns the events this handler handles
func (c *Coordinator) HandledEvents() []string {
	return []string{"*"}
}

// Handle folds a domain event into the snapshot
func (c *Coordinator) Handle(ev event.DomainEvent) error {
	notice := ""
	if n, ok := ev.(event.Notice); ok {
		notice = n.Message()
	}

	switch ev.EventName() {
	case event.NameDownloadsUpdated, event.NameDownloadStarted,
		event.NameDownloadCancelled, event.NameDownloadFailed, event.NameDownloadFinalizeFailed:
		downloads := c.downloads.ActiveDownloads()
		c.publish(func(s *State) {
			s.ActiveDownloads = downloads
			if notice != "" {
				s.Notice = notice
			}
		})

	case event.NameMigrationProposed, event.NameMigrationProgressed, event.NameMigrationDiscarded:
		plan := c.migrations.PendingPlan()
		progress := c.migrations.Progress()
		mstate := c.migrations.State()
		if p, ok := ev.(event.MigrationProgressed); ok {
			cp := p.Progress
			progress = &cp
		}
		c.publish(func(s *State) {
			s.PendingMigration = plan
			s.MigrationProgress = progress
			s.MigrationState = mstate
		})

	case event.NameDownloadFinalized, event.NameLocationChanged,
		event.NameAssetDeleted, event.NameMigrationCompleted:
		c.Refresh(c.context())
		if notice != "" {
			c.publish(func(s *State) { s.Notice = notice })
		}
	}
	return nil
}

func (c *Coordinator) context() context.Context {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// RequestLocationChange parses raw and proposes it as the new location.
// The returned plan is nil when the location was applied directly.
func (c *Coordinator) RequestLocationChange(ctx context.Context, raw string) (*domain.MigrationPlan, error) {
	loc, err := domain.ParseStorageLocation(raw)
	if err != nil {
		return nil, err
	}
	plan, err := c.migrations.Propose(ctx, loc)
	if err != nil {
		return nil, err
	}
	c.Refresh(ctx)
	return plan, nil
}

// ConfirmMigration starts executing the pending plan in the background.
// Progress and the result arrive through the snapshot.
func (c *Coordinator) ConfirmMigration() error {
	if c.migrations.PendingPlan() == nil {
		return domain.ErrNoPendingMigration
	}

	c.runMu.Lock()
	if c.ctx == nil || c.ctx.Err() != nil {
		c.runMu.Unlock()
		return fmt.Errorf("coordinator not running")
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.runMu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.migrations.Confirm(ctx); err != nil && !errors.Is(err, domain.ErrNoPendingMigration) {
			c.logger.Warn("migration finished with error", zap.Error(err))
		}
		c.Refresh(ctx)
	}()
	return nil
}

// SkipMigration activates the proposed location without copying
func (c *Coordinator) SkipMigration(ctx context.Context) error {
	if err := c.migrations.Skip(ctx); err != nil {
		return err
	}
	c.Refresh(ctx)
	return nil
}

// CancelMigration discards the pending plan
func (c *Coordinator) CancelMigration(ctx context.Context) error {
	if err := c.migrations.Cancel(); err != nil {
		return err
	}
	c.Refresh(ctx)
	return nil
}

// StartDownload starts downloading a catalog asset. A finalize retry that
// fails again leaves the download waiting for storage; that outcome is
// reported through the notice rather than as an error.
func (c *Coordinator) StartDownload(ctx context.Context, assetID string) error {
	err := c.downloads.StartDownload(ctx, assetID)
	if domain.IsRetryable(err) {
		c.logger.Info("download still waiting for storage",
			zap.String("asset_id", assetID),
			zap.Error(err))
		return nil
	}
	return err
}

// CancelDownload cancels the download of a catalog asset
func (c *Coordinator) CancelDownload(ctx context.Context, assetID string) error {
	return c.downloads.CancelDownload(ctx, assetID)
}

// DeleteAsset removes a stored asset from the active location
func (c *Coordinator) DeleteAsset(ctx context.Context, filename string) error {
	return c.storage.DeleteAsset(ctx, filename)
}

// OpenAsset opens a stored asset for the inference engine. The caller owns
// the handle and must close it.
func (c *Coordinator) OpenAsset(ctx context.Context, filename string) (*registry.AssetHandle, error) {
	return c.storage.OpenAsset(ctx, filename)
}

// DismissNotice clears the current notice
func (c *Coordinator) DismissNotice() {
	c.publish(func(s *State) { s.Notice = "" })
}
