package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/port"
)

// Config contains orchestrator configuration
type Config struct {
	// PollInterval is the period of the active-download poll
	PollInterval time.Duration

	// CopyBufferSize is the buffer used when moving a staged file to storage
	CopyBufferSize int
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   250 * time.Millisecond,
		CopyBufferSize: 8192,
	}
}

// Catalog resolves assets by id and by remote locator
type Catalog interface {
	Lookup(id string) (domain.AssetDescriptor, bool)
	ByLocator(locator string) (domain.AssetDescriptor, bool)
}

// Storage gives access to the active storage location
type Storage interface {
	IsConfigured() bool
	Backend(ctx context.Context) (port.StorageBackend, error)
}

// entry guards one task. mu serializes finalize and cancel for the asset;
// lock order is entry.mu before Orchestrator.mu.
type entry struct {
	mu      sync.Mutex
	task    *domain.DownloadTask
	removed bool
}

// Orchestrator owns the set of active download tasks
type Orchestrator struct {
	config     *Config
	downloads  port.DownloadSubsystem
	staging    port.StagingArea
	storage    Storage
	catalog    Catalog
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu        sync.Mutex
	tasks     map[string]*entry
	byTask    map[int64]string
	cancelled map[int64]struct{}
	polling   bool
	ctx       context.Context

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	signals chan int64
}

// Ensure Orchestrator handles location changes
var _ event.EventHandler = (*Orchestrator)(nil)

// New creates a new Orchestrator
func New(
	cfg *Config,
	downloads port.DownloadSubsystem,
	staging port.StagingArea,
	storage Storage,
	catalog Catalog,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.CopyBufferSize == 0 {
		cfg.CopyBufferSize = 8192
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	return &Orchestrator{
		config:     cfg,
		downloads:  downloads,
		staging:    staging,
		storage:    storage,
		catalog:    catalog,
		dispatcher: dispatcher,
		logger:     logger,
		tasks:      make(map[string]*entry),
		byTask:     make(map[int64]string),
		cancelled:  make(map[int64]struct{}),
		signals:    make(chan int64, 16),
	}
}

// Start subscribes to completion signals and location changes, adopts
// downloads already running in the subsystem and blocks until ctx is
// cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.dispatcher.Subscribe(o)
	o.ctx = ctx
	o.mu.Unlock()

	o.downloads.Subscribe(o.signals)
	o.logger.Info("download orchestrator started",
		zap.Duration("poll_interval", o.config.PollInterval))

	o.sync(ctx)
	o.mu.Lock()
	o.ensurePollingLocked()
	o.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			o.dispatcher.Unsubscribe(o)
			o.downloads.Unsubscribe(o.signals)
			o.wg.Wait()
			o.mu.Lock()
			o.ctx = nil
			o.mu.Unlock()
			o.logger.Info("download orchestrator stopped")
			return nil
		case id := <-o.signals:
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.handleSignal(ctx, id)
			}()
		}
	}
}

// Stop stops the orchestrator
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.running = false
}

// StartDownload requests a download of assetID. A task whose finalize
// failed is retried instead.
func (o *Orchestrator) StartDownload(ctx context.Context, assetID string) error {
	desc, ok := o.catalog.Lookup(assetID)
	if !ok {
		return fmt.Errorf("asset %q: %w", assetID, domain.ErrNotFound)
	}
	if !o.storage.IsConfigured() {
		return domain.ErrNotConfigured
	}

	e := &entry{task: domain.NewDownloadTask(desc)}
	e.mu.Lock()
	defer e.mu.Unlock()

	o.mu.Lock()
	if existing, ok := o.tasks[assetID]; ok {
		retry := existing.task.Status == domain.DownloadFinalizeFailed
		o.mu.Unlock()
		if retry {
			return o.retryFinalize(ctx, existing)
		}
		return fmt.Errorf("asset %q: %w", assetID, domain.ErrAlreadyActive)
	}
	o.tasks[assetID] = e
	o.mu.Unlock()
	o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))

	taskID, err := o.downloads.Enqueue(ctx, desc.RemoteLocator, desc.Filename)
	if err != nil {
		o.mu.Lock()
		delete(o.tasks, assetID)
		o.mu.Unlock()
		e.removed = true
		o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))
		return fmt.Errorf("failed to enqueue %s: %w", desc.Filename, err)
	}

	o.mu.Lock()
	e.task.TaskID = taskID
	o.byTask[taskID] = assetID
	o.ensurePollingLocked()
	o.mu.Unlock()

	o.logger.Info("download started",
		zap.String("asset_id", assetID),
		zap.Int64("task_id", taskID))
	o.dispatcher.Dispatch(event.NewDownloadStarted(assetID, taskID, desc.RemoteLocator, false))
	return nil
}

// CancelDownload removes the task of assetID, its subsystem transfer and
// its staged data. Cancelling an unknown asset is not an error.
func (o *Orchestrator) CancelDownload(ctx context.Context, assetID string) error {
	desc, ok := o.catalog.Lookup(assetID)
	if !ok {
		return fmt.Errorf("asset %q: %w", assetID, domain.ErrNotFound)
	}

	o.mu.Lock()
	e := o.tasks[assetID]
	o.mu.Unlock()

	if e == nil {
		o.removeUntracked(ctx, desc)
		return nil
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil
	}
	taskID := e.task.TaskID
	o.dropLocked(e, true)
	e.mu.Unlock()

	if taskID != 0 {
		if err := o.downloads.Remove(ctx, taskID); err != nil {
			o.logger.Warn("failed to remove download from subsystem",
				zap.Int64("task_id", taskID),
				zap.Error(err))
		}
	}
	o.removeStaged(desc.Filename)

	o.logger.Info("download cancelled",
		zap.String("asset_id", assetID),
		zap.Int64("task_id", taskID))
	o.dispatcher.Dispatch(event.NewDownloadCancelled([]string{assetID}, []string{desc.Name}, false))
	o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))
	return nil
}

// removeUntracked removes subsystem transfers of desc that were never tracked
func (o *Orchestrator) removeUntracked(ctx context.Context, desc domain.AssetDescriptor) {
	active, err := o.downloads.QueryAllActive(ctx)
	if err != nil {
		o.logger.Warn("failed to query active downloads", zap.Error(err))
	}
	for _, info := range active {
		if info.Locator != desc.RemoteLocator {
			continue
		}
		o.mu.Lock()
		o.cancelled[info.TaskID] = struct{}{}
		o.mu.Unlock()
		if err := o.downloads.Remove(ctx, info.TaskID); err != nil {
			o.logger.Warn("failed to remove download from subsystem",
				zap.Int64("task_id", info.TaskID),
				zap.Error(err))
		}
	}
	o.removeStaged(desc.Filename)
}

// dropLocked forgets a task. The caller holds e.mu.
func (o *Orchestrator) dropLocked(e *entry, remember bool) {
	e.removed = true
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.tasks[e.task.AssetID]; ok && cur == e {
		delete(o.tasks, e.task.AssetID)
	}
	if e.task.TaskID != 0 {
		delete(o.byTask, e.task.TaskID)
		if remember {
			o.cancelled[e.task.TaskID] = struct{}{}
		}
	}
}

func (o *Orchestrator) removeStaged(filename string) {
	if err := o.staging.Remove(filename); err != nil {
		o.logger.Warn("failed to remove staged file",
			zap.String("filename", filename),
			zap.Error(err))
	}
}

// ActiveDownloads returns a snapshot of the tracked tasks keyed by asset id
func (o *Orchestrator) ActiveDownloads() map[string]domain.DownloadProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]domain.DownloadProgress, len(o.tasks))
	for id, e := range o.tasks {
		out[id] = e.task.Snapshot()
	}
	return out
}

// IsActive reports whether assetID has a tracked task
func (o *Orchestrator) IsActive(assetID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[assetID]
	return ok
}

func (o *Orchestrator) activeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// HandledEvents returns the events this handler handles
func (o *Orchestrator) HandledEvents() []string {
	return []string{event.NameLocationChanged}
}

// Handle retries every task waiting for storage after the location changed
func (o *Orchestrator) Handle(ev event.DomainEvent) error {
	if _, ok := ev.(event.LocationChanged); !ok {
		return nil
	}

	o.mu.Lock()
	ctx := o.ctx
	var waiting []*entry
	for _, e := range o.tasks {
		if e.task.Status == domain.DownloadFinalizeFailed {
			waiting = append(waiting, e)
		}
	}
	if ctx == nil || ctx.Err() != nil || len(waiting) == 0 {
		o.mu.Unlock()
		return nil
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		for _, e := range waiting {
			if err := o.retryFinalize(ctx, e); err != nil {
				o.logger.Debug("finalize retry failed",
					zap.String("asset_id", e.task.AssetID),
					zap.Error(err))
			}
		}
	}()
	return nil
}
