package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
)

// Config contains download subsystem configuration
type Config struct {
	Workers          int
	MaxRetries       int
	ProgressInterval time.Duration
	UserAgent        string
	HTTPTimeout      time.Duration
	MaxRedirects     int
	IdlePollInterval time.Duration
}

// DefaultConfig returns default download subsystem configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:          2,
		MaxRetries:       3,
		ProgressInterval: time.Second,
		UserAgent:        "model-store/1.0",
		HTTPTimeout:      30 * time.Second,
		MaxRedirects:     10,
		IdlePollInterval: time.Second,
	}
}

// Staging is the part of the staging area the transfers write through
type Staging interface {
	PartialSize(filename string) int64
	WritePartial(filename string, r io.Reader, resume bool) (int64, error)
	Commit(filename string) (string, error)
	RemovePartial(filename string) error
}

// Manager is an HTTP download subsystem with a persistent queue
type Manager struct {
	config  *Config
	records port.DownloadRecordRepository
	staging Staging
	space   port.SpaceChecker
	client  *http.Client
	logger  *zap.Logger

	// instance tags worker ids so claims from a previous process are distinguishable
	instance string

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[int64]context.CancelFunc
	wake     chan struct{}
	done     chan struct{}

	subsMu sync.RWMutex
	subs   map[chan<- int64]struct{}
}

// Ensure Manager implements port.DownloadSubsystem
var _ port.DownloadSubsystem = (*Manager)(nil)

// New creates a new Manager. space may be nil to skip space checks.
func New(
	cfg *Config,
	records port.DownloadRecordRepository,
	staging Staging,
	space port.SpaceChecker,
	logger *zap.Logger,
) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaults.ProgressInterval
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaults.MaxRedirects
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = defaults.IdlePollInterval
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	m := &Manager{
		config:   cfg,
		records:  records,
		staging:  staging,
		space:    space,
		logger:   logger,
		inflight: make(map[int64]context.CancelFunc),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		subs:     make(map[chan<- int64]struct{}),
		instance: uuid.NewString()[:8],
	}
	m.client = newHTTPClient(cfg)
	return m
}

func newHTTPClient(cfg *Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HTTPTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.HTTPTimeout
	}
	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

// Enqueue queues a transfer of locator into the staging file destinationHint
func (m *Manager) Enqueue(ctx context.Context, locator, destinationHint string) (int64, error) {
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		return 0, fmt.Errorf("%w: unsupported locator %q", domain.ErrInvalidInput, locator)
	}
	if destinationHint == "" || strings.ContainsAny(destinationHint, `/\`) {
		return 0, fmt.Errorf("%w: bad destination %q", domain.ErrInvalidInput, destinationHint)
	}

	rec := &domain.DownloadRecord{
		Locator:    locator,
		Filename:   destinationHint,
		MaxRetries: m.config.MaxRetries,
	}
	if err := m.records.CreateRecord(ctx, rec); err != nil {
		return 0, fmt.Errorf("failed to queue download: %w", err)
	}

	m.logger.Debug("download queued",
		zap.Int64("task_id", rec.ID),
		zap.String("locator", locator))

	m.nudge()
	return rec.ID, nil
}

// Query returns the state of a transfer, or nil when the id is unknown
func (m *Manager) Query(ctx context.Context, taskID int64) (*domain.DownloadInfo, error) {
	rec, err := m.records.GetRecord(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info := rec.Info()
	return &info, nil
}

// QueryAllActive returns every pending, running or paused transfer
func (m *Manager) QueryAllActive(ctx context.Context) ([]domain.DownloadInfo, error) {
	recs, err := m.records.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DownloadInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Info())
	}
	return out, nil
}

// Remove forgets a transfer, stops it if running and deletes its partial file.
// A completed staged file is left to the caller.
func (m *Manager) Remove(ctx context.Context, taskID int64) error {
	rec, err := m.records.GetRecord(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.records.DeleteRecord(ctx, taskID); err != nil {
		return fmt.Errorf("failed to remove download: %w", err)
	}

	m.mu.Lock()
	cancel := m.inflight[taskID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := m.staging.RemovePartial(rec.Filename); err != nil {
		m.logger.Warn("failed to remove partial download",
			zap.Int64("task_id", taskID),
			zap.Error(err))
	}
	return nil
}

// Subscribe registers ch for completion signals
func (m *Manager) Subscribe(ch chan<- int64) {
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
}

// Unsubscribe stops delivery to ch
func (m *Manager) Unsubscribe(ch chan<- int64) {
	m.subsMu.Lock()
	delete(m.subs, ch)
	m.subsMu.Unlock()
}

// notify delivers a completion signal without blocking the worker
func (m *Manager) notify(taskID int64) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for ch := range m.subs {
		go func(ch chan<- int64) {
			select {
			case ch <- taskID:
			case <-m.done:
			}
		}(ch)
	}
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the worker pool until ctx is cancelled or Stop is called
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("download manager already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("download manager started",
		zap.Int("workers", m.config.Workers))

	// Transfers interrupted by a previous shutdown resume from their partial files
	released, err := m.records.ReleaseStaleRunning(ctx, 0)
	if err != nil {
		m.logger.Warn("failed to release stale downloads on startup", zap.Error(err))
	} else if released > 0 {
		m.logger.Info("released stale downloads from previous run", zap.Int("count", released))
	}

	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}

	<-ctx.Done()
	m.wg.Wait()
	close(m.done)
	m.logger.Info("download manager stopped")
	return nil
}

// Stop stops the worker pool
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
}

// GetStats returns queue statistics
func (m *Manager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	queueStats, err := m.records.GetQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	stats["queue_pending"] = queueStats.PendingCount
	stats["queue_running"] = queueStats.RunningCount
	stats["queue_paused"] = queueStats.PausedCount
	stats["queue_failed"] = queueStats.FailedCount

	m.mu.Lock()
	stats["inflight"] = len(m.inflight)
	m.mu.Unlock()

	return stats, nil
}

// worker processes records from the queue
func (m *Manager) worker(ctx context.Context, workerID int) {
	defer m.wg.Done()

	workerName := fmt.Sprintf("%s-worker-%d", m.instance, workerID)
	m.logger.Debug("download worker started", zap.String("worker", workerName))

	idle := time.NewTicker(m.config.IdlePollInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("download worker stopped", zap.String("worker", workerName))
			return
		default:
		}

		rec, err := m.records.ClaimNext(ctx, workerName)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("failed to claim download",
					zap.String("worker", workerName),
					zap.Error(err))
			}
			m.sleep(ctx, idle.C)
			continue
		}

		if rec == nil {
			m.sleep(ctx, idle.C)
			continue
		}

		m.logger.Info("claimed download",
			zap.String("worker", workerName),
			zap.Int64("task_id", rec.ID),
			zap.String("filename", rec.Filename),
			zap.Int64("bytes_downloaded", rec.BytesDownloaded))

		m.process(ctx, rec)
	}
}

func (m *Manager) sleep(ctx context.Context, tick <-chan time.Time) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-tick:
	}
}

// process runs one transfer and records its outcome
func (m *Manager) process(ctx context.Context, rec *domain.DownloadRecord) {
	taskCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.inflight[rec.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, rec.ID)
		m.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	result, err := m.transfer(taskCtx, rec)

	// Persist outcomes with the parent context; the record may be gone
	// when Remove cancelled the transfer.
	switch {
	case err == nil:
		rec.MarkSucceeded(result.BytesWritten + result.ResumedFrom)
		if uerr := m.records.UpdateRecord(ctx, rec); uerr != nil {
			m.logger.Error("failed to complete download",
				zap.Int64("task_id", rec.ID),
				zap.Error(uerr))
		}
		m.logger.Info("download completed",
			zap.Int64("task_id", rec.ID),
			zap.String("filename", rec.Filename),
			zap.Int64("size", rec.BytesTotal),
			zap.Bool("resumed", result.Resumed),
			zap.Duration("duration", time.Since(start)))
		m.notify(rec.ID)

	case ctx.Err() != nil:
		// Shutdown: keep the partial file and requeue
		rec.ResetForRetry()
		rec.BytesDownloaded = m.staging.PartialSize(rec.Filename)
		if uerr := m.records.UpdateRecord(context.Background(), rec); uerr != nil {
			m.logger.Warn("failed to requeue interrupted download",
				zap.Int64("task_id", rec.ID),
				zap.Error(uerr))
		}

	case taskCtx.Err() != nil:
		m.logger.Info("download removed while running",
			zap.Int64("task_id", rec.ID))
		m.staging.RemovePartial(rec.Filename)

	default:
		reason := classify(err)
		rec.BytesDownloaded = m.staging.PartialSize(rec.Filename)
		rec.MarkFailed(reason, err.Error())
		if uerr := m.records.UpdateRecord(ctx, rec); uerr != nil {
			m.logger.Error("failed to mark download as failed",
				zap.Int64("task_id", rec.ID),
				zap.Error(uerr))
		}

		if rec.Status == domain.DownloadFailed {
			m.logger.Warn("download failed",
				zap.Int64("task_id", rec.ID),
				zap.String("reason", string(reason)),
				zap.Error(err))
			m.notify(rec.ID)
		} else {
			m.logger.Info("download paused for retry",
				zap.Int64("task_id", rec.ID),
				zap.Int("retry_count", rec.RetryCount),
				zap.Timep("next_retry_at", rec.NextRetryAt),
				zap.Error(err))
		}
	}
}
