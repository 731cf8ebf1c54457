package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config contains maintenance service configuration
type Config struct {
	// StaleRecordCheckInterval is how often to check for stale download records
	StaleRecordCheckInterval time.Duration

	// StaleRecordTimeout is how long a running record may go without progress
	StaleRecordTimeout time.Duration

	// CleanupInterval is how often to run cleanup tasks
	CleanupInterval time.Duration

	// FinishedRecordMaxAge is the age after which finished records are removed
	FinishedRecordMaxAge time.Duration

	// PartialFileMaxAge is the age after which abandoned partial transfers are removed
	PartialFileMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		StaleRecordCheckInterval: time.Minute,
		StaleRecordTimeout:       30 * time.Minute,
		CleanupInterval:          time.Hour,
		FinishedRecordMaxAge:     24 * time.Hour,
		PartialFileMaxAge:        7 * 24 * time.Hour,
	}
}

// RecordJanitor prunes the download queue
type RecordJanitor interface {
	ReleaseStaleRunning(ctx context.Context, staleDuration time.Duration) (int, error)
	CleanupFinished(ctx context.Context, olderThan time.Duration) (int, error)
}

// PartialCleaner removes abandoned partial transfers
type PartialCleaner interface {
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}

// Service handles periodic maintenance tasks
type Service struct {
	config  *Config
	records RecordJanitor
	staging PartialCleaner
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, records RecordJanitor, staging PartialCleaner, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StaleRecordCheckInterval == 0 {
		cfg.StaleRecordCheckInterval = time.Minute
	}
	if cfg.StaleRecordTimeout == 0 {
		cfg.StaleRecordTimeout = 30 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.FinishedRecordMaxAge == 0 {
		cfg.FinishedRecordMaxAge = 24 * time.Hour
	}
	if cfg.PartialFileMaxAge == 0 {
		cfg.PartialFileMaxAge = 7 * 24 * time.Hour
	}

	return &Service{
		config:  cfg,
		records: records,
		staging: staging,
		logger:  logger,
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("stale_check_interval", s.config.StaleRecordCheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	staleTicker := time.NewTicker(s.config.StaleRecordCheckInterval)
	defer staleTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-staleTicker.C:
			s.releaseStaleRecords(ctx)
		case <-cleanupTicker.C:
			s.cleanupFinishedRecords(ctx)
			s.cleanupPartialFiles()
		}
	}
}

// releaseStaleRecords returns stalled running records to the queue
func (s *Service) releaseStaleRecords(ctx context.Context) {
	released, err := s.records.ReleaseStaleRunning(ctx, s.config.StaleRecordTimeout)
	if err != nil {
		s.logger.Error("failed to release stale download records", zap.Error(err))
	} else if released > 0 {
		s.logger.Info("released stale download records", zap.Int("count", released))
	}
}

// cleanupFinishedRecords removes old finished records
func (s *Service) cleanupFinishedRecords(ctx context.Context) {
	cleared, err := s.records.CleanupFinished(ctx, s.config.FinishedRecordMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup finished download records", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up finished download records", zap.Int("count", cleared))
	}
}

// cleanupPartialFiles removes abandoned partial transfers from staging
func (s *Service) cleanupPartialFiles() {
	fileCount, err := s.staging.CleanOldTempFiles(s.config.PartialFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup partial transfers", zap.Error(err))
	} else if fileCount > 0 {
		s.logger.Info("cleaned up partial transfers from staging", zap.Int("count", fileCount))
	}
}
