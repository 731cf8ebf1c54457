package event

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain/vo"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DownloadStarted:
		h.logger.Info("download started",
			zap.String("asset_id", e.AssetID),
			zap.Int64("task_id", e.TaskID),
			zap.String("locator", e.Locator),
			zap.Bool("adopted", e.Adopted),
		)
	case DownloadsUpdated:
		h.logger.Debug("downloads updated",
			zap.Int("active", e.Active),
		)
	case DownloadCancelled:
		h.logger.Info("download cancelled",
			zap.Strings("asset_ids", e.AssetIDs),
			zap.Bool("external", e.External),
		)
	case DownloadFailed:
		h.logger.Warn("download failed",
			zap.String("asset_id", e.AssetID),
			zap.Int64("task_id", e.TaskID),
			zap.String("reason", string(e.Reason)),
		)
	case DownloadFinalized:
		h.logger.Info("download finalized",
			zap.String("asset_id", e.AssetID),
			zap.Int64("task_id", e.TaskID),
			zap.String("filename", e.Filename),
			zap.String("location", e.Location),
			zap.Int64("size", e.Size),
			zap.Stringer("size_human", vo.ByteSize(e.Size)),
			zap.Duration("duration", e.Duration),
		)
	case DownloadFinalizeFailed:
		h.logger.Warn("download finalize failed",
			zap.String("asset_id", e.AssetID),
			zap.Int64("task_id", e.TaskID),
			zap.String("reason", e.Reason),
			zap.Bool("staging_retained", e.Retained),
		)
	case MigrationProposed:
		h.logger.Info("migration proposed",
			zap.String("plan_id", e.Plan.ID),
			zap.String("source", e.Plan.Source.String()),
			zap.String("destination", e.Plan.Destination.String()),
			zap.Int("items", len(e.Plan.Items)),
		)
	case MigrationProgressed:
		h.logger.Debug("migration progressed",
			zap.String("plan_id", e.PlanID),
			zap.String("asset", e.Progress.CurrentAssetName),
			zap.Int("index", e.Progress.CurrentIndex),
			zap.Int("total", e.Progress.TotalCount),
		)
	case MigrationCompleted:
		h.logger.Info("migration completed",
			zap.String("plan_id", e.PlanID),
			zap.String("destination", e.Destination.String()),
			zap.Int("succeeded", e.Result.SuccessCount),
			zap.Int("failed", e.Result.FailCount),
			zap.Bool("aborted", e.Aborted),
			zap.Duration("duration", e.Duration),
		)
	case LocationChanged:
		h.logger.Info("storage location changed",
			zap.String("previous", e.Previous.String()),
			zap.String("current", e.Current.String()),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// MetricsHandler counts download and migration outcomes
type MetricsHandler struct {
	downloadsStarted   atomic.Int64
	downloadsFinalized atomic.Int64
	downloadsFailed    atomic.Int64
	downloadsCancelled atomic.Int64
	finalizeFailures   atomic.Int64
	bytesStored        atomic.Int64
	migrations         atomic.Int64
	migratedItems      atomic.Int64
	migrationFailures  atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DownloadStarted:
		h.downloadsStarted.Add(1)
	case DownloadFinalized:
		h.downloadsFinalized.Add(1)
		h.bytesStored.Add(e.Size)
	case DownloadFailed:
		h.downloadsFailed.Add(1)
	case DownloadCancelled:
		h.downloadsCancelled.Add(int64(len(e.AssetIDs)))
	case DownloadFinalizeFailed:
		h.finalizeFailures.Add(1)
	case MigrationCompleted:
		h.migrations.Add(1)
		h.migratedItems.Add(int64(e.Result.SuccessCount))
		h.migrationFailures.Add(int64(e.Result.FailCount))
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameDownloadStarted,
		NameDownloadFinalized,
		NameDownloadFailed,
		NameDownloadCancelled,
		NameDownloadFinalizeFailed,
		NameMigrationCompleted,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"downloads_started":   h.downloadsStarted.Load(),
		"downloads_finalized": h.downloadsFinalized.Load(),
		"downloads_failed":    h.downloadsFailed.Load(),
		"downloads_cancelled": h.downloadsCancelled.Load(),
		"finalize_failures":   h.finalizeFailures.Load(),
		"bytes_stored":        h.bytesStored.Load(),
		"migrations":          h.migrations.Load(),
		"migrated_items":      h.migratedItems.Load(),
		"migration_failures":  h.migrationFailures.Load(),
	}
}
