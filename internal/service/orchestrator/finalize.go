package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/port"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeFinalized
	outcomeFinalizeFailed
	outcomeFailed
	outcomeCancelled
)

// Finalize failure reasons shown to the user
const (
	reasonNotConfigured = "Storage not configured"
	reasonStagedMissing = "Downloaded file not found"
	reasonNoAccess      = "Cannot access storage folder"
	reasonCannotCreate  = "Cannot create file in storage"
	reasonNoSpace       = "Insufficient storage space"
	reasonSaveFailed    = "Failed to save file"
)

// aborter is implemented by writers that can discard an unfinished write
type aborter interface {
	Abort() error
}

// handleSignal settles the task behind a completion signal
func (o *Orchestrator) handleSignal(ctx context.Context, taskID int64) {
	o.mu.Lock()
	e := o.tasks[o.byTask[taskID]]
	o.mu.Unlock()
	if e == nil {
		o.logger.Debug("completion signal for untracked task", zap.Int64("task_id", taskID))
		return
	}

	out, events := o.settle(ctx, e, taskID)
	if out == outcomeCancelled {
		events = append(events, event.NewDownloadCancelled([]string{e.task.AssetID}, []string{e.task.Name}, true))
	}
	o.dispatcher.DispatchAll(events)
	if out != outcomeNone {
		o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))
	}
}

// settle queries the subsystem for one task and acts on a terminal state.
// Events are returned for dispatch after the task lock is released.
func (o *Orchestrator) settle(ctx context.Context, e *entry, taskID int64) (outcome, []event.DomainEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed || e.task.TaskID != taskID {
		return outcomeNone, nil
	}
	o.mu.Lock()
	status := e.task.Status
	o.mu.Unlock()
	if status == domain.DownloadFinalizing || status == domain.DownloadFinalizeFailed {
		return outcomeNone, nil
	}

	info, err := o.downloads.Query(ctx, taskID)
	if err != nil {
		o.logger.Warn("failed to query download",
			zap.Int64("task_id", taskID),
			zap.Error(err))
		return outcomeNone, nil
	}

	switch {
	case info == nil || info.Status == domain.DownloadCancelled:
		o.dropLocked(e, false)
		if info != nil {
			o.forget(ctx, taskID)
		}
		o.removeStaged(e.task.Filename)
		o.logger.Info("download cancelled externally",
			zap.String("asset_id", e.task.AssetID),
			zap.Int64("task_id", taskID))
		return outcomeCancelled, nil

	case info.Status == domain.DownloadFailed:
		o.dropLocked(e, false)
		o.forget(ctx, taskID)
		o.removeStaged(e.task.Filename)
		o.logger.Warn("download failed",
			zap.String("asset_id", e.task.AssetID),
			zap.Int64("task_id", taskID),
			zap.String("reason", string(info.Reason)))
		return outcomeFailed, []event.DomainEvent{
			event.NewDownloadFailed(e.task.AssetID, taskID, e.task.Name, info.Reason),
		}

	case info.Status == domain.DownloadSucceeded:
		o.mu.Lock()
		e.task.BytesDownloaded = info.BytesDownloaded
		e.task.BytesTotal = info.BytesTotal
		o.mu.Unlock()
		out, ev, _ := o.finalizeLocked(ctx, e)
		return out, ev

	default:
		o.mu.Lock()
		e.task.ApplyUpdate(info.Status, info.BytesDownloaded, info.BytesTotal)
		o.mu.Unlock()
		return outcomeNone, nil
	}
}

// retryFinalize runs finalize again for a task whose staged file was kept
func (o *Orchestrator) retryFinalize(ctx context.Context, e *entry) error {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil
	}
	o.mu.Lock()
	status := e.task.Status
	o.mu.Unlock()
	if status != domain.DownloadFinalizeFailed {
		e.mu.Unlock()
		return fmt.Errorf("asset %q: %w", e.task.AssetID, domain.ErrAlreadyActive)
	}

	o.logger.Info("retrying finalize", zap.String("asset_id", e.task.AssetID))
	out, events, err := o.finalizeLocked(ctx, e)
	e.mu.Unlock()

	o.dispatcher.DispatchAll(events)
	if out != outcomeNone {
		o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))
	}
	return err
}

// finalizeLocked moves the staged file into the active location. The
// caller holds e.mu. On a storage failure the staged file is kept and the
// task waits in FinalizeFailed.
func (o *Orchestrator) finalizeLocked(ctx context.Context, e *entry) (outcome, []event.DomainEvent, error) {
	t := e.task

	o.mu.Lock()
	err := t.BeginFinalize()
	o.mu.Unlock()
	if err != nil {
		return outcomeNone, nil, err
	}
	o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))

	start := time.Now()
	size, location, reason, err := o.store(ctx, t.Filename)

	if reason == reasonStagedMissing {
		o.dropLocked(e, false)
		o.forget(ctx, t.TaskID)
		o.logger.Error("staged file missing at finalize",
			zap.String("asset_id", t.AssetID),
			zap.Int64("task_id", t.TaskID))
		return outcomeFinalizeFailed, []event.DomainEvent{
			event.NewDownloadFinalizeFailed(t.AssetID, t.TaskID, t.Name, reason, false),
		}, err
	}

	if err != nil {
		o.mu.Lock()
		t.MarkFinalizeFailed(reason)
		o.mu.Unlock()
		o.logger.Warn("finalize failed, staged file kept",
			zap.String("asset_id", t.AssetID),
			zap.Int64("task_id", t.TaskID),
			zap.String("reason", reason),
			zap.Error(err))
		return outcomeFinalizeFailed, []event.DomainEvent{
			event.NewDownloadFinalizeFailed(t.AssetID, t.TaskID, t.Name, reason, true),
		}, domain.NewRetryableError(fmt.Errorf("finalize %s: %w", t.Filename, err))
	}

	o.removeStaged(t.Filename)
	o.dropLocked(e, false)
	o.forget(ctx, t.TaskID)

	elapsed := time.Since(start)
	o.logger.Info("download finalized",
		zap.String("asset_id", t.AssetID),
		zap.Int64("task_id", t.TaskID),
		zap.String("location", location),
		zap.Int64("size", size),
		zap.Duration("duration", elapsed))
	return outcomeFinalized, []event.DomainEvent{
		event.NewDownloadFinalized(t.AssetID, t.TaskID, t.Filename, location, size, elapsed),
	}, nil
}

// store copies a staged file into the active location, replacing any
// existing entry of the same name. It returns the user-facing reason on
// failure.
func (o *Orchestrator) store(ctx context.Context, filename string) (int64, string, string, error) {
	src, err := o.staging.Open(filename)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, "", reasonStagedMissing, err
		}
		return 0, "", reasonSaveFailed, err
	}
	defer src.Close()

	backend, err := o.storage.Backend(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			return 0, "", reasonNotConfigured, err
		}
		return 0, "", reasonNoAccess, err
	}
	location := backend.Location().Identifier

	if err := backend.Delete(ctx, filename); err != nil {
		return 0, location, reasonFor(err, reasonNoAccess), err
	}

	w, err := backend.OpenForWrite(ctx, filename, port.OctetStream)
	if err != nil {
		return 0, location, reasonFor(err, reasonCannotCreate), err
	}

	buf := make([]byte, o.config.CopyBufferSize)
	n, err := io.CopyBuffer(w, src, buf)
	if err != nil {
		abort(w)
		return n, location, reasonFor(err, reasonSaveFailed), err
	}
	if n != src.Size() {
		abort(w)
		return n, location, reasonSaveFailed, fmt.Errorf("short copy: %d of %d bytes", n, src.Size())
	}
	if err := w.Close(); err != nil {
		return n, location, reasonFor(err, reasonSaveFailed), err
	}
	return n, location, "", nil
}

func reasonFor(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrNotFound):
		return reasonNoAccess
	case errors.Is(err, domain.ErrInsufficientSpace):
		return reasonNoSpace
	default:
		return fallback
	}
}

func abort(w io.WriteCloser) {
	if a, ok := w.(aborter); ok {
		a.Abort()
		return
	}
	w.Close()
}

// forget removes a settled task from the subsystem
func (o *Orchestrator) forget(ctx context.Context, taskID int64) {
	if taskID == 0 {
		return
	}
	if err := o.downloads.Remove(ctx, taskID); err != nil {
		o.logger.Debug("failed to forget settled download",
			zap.Int64("task_id", taskID),
			zap.Error(err))
	}
}
