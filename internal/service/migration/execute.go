package migration

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/port"
)

type aborter interface {
	Abort() error
}

// Confirm executes the proposed plan. Items are copied one at a time in
// plan order; a failed item is counted and the next one is attempted.
// Cancelling ctx stops the run and leaves the active location unchanged.
// The destination becomes active once every item was attempted. When the
// destination cannot be opened at all nothing is copied and the active
// location is left unchanged.
func (e *Engine) Confirm(ctx context.Context) (domain.MigrationResult, error) {
	plan, err := e.take(domain.MigrationExecuting)
	if err != nil {
		return domain.MigrationResult{}, err
	}
	defer func() {
		e.mu.Lock()
		e.state = domain.MigrationIdle
		e.progress = nil
		e.mu.Unlock()
	}()

	start := time.Now()
	logger := e.logger.With(zap.String("plan_id", plan.ID))

	dest, err := e.openDestination(ctx, plan.Destination)
	if err != nil {
		logger.Error("migration destination not accessible",
			zap.String("destination", plan.Destination.Identifier),
			zap.Error(err))
		e.dispatcher.Dispatch(event.NewMigrationCompleted(plan.ID, plan.Destination, domain.MigrationResult{}, true, time.Since(start)))
		return domain.MigrationResult{}, err
	}

	var src port.StorageBackend
	if !plan.IsFromLegacyDefault {
		src, err = e.registry.BackendFor(ctx, plan.Source)
		if err != nil {
			logger.Warn("migration source not resolvable", zap.Error(err))
		}
	}

	var result domain.MigrationResult
	total := len(plan.Items)
	for i, item := range plan.Items {
		p := domain.MigrationProgress{
			CurrentAssetName: item.DisplayName,
			CurrentIndex:     i + 1,
			TotalCount:       total,
		}
		e.mu.Lock()
		e.progress = &p
		e.mu.Unlock()
		e.dispatcher.Dispatch(event.NewMigrationProgressed(plan.ID, p))

		var copyErr error
		if plan.IsFromLegacyDefault {
			copyErr = e.copyItem(ctx, dest, item, func() (io.ReadCloser, error) {
				return e.legacy.Open(ctx, item.Filename)
			})
		} else if src == nil {
			copyErr = domain.NewSkippableError(fmt.Errorf("source %s: %w", plan.Source, domain.ErrAccessDenied), item.Filename)
		} else {
			copyErr = e.copyItem(ctx, dest, item, func() (io.ReadCloser, error) {
				return src.OpenForRead(ctx, item.Handle)
			})
		}

		if copyErr != nil {
			if !domain.IsSkippable(copyErr) {
				logger.Warn("migration interrupted",
					zap.Int("succeeded", result.SuccessCount),
					zap.Int("remaining", total-i),
					zap.Error(copyErr))
				return result, copyErr
			}
			result.FailCount++
			logger.Warn("migration item failed",
				zap.String("filename", item.Filename),
				zap.Error(copyErr))
			continue
		}
		result.SuccessCount++
		logger.Debug("migration item copied", zap.String("filename", item.Filename))
	}

	e.mu.Lock()
	e.progress = nil
	e.mu.Unlock()

	if err := e.registry.SetActive(ctx, plan.Destination); err != nil {
		logger.Error("failed to activate migration destination", zap.Error(err))
		return result, err
	}

	elapsed := time.Since(start)
	logger.Info("migration completed",
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailCount),
		zap.Duration("duration", elapsed))
	e.dispatcher.Dispatch(event.NewMigrationCompleted(plan.ID, plan.Destination, result, false, elapsed))
	return result, nil
}

// openDestination resolves the destination and checks it can be listed
func (e *Engine) openDestination(ctx context.Context, loc domain.StorageLocation) (port.StorageBackend, error) {
	backend, err := e.registry.BackendFor(ctx, loc)
	if err != nil {
		return nil, err
	}
	if _, err := backend.List(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

// copyItem replaces item at dest with the content from open. A failed
// item comes back as a SkippableError; cancellation of ctx does not.
func (e *Engine) copyItem(ctx context.Context, dest port.StorageBackend, item domain.StoredAsset, open func() (io.ReadCloser, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.replace(ctx, dest, item, open); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.NewSkippableError(err, item.Filename)
	}
	return nil
}

// replace writes the content from open to dest. A failed write leaves no
// entry behind.
func (e *Engine) replace(ctx context.Context, dest port.StorageBackend, item domain.StoredAsset, open func() (io.ReadCloser, error)) error {
	r, err := open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer r.Close()

	if err := dest.Delete(ctx, item.Filename); err != nil {
		return fmt.Errorf("delete existing: %w", err)
	}

	w, err := dest.OpenForWrite(ctx, item.Filename, port.OctetStream)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	buf := make([]byte, e.config.CopyBufferSize)
	if _, err := io.CopyBuffer(w, r, buf); err != nil {
		e.discard(ctx, dest, w, item.Filename)
		return fmt.Errorf("copy: %w", err)
	}
	if err := w.Close(); err != nil {
		dest.Delete(ctx, item.Filename)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e *Engine) discard(ctx context.Context, dest port.StorageBackend, w io.WriteCloser, name string) {
	if a, ok := w.(aborter); ok {
		if err := a.Abort(); err != nil {
			e.logger.Warn("failed to discard partial copy", zap.String("filename", name), zap.Error(err))
		}
		return
	}
	w.Close()
	if err := dest.Delete(ctx, name); err != nil {
		e.logger.Warn("failed to remove partial copy", zap.String("filename", name), zap.Error(err))
	}
}
