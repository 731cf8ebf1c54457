package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
)

// ensurePollingLocked starts the poll loop unless it already runs or
// nothing needs polling. The caller holds o.mu.
func (o *Orchestrator) ensurePollingLocked() {
	if o.polling || o.ctx == nil || o.ctx.Err() != nil || !o.hasPollableLocked() {
		return
	}
	o.polling = true
	o.wg.Add(1)
	go o.pollLoop(o.ctx)
}

func (o *Orchestrator) hasPollableLocked() bool {
	for _, e := range o.tasks {
		if e.task.TaskID != 0 && e.task.Status.IsPollable() {
			return true
		}
	}
	return false
}

// pollLoop runs until no pollable task remains
func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	o.logger.Debug("poll loop started")
	for {
		o.sync(ctx)

		o.mu.Lock()
		if !o.hasPollableLocked() {
			o.polling = false
			o.mu.Unlock()
			o.logger.Debug("poll loop finished")
			return
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.polling = false
			o.mu.Unlock()
			return
		case <-ticker.C:
		}
	}
}

// sync reconciles tracked tasks with the subsystem's active set. Active
// downloads of catalog assets that are not tracked are adopted; tracked
// tasks missing from the set are settled with a direct query.
func (o *Orchestrator) sync(ctx context.Context) {
	active, err := o.downloads.QueryAllActive(ctx)
	if err != nil {
		o.logger.Warn("failed to query active downloads", zap.Error(err))
		return
	}

	var (
		events   []event.DomainEvent
		vanished []*entry
		changed  bool
	)

	o.mu.Lock()
	seen := make(map[int64]struct{}, len(active))
	for _, info := range active {
		seen[info.TaskID] = struct{}{}
		if _, gone := o.cancelled[info.TaskID]; gone {
			continue
		}

		if assetID, ok := o.byTask[info.TaskID]; ok {
			if e := o.tasks[assetID]; e != nil && e.task.ApplyUpdate(info.Status, info.BytesDownloaded, info.BytesTotal) {
				changed = true
			}
			continue
		}

		desc, ok := o.catalog.ByLocator(info.Locator)
		if !ok {
			continue
		}
		if _, tracked := o.tasks[desc.ID]; tracked {
			continue
		}
		e := &entry{task: domain.NewDownloadTask(desc)}
		e.task.TaskID = info.TaskID
		e.task.ApplyUpdate(info.Status, info.BytesDownloaded, info.BytesTotal)
		o.tasks[desc.ID] = e
		o.byTask[info.TaskID] = desc.ID
		changed = true
		events = append(events, event.NewDownloadStarted(desc.ID, info.TaskID, info.Locator, true))
	}

	for id := range o.cancelled {
		if _, ok := seen[id]; !ok {
			delete(o.cancelled, id)
		}
	}

	for _, e := range o.tasks {
		if e.task.TaskID == 0 || !e.task.Status.IsPollable() {
			continue
		}
		if _, ok := seen[e.task.TaskID]; !ok {
			vanished = append(vanished, e)
		}
	}
	o.mu.Unlock()

	var cancelledIDs, cancelledNames []string
	for _, e := range vanished {
		out, evs := o.settle(ctx, e, e.task.TaskID)
		events = append(events, evs...)
		if out == outcomeCancelled {
			cancelledIDs = append(cancelledIDs, e.task.AssetID)
			cancelledNames = append(cancelledNames, e.task.Name)
		}
		if out != outcomeNone {
			changed = true
		}
	}
	if len(cancelledIDs) > 0 {
		events = append(events, event.NewDownloadCancelled(cancelledIDs, cancelledNames, true))
	}

	o.dispatcher.DispatchAll(events)
	if changed {
		o.dispatcher.Dispatch(event.NewDownloadsUpdated(o.activeCount()))
	}
}
