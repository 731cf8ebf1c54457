package event

import (
	"fmt"
	"time"

	"github.com/lmplayground/model-store/internal/domain"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// Notice is implemented by events that carry a user-facing message.
// An empty message means the event is silent.
type Notice interface {
	Message() string
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func now() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Event names
const (
	NameDownloadStarted        = "download.started"
	NameDownloadsUpdated       = "download.updated"
	NameDownloadCancelled      = "download.cancelled"
	NameDownloadFailed         = "download.failed"
	NameDownloadFinalized      = "download.finalized"
	NameDownloadFinalizeFailed = "download.finalize_failed"
	NameMigrationProposed      = "migration.proposed"
	NameMigrationProgressed    = "migration.progressed"
	NameMigrationCompleted     = "migration.completed"
	NameMigrationDiscarded     = "migration.discarded"
	NameLocationChanged        = "location.changed"
	NameAssetDeleted           = "asset.deleted"
)

// DownloadStarted is raised when a download was handed to the subsystem
// or an untracked subsystem download was adopted.
type DownloadStarted struct {
	BaseEvent
	AssetID string
	TaskID  int64
	Locator string
	Adopted bool
}

// EventName returns the event name
func (e DownloadStarted) EventName() string { return NameDownloadStarted }

// NewDownloadStarted creates a new DownloadStarted event
func NewDownloadStarted(assetID string, taskID int64, locator string, adopted bool) DownloadStarted {
	return DownloadStarted{BaseEvent: now(), AssetID: assetID, TaskID: taskID, Locator: locator, Adopted: adopted}
}

// DownloadsUpdated is raised once per poll tick in which tracked progress changed
type DownloadsUpdated struct {
	BaseEvent
	Active int
}

// EventName returns the event name
func (e DownloadsUpdated) EventName() string { return NameDownloadsUpdated }

// NewDownloadsUpdated creates a new DownloadsUpdated event
func NewDownloadsUpdated(active int) DownloadsUpdated {
	return DownloadsUpdated{BaseEvent: now(), Active: active}
}

// DownloadCancelled is raised when tasks were removed without finishing.
// External cancellations carry a notice; user cancellations are silent.
type DownloadCancelled struct {
	BaseEvent
	AssetIDs []string
	Names    []string
	External bool
}

// EventName returns the event name
func (e DownloadCancelled) EventName() string { return NameDownloadCancelled }

// Message returns the cancellation notice
func (e DownloadCancelled) Message() string {
	if !e.External || len(e.Names) == 0 {
		return ""
	}
	if len(e.Names) == 1 {
		return e.Names[0] + ": Download cancelled"
	}
	return fmt.Sprintf("%d downloads cancelled", len(e.Names))
}

// NewDownloadCancelled creates a new DownloadCancelled event
func NewDownloadCancelled(assetIDs, names []string, external bool) DownloadCancelled {
	return DownloadCancelled{BaseEvent: now(), AssetIDs: assetIDs, Names: names, External: external}
}

// DownloadFailed is raised when the subsystem reported a terminal failure
type DownloadFailed struct {
	BaseEvent
	AssetID string
	TaskID  int64
	Name    string
	Reason  domain.FailureReason
}

// EventName returns the event name
func (e DownloadFailed) EventName() string { return NameDownloadFailed }

// Message returns the failure notice
func (e DownloadFailed) Message() string {
	return e.Name + ": " + e.Reason.Message()
}

// NewDownloadFailed creates a new DownloadFailed event
func NewDownloadFailed(assetID string, taskID int64, name string, reason domain.FailureReason) DownloadFailed {
	return DownloadFailed{BaseEvent: now(), AssetID: assetID, TaskID: taskID, Name: name, Reason: reason}
}

// DownloadFinalized is raised when a staged file was placed into storage
type DownloadFinalized struct {
	BaseEvent
	AssetID  string
	TaskID   int64
	Filename string
	Location string
	Size     int64
	Duration time.Duration
}

// EventName returns the event name
func (e DownloadFinalized) EventName() string { return NameDownloadFinalized }

// NewDownloadFinalized creates a new DownloadFinalized event
func NewDownloadFinalized(assetID string, taskID int64, filename, location string, size int64, d time.Duration) DownloadFinalized {
	return DownloadFinalized{
		BaseEvent: now(),
		AssetID:   assetID,
		TaskID:    taskID,
		Filename:  filename,
		Location:  location,
		Size:      size,
		Duration:  d,
	}
}

// DownloadFinalizeFailed is raised when a completed download could not be
// placed into storage. Retained reports whether the staged file was kept.
type DownloadFinalizeFailed struct {
	BaseEvent
	AssetID  string
	TaskID   int64
	Name     string
	Reason   string
	Retained bool
}

// EventName returns the event name
func (e DownloadFinalizeFailed) EventName() string { return NameDownloadFinalizeFailed }

// Message returns the failure notice
func (e DownloadFinalizeFailed) Message() string {
	return e.Name + ": " + e.Reason
}

// NewDownloadFinalizeFailed creates a new DownloadFinalizeFailed event
func NewDownloadFinalizeFailed(assetID string, taskID int64, name, reason string, retained bool) DownloadFinalizeFailed {
	return DownloadFinalizeFailed{BaseEvent: now(), AssetID: assetID, TaskID: taskID, Name: name, Reason: reason, Retained: retained}
}

// MigrationProposed is raised when a plan awaits a user decision
type MigrationProposed struct {
	BaseEvent
	Plan *domain.MigrationPlan
}

// EventName returns the event name
func (e MigrationProposed) EventName() string { return NameMigrationProposed }

// NewMigrationProposed creates a new MigrationProposed event
func NewMigrationProposed(plan *domain.MigrationPlan) MigrationProposed {
	return MigrationProposed{BaseEvent: now(), Plan: plan}
}

// MigrationProgressed is raised before each item of an executing plan
type MigrationProgressed struct {
	BaseEvent
	PlanID   string
	Progress domain.MigrationProgress
}

// EventName returns the event name
func (e MigrationProgressed) EventName() string { return NameMigrationProgressed }

// NewMigrationProgressed creates a new MigrationProgressed event
func NewMigrationProgressed(planID string, p domain.MigrationProgress) MigrationProgressed {
	return MigrationProgressed{BaseEvent: now(), PlanID: planID, Progress: p}
}

// MigrationCompleted is raised after every item of a plan was attempted,
// or when the destination could not be opened at all (Aborted).
type MigrationCompleted struct {
	BaseEvent
	PlanID      string
	Destination domain.StorageLocation
	Result      domain.MigrationResult
	Aborted     bool
	Duration    time.Duration
}

// EventName returns the event name
func (e MigrationCompleted) EventName() string { return NameMigrationCompleted }

// Message returns the migration summary
func (e MigrationCompleted) Message() string {
	if e.Aborted {
		return "Cannot access new folder"
	}
	return e.Result.Message()
}

// NewMigrationCompleted creates a new MigrationCompleted event
func NewMigrationCompleted(planID string, dest domain.StorageLocation, result domain.MigrationResult, aborted bool, d time.Duration) MigrationCompleted {
	return MigrationCompleted{BaseEvent: now(), PlanID: planID, Destination: dest, Result: result, Aborted: aborted, Duration: d}
}

// MigrationDiscarded is raised when a plan was skipped or cancelled
type MigrationDiscarded struct {
	BaseEvent
	PlanID  string
	Skipped bool
}

// EventName returns the event name
func (e MigrationDiscarded) EventName() string { return NameMigrationDiscarded }

// NewMigrationDiscarded creates a new MigrationDiscarded event
func NewMigrationDiscarded(planID string, skipped bool) MigrationDiscarded {
	return MigrationDiscarded{BaseEvent: now(), PlanID: planID, Skipped: skipped}
}

// LocationChanged is raised when the active storage location changed
type LocationChanged struct {
	BaseEvent
	Previous domain.StorageLocation
	Current  domain.StorageLocation
}

// EventName returns the event name
func (e LocationChanged) EventName() string { return NameLocationChanged }

// NewLocationChanged creates a new LocationChanged event
func NewLocationChanged(prev, cur domain.StorageLocation) LocationChanged {
	return LocationChanged{BaseEvent: now(), Previous: prev, Current: cur}
}

// AssetDeleted is raised when a stored asset was removed
type AssetDeleted struct {
	BaseEvent
	Filename string
	Location string
}

// EventName returns the event name
func (e AssetDeleted) EventName() string { return NameAssetDeleted }

// NewAssetDeleted creates a new AssetDeleted event
func NewAssetDeleted(filename, location string) AssetDeleted {
	return AssetDeleted{BaseEvent: now(), Filename: filename, Location: location}
}
