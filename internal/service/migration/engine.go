package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/port"
)

// Config contains migration engine configuration
type Config struct {
	CopyBufferSize int
}

// DefaultConfig returns default migration configuration
func DefaultConfig() *Config {
	return &Config{CopyBufferSize: 8192}
}

// Registry is the storage location registry as seen by the engine
type Registry interface {
	Active() domain.StorageLocation
	SetActive(ctx context.Context, loc domain.StorageLocation) error
	BackendFor(ctx context.Context, loc domain.StorageLocation) (port.StorageBackend, error)
}

// Catalog filters storage listings down to known assets
type Catalog interface {
	StoredAssets(entries []port.StorageEntry) []domain.StoredAsset
	KnownOnly(assets []domain.StoredAsset) []domain.StoredAsset
}

// Engine plans and executes moves of stored assets between locations.
// At most one plan is outstanding at a time.
type Engine struct {
	config     *Config
	registry   Registry
	legacy     port.LegacySource
	catalog    Catalog
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu       sync.Mutex
	state    domain.MigrationState
	plan     *domain.MigrationPlan
	progress *domain.MigrationProgress
}

// New creates a migration Engine
func New(
	cfg *Config,
	registry Registry,
	legacy port.LegacySource,
	catalog Catalog,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CopyBufferSize == 0 {
		cfg.CopyBufferSize = 8192
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Engine{
		config:     cfg,
		registry:   registry,
		legacy:     legacy,
		catalog:    catalog,
		dispatcher: dispatcher,
		logger:     logger,
		state:      domain.MigrationIdle,
	}
}

// State returns the current state of the engine
func (e *Engine) State() domain.MigrationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PendingPlan returns a copy of the proposed plan, or nil
func (e *Engine) PendingPlan() *domain.MigrationPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.MigrationPlanProposed {
		return nil
	}
	return e.plan.Clone()
}

// Progress returns the progress of an executing plan, or nil
func (e *Engine) Progress() *domain.MigrationProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.progress == nil {
		return nil
	}
	p := *e.progress
	return &p
}

// Propose requests newLoc as the active location. When the current source
// holds known assets a plan is returned and awaits Confirm, Skip or Cancel;
// otherwise newLoc is activated directly and the returned plan is nil.
func (e *Engine) Propose(ctx context.Context, newLoc domain.StorageLocation) (*domain.MigrationPlan, error) {
	if !newLoc.Configured() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidLocation, newLoc)
	}

	e.mu.Lock()
	if e.state != domain.MigrationIdle {
		e.mu.Unlock()
		return nil, domain.ErrMigrationInProgress
	}
	e.state = domain.MigrationPlanning
	e.mu.Unlock()

	plan, err := e.buildPlan(ctx, newLoc)

	e.mu.Lock()
	if err != nil || plan == nil {
		e.state = domain.MigrationIdle
		e.mu.Unlock()
		return nil, err
	}
	e.plan = plan
	e.state = domain.MigrationPlanProposed
	e.mu.Unlock()

	e.logger.Info("migration proposed",
		zap.String("plan_id", plan.ID),
		zap.String("source", plan.Source.String()),
		zap.String("destination", plan.Destination.Identifier),
		zap.Int("items", len(plan.Items)))
	e.dispatcher.Dispatch(event.NewMigrationProposed(plan.Clone()))
	return plan.Clone(), nil
}

// buildPlan inspects the source and either builds a plan or activates newLoc.
// Runs in the Planning state.
func (e *Engine) buildPlan(ctx context.Context, newLoc domain.StorageLocation) (*domain.MigrationPlan, error) {
	current := e.registry.Active()

	var (
		source domain.StorageLocation
		items  []domain.StoredAsset
		legacy = !current.Configured()
	)

	if legacy {
		source = domain.LegacyDefaultLocation
		items = e.inspectLegacy(ctx)
	} else {
		if current.Equal(newLoc) {
			e.logger.Debug("requested location is already active", zap.String("location", newLoc.Identifier))
			return nil, nil
		}
		source = current
		items = e.inspect(ctx, current)
	}

	if len(items) == 0 {
		if err := e.registry.SetActive(ctx, newLoc); err != nil {
			return nil, err
		}
		e.logger.Info("storage location set", zap.String("location", newLoc.Identifier))
		return nil, nil
	}

	return &domain.MigrationPlan{
		ID:                  uuid.NewString(),
		Source:              source,
		Destination:         newLoc,
		Items:               items,
		IsFromLegacyDefault: legacy,
		CreatedAt:           time.Now(),
	}, nil
}

// inspectLegacy lists known assets in the legacy directory. An unreadable
// directory counts as empty.
func (e *Engine) inspectLegacy(ctx context.Context) []domain.StoredAsset {
	if e.legacy == nil {
		return nil
	}
	entries, err := e.legacy.List(ctx)
	if err != nil {
		e.logger.Warn("legacy location not readable", zap.Error(err))
		return nil
	}
	return e.catalog.KnownOnly(e.catalog.StoredAssets(entries))
}

// inspect lists known assets of a configured location. An inaccessible
// location counts as empty.
func (e *Engine) inspect(ctx context.Context, loc domain.StorageLocation) []domain.StoredAsset {
	backend, err := e.registry.BackendFor(ctx, loc)
	if err != nil {
		e.logger.Warn("current location not resolvable", zap.String("location", loc.Identifier), zap.Error(err))
		return nil
	}
	entries, err := backend.List(ctx)
	if err != nil {
		e.logger.Warn("current location not readable", zap.String("location", loc.Identifier), zap.Error(err))
		return nil
	}
	return e.catalog.KnownOnly(e.catalog.StoredAssets(entries))
}

// take consumes the proposed plan and moves the engine to next
func (e *Engine) take(next domain.MigrationState) (*domain.MigrationPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.MigrationPlanProposed || e.plan == nil {
		return nil, domain.ErrNoPendingMigration
	}
	plan := e.plan
	e.plan = nil
	e.state = next
	return plan, nil
}

// Skip activates the destination without copying and discards the plan
func (e *Engine) Skip(ctx context.Context) error {
	plan, err := e.take(domain.MigrationExecuting)
	if err != nil {
		return err
	}

	if err := e.registry.SetActive(ctx, plan.Destination); err != nil {
		e.mu.Lock()
		e.plan = plan
		e.state = domain.MigrationPlanProposed
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.state = domain.MigrationIdle
	e.mu.Unlock()

	e.logger.Info("migration skipped", zap.String("plan_id", plan.ID))
	e.dispatcher.Dispatch(event.NewMigrationDiscarded(plan.ID, true))
	return nil
}

// Cancel discards the plan and leaves the active location unchanged
func (e *Engine) Cancel() error {
	plan, err := e.take(domain.MigrationIdle)
	if err != nil {
		return err
	}
	e.logger.Info("migration cancelled", zap.String("plan_id", plan.ID))
	e.dispatcher.Dispatch(event.NewMigrationDiscarded(plan.ID, false))
	return nil
}
