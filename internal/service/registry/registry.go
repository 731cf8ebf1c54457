package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/domain/event"
	"github.com/lmplayground/model-store/internal/port"
)

// KeyStorageURI is the configuration key holding the active location
const KeyStorageURI = "model_storage_uri"

// Usage describes the capacity of the active location
type Usage struct {
	Location       string `json:"location"`
	TotalBytes     int64  `json:"total_bytes"`
	AvailableBytes int64  `json:"available_bytes"`
	UsedBytes      int64  `json:"used_bytes"`
}

// Registry owns the single active storage location
type Registry struct {
	store      port.ConfigStore
	resolver   port.BackendResolver
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu     sync.RWMutex
	active domain.StorageLocation
}

// New creates a Registry. Call Load before use.
func New(store port.ConfigStore, resolver port.BackendResolver, dispatcher event.EventDispatcher, logger *zap.Logger) *Registry {
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Registry{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Load reads the persisted location. A value that does not parse is cleared
// and the registry stays unconfigured.
func (r *Registry) Load(ctx context.Context) error {
	raw, ok, err := r.store.Get(ctx, KeyStorageURI)
	if err != nil {
		return fmt.Errorf("failed to read storage location: %w", err)
	}
	if !ok {
		r.logger.Info("storage location not configured")
		return nil
	}

	loc, err := domain.ParseStorageLocation(raw)
	if err != nil {
		r.logger.Warn("stored location is invalid, clearing",
			zap.String("value", raw),
			zap.Error(err))
		if err := r.store.Clear(ctx, KeyStorageURI); err != nil {
			return fmt.Errorf("failed to clear invalid storage location: %w", err)
		}
		return nil
	}

	r.mu.Lock()
	r.active = loc
	r.mu.Unlock()

	r.logger.Info("storage location loaded", zap.String("location", loc.Identifier))
	return nil
}

// Active returns the active location; the zero value when unconfigured
func (r *Registry) Active() domain.StorageLocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// IsConfigured reports whether a location has been set
func (r *Registry) IsConfigured() bool {
	return r.Active().Configured()
}

// SetActive persists loc and makes it active
func (r *Registry) SetActive(ctx context.Context, loc domain.StorageLocation) error {
	if !loc.Configured() {
		return fmt.Errorf("%w: cannot activate %s", domain.ErrInvalidLocation, loc)
	}

	r.mu.Lock()
	prev := r.active
	if err := r.store.Set(ctx, KeyStorageURI, loc.Identifier); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to persist storage location: %w", err)
	}
	r.active = loc
	r.mu.Unlock()

	if !prev.Equal(loc) {
		r.dispatcher.Dispatch(event.NewLocationChanged(prev, loc))
	}
	return nil
}

// Backend resolves the backend of the active location
func (r *Registry) Backend(ctx context.Context) (port.StorageBackend, error) {
	return r.BackendFor(ctx, r.Active())
}

// BackendFor resolves the backend of any configured location
func (r *Registry) BackendFor(ctx context.Context, loc domain.StorageLocation) (port.StorageBackend, error) {
	if !loc.Configured() {
		return nil, domain.ErrNotConfigured
	}
	return r.resolver.Resolve(ctx, loc)
}

// ListStored lists the entries of the active location
func (r *Registry) ListStored(ctx context.Context) ([]port.StorageEntry, error) {
	backend, err := r.Backend(ctx)
	if err != nil {
		return nil, err
	}
	return backend.List(ctx)
}

// find returns the entry named filename in the active location
func (r *Registry) find(ctx context.Context, backend port.StorageBackend, filename string) (port.StorageEntry, error) {
	entries, err := backend.List(ctx)
	if err != nil {
		return port.StorageEntry{}, err
	}
	for _, e := range entries {
		if e.Name == filename {
			return e, nil
		}
	}
	return port.StorageEntry{}, fmt.Errorf("%s: %w", filename, domain.ErrNotFound)
}

// DeleteAsset removes a stored asset from the active location
func (r *Registry) DeleteAsset(ctx context.Context, filename string) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return domain.ErrInvalidInput
	}
	backend, err := r.Backend(ctx)
	if err != nil {
		return err
	}
	if _, err := r.find(ctx, backend, filename); err != nil {
		return err
	}
	if err := backend.Delete(ctx, filename); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}

	r.logger.Info("asset deleted",
		zap.String("filename", filename),
		zap.String("location", backend.Location().Identifier))
	r.dispatcher.Dispatch(event.NewAssetDeleted(filename, backend.Location().Identifier))
	return nil
}

// Usage reports capacity of the active location. UsedBytes counts model
// files only.
func (r *Registry) Usage(ctx context.Context) (Usage, error) {
	loc := r.Active()
	if !loc.Configured() {
		return Usage{Location: loc.String()}, domain.ErrNotConfigured
	}
	backend, err := r.BackendFor(ctx, loc)
	if err != nil {
		return Usage{Location: loc.String()}, err
	}

	entries, err := backend.List(ctx)
	if err != nil {
		return Usage{Location: loc.String()}, err
	}
	u := Usage{Location: loc.String()}
	for _, e := range entries {
		if domain.IsModelFile(e.Name) {
			u.UsedBytes += e.SizeBytes
		}
	}

	stats, err := backend.UsageStats(ctx)
	if err != nil {
		r.logger.Debug("usage stats unavailable", zap.Error(err))
		return u, nil
	}
	u.TotalBytes = stats.TotalBytes
	u.AvailableBytes = stats.AvailableBytes
	return u, nil
}
