package location

import (
	"context"
	"fmt"
	"sync"

	"github.com/lmplayground/model-store/internal/adapter/filesystem"
	"github.com/lmplayground/model-store/internal/adapter/s3"
	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
)

// S3ClientFactory builds the S3 API client on first use
type S3ClientFactory func(ctx context.Context) (s3.API, error)

// Resolver maps location identifiers to storage backends by scheme
type Resolver struct {
	s3Factory S3ClientFactory
	tempDir   string

	mu       sync.Mutex
	s3Client s3.API
}

// Ensure Resolver implements port.BackendResolver
var _ port.BackendResolver = (*Resolver)(nil)

// NewResolver creates a resolver. A nil s3Factory disables s3:// locations.
// tempDir buffers uploads to object storage.
func NewResolver(s3Factory S3ClientFactory, tempDir string) *Resolver {
	return &Resolver{s3Factory: s3Factory, tempDir: tempDir}
}

// NewS3ClientFactory returns a factory using the default AWS credential chain
func NewS3ClientFactory(cfg s3.ClientConfig) S3ClientFactory {
	return func(ctx context.Context) (s3.API, error) {
		return s3.NewClient(ctx, cfg)
	}
}

// Resolve returns the backend serving loc
func (r *Resolver) Resolve(ctx context.Context, loc domain.StorageLocation) (port.StorageBackend, error) {
	if !loc.Configured() {
		return nil, domain.ErrNotConfigured
	}

	switch loc.Scheme() {
	case domain.SchemeFile:
		return filesystem.NewLocalBackend(loc)
	case domain.SchemeS3:
		api, err := r.s3(ctx)
		if err != nil {
			return nil, err
		}
		return s3.NewBackend(api, loc, r.tempDir)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidLocation, loc.Scheme())
	}
}

func (r *Resolver) s3(ctx context.Context) (s3.API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.s3Client != nil {
		return r.s3Client, nil
	}
	if r.s3Factory == nil {
		return nil, fmt.Errorf("%w: s3 storage is not enabled", domain.ErrInvalidLocation)
	}
	client, err := r.s3Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
	}
	r.s3Client = client
	return client, nil
}
