package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/port"
)

// AssetHandle is an open read handle on a stored asset. The owner must call
// Close on every exit path; Close is idempotent.
type AssetHandle struct {
	filename string
	path     string
	size     int64
	rc       io.ReadCloser
	logger   *zap.Logger

	once     sync.Once
	closeErr error
}

// Filename returns the stored filename
func (h *AssetHandle) Filename() string { return h.filename }

// Path returns the local path of the asset, or "" when the location is remote
func (h *AssetHandle) Path() string { return h.path }

// Size returns the size reported by the listing
func (h *AssetHandle) Size() int64 { return h.size }

// Read reads from the asset
func (h *AssetHandle) Read(p []byte) (int, error) {
	return h.rc.Read(p)
}

// Close releases the handle
func (h *AssetHandle) Close() error {
	h.once.Do(func() {
		h.closeErr = h.rc.Close()
		if h.closeErr != nil {
			h.logger.Warn("failed to close asset handle",
				zap.String("filename", h.filename),
				zap.Error(h.closeErr))
		} else {
			h.logger.Debug("asset handle closed", zap.String("filename", h.filename))
		}
	})
	return h.closeErr
}

// OpenAsset opens a stored asset of the active location for reading
func (r *Registry) OpenAsset(ctx context.Context, filename string) (*AssetHandle, error) {
	backend, err := r.Backend(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := r.find(ctx, backend, filename)
	if err != nil {
		return nil, err
	}

	rc, err := backend.OpenForRead(ctx, entry.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	h := &AssetHandle{
		filename: filename,
		size:     entry.SizeBytes,
		rc:       rc,
		logger:   r.logger,
	}
	if lp, ok := backend.(port.LocalPather); ok {
		h.path = lp.LocalPath(filename)
	}
	return h, nil
}
