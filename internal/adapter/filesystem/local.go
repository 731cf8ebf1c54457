package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
)

// partialSuffix marks an in-progress write that is not yet visible
const partialSuffix = ".partial"

// LocalBackend stores assets as plain files in one directory
type LocalBackend struct {
	loc       domain.StorageLocation
	root      string
	diskUsage DiskUsageFunc
}

// Ensure LocalBackend implements port.StorageBackend
var _ port.StorageBackend = (*LocalBackend)(nil)

// NewLocalBackend creates a backend for a file:// location.
// The directory must already exist; a missing directory surfaces as
// domain.ErrAccessDenied from backend calls.
func NewLocalBackend(loc domain.StorageLocation) (*LocalBackend, error) {
	if loc.Scheme() != domain.SchemeFile {
		return nil, fmt.Errorf("%w: %s is not a local location", domain.ErrInvalidLocation, loc)
	}
	return &LocalBackend{
		loc:       loc,
		root:      filepath.FromSlash(loc.Path()),
		diskUsage: GetDiskUsage,
	}, nil
}

// Location returns the location this backend serves
func (b *LocalBackend) Location() domain.StorageLocation {
	return b.loc
}

// Root returns the directory backing the location
func (b *LocalBackend) Root() string {
	return b.root
}

// LocalPath returns the path an entry lives at
func (b *LocalBackend) LocalPath(name string) string {
	return filepath.Join(b.root, name)
}

// List returns the regular files of the directory
func (b *LocalBackend) List(ctx context.Context) ([]port.StorageEntry, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, mapRootError(err)
	}

	out := make([]port.StorageEntry, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), partialSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		out = append(out, port.StorageEntry{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			Handle:    e.Name(),
		})
	}
	return out, nil
}

// OpenForRead opens an entry by handle
func (b *LocalBackend) OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := validName(handle); err != nil {
		return nil, err
	}
	f, err := os.Open(b.LocalPath(handle))
	if err != nil {
		return nil, mapOSError(err)
	}
	return f, nil
}

// OpenForWrite creates name through a partial file renamed on Close
func (b *LocalBackend) OpenForWrite(ctx context.Context, name, mime string) (io.WriteCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if _, err := os.Stat(b.root); err != nil {
		return nil, mapRootError(err)
	}

	final := b.LocalPath(name)
	tmp := final + partialSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, mapOSError(err)
	}
	return &renameOnClose{f: f, tmp: tmp, final: final}, nil
}

// Delete removes name
func (b *LocalBackend) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(b.LocalPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", mapOSError(err))
	}
	return nil
}

// UsageStats returns capacity of the filesystem holding the directory
func (b *LocalBackend) UsageStats(ctx context.Context) (port.StorageUsage, error) {
	if _, err := os.Stat(b.root); err != nil {
		return port.StorageUsage{}, mapRootError(err)
	}
	usage, err := b.diskUsage(ctx, b.root)
	if err != nil {
		return port.StorageUsage{}, err
	}
	return port.StorageUsage{
		TotalBytes:     int64(usage.Total),
		AvailableBytes: int64(usage.Free),
	}, nil
}

// renameOnClose publishes the written file only after a clean close.
// Abort discards it.
type renameOnClose struct {
	f      *os.File
	tmp    string
	final  string
	failed bool
	closed bool
}

func (w *renameOnClose) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.failed = true
		return n, mapOSError(err)
	}
	return n, nil
}

// Close commits the write unless a previous Write failed
func (w *renameOnClose) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("failed to close file: %w", mapOSError(err))
	}
	if w.failed {
		os.Remove(w.tmp)
		return fmt.Errorf("%w: write did not complete", domain.ErrUnknown)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("failed to rename temp file: %w", mapOSError(err))
	}
	return nil
}

// Abort discards the partial file
func (w *renameOnClose) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.f.Close()
	return os.Remove(w.tmp)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: bad file name %q", domain.ErrInvalidInput, name)
	}
	return nil
}
