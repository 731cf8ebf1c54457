package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/lmplayground/model-store/internal/port"
)

// LegacyDir is the read-only downloads directory used before a storage
// location was ever configured
type LegacyDir struct {
	dir string
}

// Ensure LegacyDir implements port.LegacySource
var _ port.LegacySource = (*LegacyDir)(nil)

// NewLegacyDir creates a legacy source for dir. The directory may not exist.
func NewLegacyDir(dir string) *LegacyDir {
	return &LegacyDir{dir: dir}
}

// List returns the plain files of the directory.
// A missing directory lists as empty.
func (l *LegacyDir) List(ctx context.Context) ([]port.StorageEntry, error) {
	if l.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapRootError(err)
	}

	var out []port.StorageEntry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, port.StorageEntry{Name: e.Name(), SizeBytes: info.Size(), Handle: e.Name()})
	}
	return out, nil
}

// Open opens a file by name
func (l *LegacyDir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return nil, mapOSError(err)
	}
	return f, nil
}
