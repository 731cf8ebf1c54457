package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lmplayground/model-store/internal/port"
)

// DownloadingSuffix marks a transfer that has not completed yet
const DownloadingSuffix = ".downloading"

// Staging is the directory the download subsystem writes into before an
// asset is finalized into storage.
type Staging struct {
	rootDir    string
	bufferSize int
}

// Ensure Staging implements port.StagingArea
var _ port.StagingArea = (*Staging)(nil)

// NewStaging creates the staging directory if needed
func NewStaging(rootDir string, bufferSize int) (*Staging, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 8 * 1024 * 1024 // 8MB default
	}

	return &Staging{
		rootDir:    rootDir,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the staging directory
func (s *Staging) RootDir() string {
	return s.rootDir
}

// BufferSize returns the copy buffer size
func (s *Staging) BufferSize() int {
	return s.bufferSize
}

// Path returns the path of a completed staged file
func (s *Staging) Path(filename string) string {
	return filepath.Join(s.rootDir, filename)
}

// PartialPath returns the path of an in-progress transfer
func (s *Staging) PartialPath(filename string) string {
	return s.Path(filename) + DownloadingSuffix
}

// Exists reports whether a completed staged file exists
func (s *Staging) Exists(filename string) bool {
	info, err := os.Stat(s.Path(filename))
	return err == nil && info.Mode().IsRegular()
}

// Open opens a completed staged file
func (s *Staging) Open(filename string) (port.StagedFile, error) {
	if err := validName(filename); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(filename))
	if err != nil {
		return nil, mapOSError(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapOSError(err)
	}
	return &stagedFile{File: f, size: info.Size()}, nil
}

// Remove deletes the staged file and any partial transfer
func (s *Staging) Remove(filename string) error {
	if err := validName(filename); err != nil {
		return err
	}
	for _, p := range []string{s.Path(filename), s.PartialPath(filename)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete staged file: %w", mapOSError(err))
		}
	}
	return nil
}

// RemovePartial deletes only the in-progress transfer of filename
func (s *Staging) RemovePartial(filename string) error {
	if err := os.Remove(s.PartialPath(filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", mapOSError(err))
	}
	return nil
}

// PartialSize returns the size of an in-progress transfer, 0 when absent
func (s *Staging) PartialSize(filename string) int64 {
	info, err := os.Stat(s.PartialPath(filename))
	if err != nil {
		return 0
	}
	return info.Size()
}

// WritePartial streams reader into the partial file of filename.
// With resume the data is appended, otherwise the partial file is truncated.
// Returns the total size of the partial file.
func (s *Staging) WritePartial(filename string, reader io.Reader, resume bool) (int64, error) {
	tempPath := s.PartialPath(filename)

	var existingSize int64
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		if info, statErr := os.Stat(tempPath); statErr == nil {
			existingSize = info.Size()
			flags = os.O_WRONLY | os.O_APPEND
		}
	}

	f, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open temp file: %w", mapOSError(err))
	}

	buf := make([]byte, s.bufferSize)
	written, err := io.CopyBuffer(f, reader, buf)
	if err != nil {
		f.Close()
		return existingSize + written, fmt.Errorf("failed to write file: %w", mapOSError(err))
	}

	if err := f.Close(); err != nil {
		return existingSize + written, fmt.Errorf("failed to close file: %w", mapOSError(err))
	}

	return existingSize + written, nil
}

// Commit publishes a finished partial transfer under its final name
func (s *Staging) Commit(filename string) (string, error) {
	final := s.Path(filename)
	if err := os.Rename(s.PartialPath(filename), final); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", mapOSError(err))
	}
	return final, nil
}

// CleanOldTempFiles removes partial transfers older than the specified duration
// Returns the number of files deleted
func (s *Staging) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return 0, mapOSError(err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != DownloadingSuffix {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if removeErr := os.Remove(filepath.Join(s.rootDir, e.Name())); removeErr == nil {
			count++
		}
	}
	return count, nil
}

// DiskUsage returns usage of the filesystem holding the staging directory
func (s *Staging) DiskUsage(ctx context.Context) (*DiskUsage, error) {
	return GetDiskUsage(ctx, s.rootDir)
}

type stagedFile struct {
	*os.File
	size int64
}

func (f *stagedFile) Size() int64 { return f.size }
