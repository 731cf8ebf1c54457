package filesystem

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, dir string) *LocalBackend {
	t.Helper()
	loc, err := domain.ParseStorageLocation(dir)
	require.NoError(t, err)
	b, err := NewLocalBackend(loc)
	require.NoError(t, err)
	return b
}

func writeEntry(t *testing.T, b *LocalBackend, name, content string) {
	t.Helper()
	w, err := b.OpenForWrite(context.Background(), name, port.OctetStream)
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestLocalBackend_WriteListReadDelete(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, t.TempDir())

	writeEntry(t, b, "m.gguf", "model-bytes")
	require.NoError(t, os.Mkdir(filepath.Join(b.Root(), "sub"), 0755))

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "directories are not listed")
	assert.Equal(t, "m.gguf", entries[0].Name)
	assert.Equal(t, int64(len("model-bytes")), entries[0].SizeBytes)

	r, err := b.OpenForRead(ctx, entries[0].Handle)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))

	require.NoError(t, b.Delete(ctx, "m.gguf"))
	require.NoError(t, b.Delete(ctx, "m.gguf"), "deleting an absent entry is not an error")

	_, err = b.OpenForRead(ctx, "m.gguf")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalBackend_PartialWriteIsInvisible(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, t.TempDir())

	w, err := b.OpenForWrite(ctx, "m.gguf", port.OctetStream)
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)

	entries, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, w.(interface{ Abort() error }).Abort())
	_, err = os.Stat(b.LocalPath("m.gguf") + partialSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalBackend_MissingRootIsAccessDenied(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, filepath.Join(t.TempDir(), "gone"))

	_, err := b.List(ctx)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = b.OpenForWrite(ctx, "m.gguf", port.OctetStream)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = b.UsageStats(ctx)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestLocalBackend_RejectsPathNames(t *testing.T) {
	b := newLocal(t, t.TempDir())
	_, err := b.OpenForWrite(context.Background(), "../escape.gguf", port.OctetStream)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLocalBackend_UsageStats(t *testing.T) {
	b := newLocal(t, t.TempDir())
	b.diskUsage = func(ctx context.Context, path string) (*DiskUsage, error) {
		return &DiskUsage{Total: 1000, Used: 400, Free: 600, UsedPct: 40}, nil
	}

	usage, err := b.UsageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), usage.TotalBytes)
	assert.Equal(t, int64(600), usage.AvailableBytes)
}

func TestStaging_ResumeAndCommit(t *testing.T) {
	s, err := NewStaging(filepath.Join(t.TempDir(), "staging"), 4)
	require.NoError(t, err)

	n, err := s.WritePartial("m.gguf", strings.NewReader("hello "), false)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, int64(6), s.PartialSize("m.gguf"))
	assert.False(t, s.Exists("m.gguf"))

	n, err = s.WritePartial("m.gguf", strings.NewReader("world"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	_, err = s.Commit("m.gguf")
	require.NoError(t, err)
	assert.True(t, s.Exists("m.gguf"))

	f, err := s.Open("m.gguf")
	require.NoError(t, err)
	assert.Equal(t, int64(11), f.Size())
	var buf bytes.Buffer
	_, err = io.Copy(&buf, f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "hello world", buf.String())

	require.NoError(t, s.Remove("m.gguf"))
	assert.False(t, s.Exists("m.gguf"))

	_, err = s.Open("m.gguf")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStaging_CleanOldTempFiles(t *testing.T) {
	s, err := NewStaging(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = s.WritePartial("old.gguf", strings.NewReader("x"), false)
	require.NoError(t, err)
	_, err = s.WritePartial("new.gguf", strings.NewReader("x"), false)
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(s.PartialPath("old.gguf"), past, past))

	count, err := s.CleanOldTempFiles(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(0), s.PartialSize("old.gguf"))
	assert.Equal(t, int64(1), s.PartialSize("new.gguf"))
}

func TestLegacyDir(t *testing.T) {
	ctx := context.Background()

	missing := NewLegacyDir(filepath.Join(t.TempDir(), "none"))
	entries, err := missing.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "known.gguf"), []byte("abc"), 0644))
	legacy := NewLegacyDir(dir)

	entries, err = legacy.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].SizeBytes)

	r, err := legacy.Open(ctx, "known.gguf")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "abc", string(data))
}

func TestSpaceChecker_CheckSpace(t *testing.T) {
	const gb = 1024 * 1024 * 1024

	tests := []struct {
		name            string
		reserve         int64
		maxDiskUsagePct float64
		usage           *DiskUsage
		remaining       int64
		wantHasSpace    bool
	}{
		{
			name:            "has space - well under limits",
			reserve:         1 * gb,
			maxDiskUsagePct: 95,
			usage:           &DiskUsage{Total: 1000 * gb, Used: 400 * gb, Free: 600 * gb, UsedPct: 40},
			remaining:       4 * gb,
			wantHasSpace:    true,
		},
		{
			name:         "limited by free bytes",
			usage:        &DiskUsage{Total: 100 * gb, Used: 98 * gb, Free: 2 * gb, UsedPct: 98},
			remaining:    3 * gb,
			wantHasSpace: false,
		},
		{
			name:         "reserve is kept free",
			reserve:      2 * gb,
			usage:        &DiskUsage{Total: 100 * gb, Used: 97 * gb, Free: 3 * gb, UsedPct: 97},
			remaining:    2 * gb,
			wantHasSpace: false,
		},
		{
			name:            "limited by usage percentage",
			maxDiskUsagePct: 80,
			usage:           &DiskUsage{Total: 100 * gb, Used: 75 * gb, Free: 25 * gb, UsedPct: 75},
			remaining:       10 * gb,
			wantHasSpace:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := tt.usage
			sc := NewSpaceChecker("/staging", tt.reserve, tt.maxDiskUsagePct).
				WithUsageFunc(func(ctx context.Context, path string) (*DiskUsage, error) { return usage, nil })

			result, err := sc.CheckSpace(tt.remaining)
			if err != nil {
				t.Fatalf("CheckSpace() error = %v", err)
			}
			if result.HasSpace != tt.wantHasSpace {
				t.Errorf("HasSpace = %v, want %v", result.HasSpace, tt.wantHasSpace)
			}
			if result.AvailableBytes != int64(usage.Free) {
				t.Errorf("AvailableBytes = %d, want %d", result.AvailableBytes, usage.Free)
			}
		})
	}
}
