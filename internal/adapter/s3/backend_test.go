package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
)

// fakeS3 is an in-memory bucket
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	mimes     map[string]string
	headErr   error
	putErr    error
	partErr   error
	pageLimit int

	uploads  map[string]map[int32][]byte
	puts     int
	aborted  int
	partSeen []int64
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:   map[string][]byte{},
		mimes:     map[string]string{},
		uploads:   map[string]map[int32][]byte{},
		pageLimit: 1,
	}
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		rest, ok := strings.CutPrefix(k, prefix)
		if ok && !strings.Contains(rest, "/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := start + f.pageLimit
	out := &awss3.ListObjectsV2Output{}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = data
	f.mimes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *awss3.CreateMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = map[int32][]byte{}
	f.mimes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &awss3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *awss3.UploadPartInput, _ ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partSeen = append(f.partSeen, aws.ToInt64(in.ContentLength))
	if f.partErr != nil && len(f.partSeen) > 1 {
		return nil, f.partErr
	}
	f.uploads[aws.ToString(in.UploadId)][aws.ToInt32(in.PartNumber)] = data
	return &awss3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *awss3.CompleteMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.ToString(in.UploadId)]
	var data []byte
	for _, p := range in.MultipartUpload.Parts {
		data = append(data, parts[aws.ToInt32(p.PartNumber)]...)
	}
	f.objects[aws.ToString(in.Key)] = data
	delete(f.uploads, aws.ToString(in.UploadId))
	return &awss3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *awss3.AbortMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	delete(f.uploads, aws.ToString(in.UploadId))
	return &awss3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, _ ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &awss3.HeadBucketOutput{}, nil
}

func newTestBackend(t *testing.T, api API, raw string) *Backend {
	t.Helper()
	loc, err := domain.ParseStorageLocation(raw)
	require.NoError(t, err)
	b, err := NewBackend(api, loc, t.TempDir())
	require.NoError(t, err)
	return b
}

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.objects["models/nested/x.gguf"] = []byte("nested")
	api.objects["other.gguf"] = []byte("outside prefix")
	b := newTestBackend(t, api, "s3://bucket/models")

	for _, name := range []string{"a.gguf", "b.gguf"} {
		w, err := b.OpenForWrite(ctx, name, port.OctetStream)
		require.NoError(t, err)
		_, err = io.WriteString(w, "data-"+name)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	assert.Equal(t, port.OctetStream, api.mimes["models/a.gguf"])

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2, "paginated listing skips nested keys and other prefixes")
	assert.Equal(t, "a.gguf", entries[0].Name)
	assert.Equal(t, int64(len("data-a.gguf")), entries[0].SizeBytes)

	r, err := b.OpenForRead(ctx, entries[1].Handle)
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "data-b.gguf", string(data))

	require.NoError(t, b.Delete(ctx, "a.gguf"))
	_, err = b.OpenForRead(ctx, "a.gguf")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackend_AccessDenied(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	b := newTestBackend(t, api, "s3://bucket")

	_, err := b.OpenForWrite(ctx, "a.gguf", port.OctetStream)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = b.UsageStats(ctx)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestBackend_FailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.putErr = &smithy.GenericAPIError{Code: "QuotaExceeded"}
	b := newTestBackend(t, api, "s3://bucket")

	w, err := b.OpenForWrite(ctx, "a.gguf", port.OctetStream)
	require.NoError(t, err)
	_, _ = io.WriteString(w, "x")
	err = w.Close()
	assert.ErrorIs(t, err, domain.ErrInsufficientSpace)
	assert.Empty(t, api.objects)
}

func TestBackend_UsageStatsUnlimited(t *testing.T) {
	b := newTestBackend(t, newFakeS3(), "s3://bucket")
	usage, err := b.UsageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UnlimitedBytes, usage.AvailableBytes)
}

func TestBackend_LargeObjectUsesMultipart(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	b := newTestBackend(t, api, "s3://bucket/models")
	b.partSize = 4

	w, err := b.OpenForWrite(ctx, "big.gguf", port.OctetStream)
	require.NoError(t, err)
	_, err = io.WriteString(w, "0123456789")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "0123456789", string(api.objects["models/big.gguf"]))
	assert.Equal(t, []int64{4, 4, 2}, api.partSeen)
	assert.Zero(t, api.puts, "objects over the part size never go through PutObject")
	assert.Empty(t, api.uploads)
	assert.Equal(t, port.OctetStream, api.mimes["models/big.gguf"])
}

func TestBackend_FailedPartAbortsUpload(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.partErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	b := newTestBackend(t, api, "s3://bucket")
	b.partSize = 4

	w, err := b.OpenForWrite(ctx, "big.gguf", port.OctetStream)
	require.NoError(t, err)
	_, _ = io.WriteString(w, "0123456789")
	err = w.Close()
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Equal(t, 1, api.aborted)
	assert.Empty(t, api.uploads)
	assert.Empty(t, api.objects)
}
