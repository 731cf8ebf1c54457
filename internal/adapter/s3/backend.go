package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
)

// UnlimitedBytes is reported as available capacity for object storage
const UnlimitedBytes int64 = -1

// DefaultPartSize is the multipart chunk size. Objects up to this size are
// sent with a single PutObject.
const DefaultPartSize int64 = 64 * 1024 * 1024

// maxParts is the S3 limit on parts per multipart upload
const maxParts = 10000

// Backend stores assets as objects under bucket/prefix
type Backend struct {
	api     API
	loc     domain.StorageLocation
	bucket  string
	prefix   string
	tempDir  string
	partSize int64
}

// Ensure Backend implements port.StorageBackend
var _ port.StorageBackend = (*Backend)(nil)

// NewBackend creates a backend for an s3:// location.
// tempDir holds uploads until they are committed on Close.
func NewBackend(api API, loc domain.StorageLocation, tempDir string) (*Backend, error) {
	if loc.Scheme() != domain.SchemeS3 {
		return nil, fmt.Errorf("%w: %s is not an s3 location", domain.ErrInvalidLocation, loc)
	}

	bucket, prefix, _ := strings.Cut(loc.Path(), "/")
	if prefix != "" {
		prefix += "/"
	}

	return &Backend{
		api:      api,
		loc:      loc,
		bucket:   bucket,
		prefix:   prefix,
		tempDir:  tempDir,
		partSize: DefaultPartSize,
	}, nil
}

// Location returns the location this backend serves
func (b *Backend) Location() domain.StorageLocation {
	return b.loc
}

func (b *Backend) key(name string) string {
	return b.prefix + name
}

// List returns objects directly under the prefix
func (b *Backend) List(ctx context.Context) ([]port.StorageEntry, error) {
	var out []port.StorageEntry

	paginator := awss3.NewListObjectsV2Paginator(b.api, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(b.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", mapError(err, true))
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if name == "" || aws.ToString(obj.Key) == b.prefix {
				continue
			}
			out = append(out, port.StorageEntry{
				Name:      name,
				SizeBytes: aws.ToInt64(obj.Size),
				Handle:    aws.ToString(obj.Key),
			})
		}
	}
	return out, nil
}

// OpenForRead streams an object by key
func (b *Backend) OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error) {
	if !strings.HasPrefix(handle, b.prefix) {
		handle = b.key(handle)
	}
	result, err := b.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(handle),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", handle, mapError(err, false))
	}
	return result.Body, nil
}

// OpenForWrite buffers the content to a temp file and uploads on Close
func (b *Backend) OpenForWrite(ctx context.Context, name, mime string) (io.WriteCloser, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: bad object name %q", domain.ErrInvalidInput, name)
	}
	if err := b.probe(ctx); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(b.tempDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload buffer: %w", err)
	}
	if mime == "" {
		mime = port.OctetStream
	}
	return &uploader{ctx: ctx, backend: b, key: b.key(name), mime: mime, f: f}, nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, name string) error {
	_, err := b.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		mapped := mapError(err, false)
		if errors.Is(mapped, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("s3 delete failed for %s: %w", name, mapped)
	}
	return nil
}

// UsageStats verifies access. Object storage has no fixed capacity, so
// available bytes are reported as UnlimitedBytes.
func (b *Backend) UsageStats(ctx context.Context) (port.StorageUsage, error) {
	if err := b.probe(ctx); err != nil {
		return port.StorageUsage{}, err
	}
	return port.StorageUsage{TotalBytes: 0, AvailableBytes: UnlimitedBytes}, nil
}

func (b *Backend) probe(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", b.bucket, mapError(err, true))
	}
	return nil
}

type uploader struct {
	ctx     context.Context
	backend *Backend
	key     string
	mime    string
	f       *os.File
	failed  bool
	closed  bool
}

func (u *uploader) Write(p []byte) (int, error) {
	n, err := u.f.Write(p)
	if err != nil {
		u.failed = true
	}
	return n, err
}

// Close uploads the buffered content
func (u *uploader) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	defer os.Remove(u.f.Name())
	defer u.f.Close()

	if u.failed {
		return fmt.Errorf("%w: write did not complete", domain.ErrUnknown)
	}
	info, err := u.f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > u.backend.partSize {
		return u.backend.putMultipart(u.ctx, u.key, u.mime, u.f, info.Size())
	}

	if _, err := u.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = u.backend.api.PutObject(u.ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(u.backend.bucket),
		Key:         aws.String(u.key),
		Body:        u.f,
		ContentType: aws.String(u.mime),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", mapError(err, false))
	}
	return nil
}

// putMultipart uploads size bytes of f in parts. A failed upload is
// aborted so no parts are left behind.
func (b *Backend) putMultipart(ctx context.Context, key, mime string, f *os.File, size int64) error {
	partSize := b.partSize
	if n := (size + partSize - 1) / partSize; n > maxParts {
		partSize = (size + maxParts - 1) / maxParts
	}

	created, err := b.api.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return fmt.Errorf("s3 multipart create failed: %w", mapError(err, false))
	}
	uploadID := created.UploadId

	var parts []types.CompletedPart
	number := int32(1)
	for offset := int64(0); offset < size; offset += partSize {
		length := min(partSize, size-offset)
		out, err := b.api.UploadPart(ctx, &awss3.UploadPartInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          io.NewSectionReader(f, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			b.abortMultipart(ctx, key, uploadID)
			return fmt.Errorf("s3 upload part %d failed: %w", number, mapError(err, false))
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
		number++
	}

	_, err = b.api.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		b.abortMultipart(ctx, key, uploadID)
		return fmt.Errorf("s3 multipart complete failed: %w", mapError(err, false))
	}
	return nil
}

func (b *Backend) abortMultipart(ctx context.Context, key string, uploadID *string) {
	b.api.AbortMultipartUpload(context.WithoutCancel(ctx), &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
}

// Abort discards the buffered content
func (u *uploader) Abort() error {
	if u.closed {
		return nil
	}
	u.closed = true
	u.f.Close()
	return os.Remove(u.f.Name())
}

// mapError translates S3 errors onto the domain taxonomy. With bucketLevel
// a missing bucket means the whole location is inaccessible.
func mapError(err error, bucketLevel bool) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
		case "NotFound", "NoSuchKey":
			if bucketLevel {
				return fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
			}
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case "EntityTooLarge", "QuotaExceeded":
			return fmt.Errorf("%w: %v", domain.ErrInsufficientSpace, err)
		}
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrNetworkError, err)
}
