package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
	"github.com/lmplayground/model-store/internal/util/ratelimiter"
)

var errTooManyRedirects = errors.New("too many redirects")

// transferError carries an already classified failure
type transferError struct {
	reason domain.FailureReason
	err    error
}

func (e *transferError) Error() string { return e.err.Error() }
func (e *transferError) Unwrap() error { return e.err }

func failWith(reason domain.FailureReason, format string, args ...any) error {
	return &transferError{reason: reason, err: fmt.Errorf(format, args...)}
}

// transfer streams rec.Locator into the staging area, resuming a partial
// file with a Range request when one exists
func (m *Manager) transfer(ctx context.Context, rec *domain.DownloadRecord) (*domain.DownloadResult, error) {
	existing := m.staging.PartialSize(rec.Filename)

	resp, err := m.get(ctx, rec.Locator, existing)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && existing > 0 {
		resp.Body.Close()
		if total := parseContentRangeTotal(resp.Header.Get("Content-Range")); total == existing {
			// The partial file already holds the whole body
			if _, err := m.staging.Commit(rec.Filename); err != nil {
				return nil, err
			}
			rec.UpdateProgress(existing, existing)
			return &domain.DownloadResult{StagedPath: rec.Filename, Resumed: true, ResumedFrom: existing}, nil
		}

		m.logger.Warn("resume rejected, starting fresh",
			zap.Int64("task_id", rec.ID),
			zap.Int64("partial_bytes", existing))
		if err := m.staging.RemovePartial(rec.Filename); err != nil {
			return nil, err
		}
		existing = 0
		if resp, err = m.get(ctx, rec.Locator, 0); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	resume := false
	switch {
	case resp.StatusCode == http.StatusPartialContent && existing > 0:
		if start := parseContentRangeStart(resp.Header.Get("Content-Range")); start != existing {
			return nil, failWith(domain.FailureCannotResume,
				"server resumed at byte %d, partial file has %d", start, existing)
		}
		resume = true
	case resp.StatusCode == http.StatusOK:
		if existing > 0 {
			m.logger.Info("server ignored range request, starting fresh",
				zap.Int64("task_id", rec.ID))
		}
		existing = 0
	case resp.StatusCode >= 500:
		return nil, failWith(domain.FailureServerError, "server returned %s", resp.Status)
	default:
		return nil, failWith(domain.FailureUnknown, "unexpected response %s", resp.Status)
	}

	var total int64
	if resume {
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	}
	if total <= 0 && resp.ContentLength >= 0 {
		total = existing + resp.ContentLength
	}

	if m.space != nil && total > 0 {
		check, err := m.space.CheckSpace(total - existing)
		if err != nil {
			m.logger.Warn("space check failed, continuing",
				zap.Int64("task_id", rec.ID),
				zap.Error(err))
		} else if !check.HasSpace {
			return nil, failWith(domain.FailureInsufficientSpace,
				"need %d bytes, %d available", check.RequiredBytes, check.AvailableBytes)
		}
	}

	rec.UpdateProgress(existing, total)
	if err := m.records.UpdateProgress(ctx, rec.ID, existing, total); err != nil {
		m.logger.Warn("failed to update download progress",
			zap.Int64("task_id", rec.ID),
			zap.Error(err))
	}

	if resume {
		m.logger.Info("resuming download",
			zap.Int64("task_id", rec.ID),
			zap.Int64("from_byte", existing))
	}

	pr := &progressReader{
		ctx:          ctx,
		reader:       resp.Body,
		taskID:       rec.ID,
		total:        total,
		records:      m.records,
		initialBytes: existing,
		limiter:      ratelimiter.New(m.config.ProgressInterval),
	}

	written, err := m.staging.WritePartial(rec.Filename, pr, resume)
	if err != nil {
		return nil, err
	}
	if total > 0 && written != total {
		return nil, failWith(domain.FailureNetworkError, "transfer ended at %d of %d bytes", written, total)
	}

	if _, err := m.staging.Commit(rec.Filename); err != nil {
		return nil, err
	}

	return &domain.DownloadResult{
		StagedPath:   rec.Filename,
		BytesWritten: written - existing,
		Resumed:      resume,
		ResumedFrom:  existing,
	}, nil
}

func (m *Manager) get(ctx context.Context, locator string, from int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, failWith(domain.FailureUnknown, "bad locator: %v", err)
	}
	req.Header.Set("User-Agent", m.config.UserAgent)
	if from > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(from, 10)+"-")
	}
	return m.client.Do(req)
}

// parseContentRangeStart parses "bytes start-end/total"
func parseContentRangeStart(h string) int64 {
	rng, ok := strings.CutPrefix(h, "bytes ")
	if !ok {
		return -1
	}
	startStr, _, ok := strings.Cut(rng, "-")
	if !ok {
		return -1
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return -1
	}
	return start
}

// parseContentRangeTotal parses the total of "bytes start-end/total" or "bytes */total"
func parseContentRangeTotal(h string) int64 {
	_, totalStr, ok := strings.Cut(h, "/")
	if !ok {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(totalStr), 10, 64)
	if err != nil {
		return -1
	}
	return total
}

// classify maps a transfer error onto a failure reason
func classify(err error) domain.FailureReason {
	var te *transferError
	if errors.As(err, &te) {
		return te.reason
	}

	switch {
	case errors.Is(err, errTooManyRedirects):
		return domain.FailureTooManyRedirects
	case errors.Is(err, domain.ErrInsufficientSpace):
		return domain.FailureInsufficientSpace
	case errors.Is(err, domain.ErrConflict):
		return domain.FailureFileConflict
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrNotFound):
		return domain.FailureDeviceUnavailable
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, context.DeadlineExceeded):
		return domain.FailureNetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.FailureNetworkError
	}
	var readErr *readError
	if errors.As(err, &readErr) {
		return domain.FailureNetworkError
	}
	return domain.FailureUnknown
}

// readError marks failures reading the response body
type readError struct{ err error }

func (e *readError) Error() string { return "read body: " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// progressReader wraps the response body to persist progress periodically
type progressReader struct {
	ctx          context.Context
	reader       io.Reader
	taskID       int64
	total        int64
	records      port.DownloadRecordRepository
	initialBytes int64
	bytesRead    int64
	limiter      *ratelimiter.Limiter
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)

	if ok, _ := r.limiter.Allow(); ok {
		r.records.UpdateProgress(r.ctx, r.taskID, r.initialBytes+r.bytesRead, r.total)
	}

	if err != nil && err != io.EOF {
		return n, &readError{err: err}
	}
	return n, err
}

