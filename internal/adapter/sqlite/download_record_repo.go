package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lmplayground/model-store/internal/domain"
)

const recordColumns = `
	id, locator, filename, status, worker_id, reason,
	bytes_downloaded, bytes_total, retry_count, max_retries,
	next_retry_at, last_error, created_at, claimed_at, updated_at
`

// CreateRecord inserts a new pending record
func (s *Store) CreateRecord(ctx context.Context, rec *domain.DownloadRecord) error {
	now := time.Now()
	query := `
		INSERT INTO downloads (
			locator, filename, status, bytes_total, max_retries, created_at, updated_at
		) VALUES (?, ?, 'pending', ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.Locator, rec.Filename, rec.BytesTotal, rec.MaxRetries, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	rec.ID = id
	rec.Status = domain.DownloadPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// ClaimNext atomically claims the next claimable record for a worker
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*domain.DownloadRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	selectQuery := `SELECT ` + recordColumns + `
		FROM downloads
		WHERE status = 'pending'
		   OR (status = 'paused' AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
		ORDER BY id ASC
		LIMIT 1
	`

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectQuery, now.UnixMilli()))
	if err != nil || rec == nil {
		return nil, err
	}

	updateQuery := `
		UPDATE downloads
		SET status = 'running', worker_id = ?, claimed_at = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, updateQuery, workerID, now.UnixMilli(), now.UnixMilli(), rec.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rec.Claim(workerID)
	return rec, nil
}

// GetRecord retrieves a record by ID
func (s *Store) GetRecord(ctx context.Context, id int64) (*domain.DownloadRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM downloads WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// ListActive returns pending, running and paused records
func (s *Store) ListActive(ctx context.Context) ([]*domain.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`
		FROM downloads
		WHERE status IN ('pending', 'running', 'paused')
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DownloadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateRecord persists a record's state
func (s *Store) UpdateRecord(ctx context.Context, rec *domain.DownloadRecord) error {
	query := `
		UPDATE downloads
		SET status = ?, worker_id = ?, reason = ?, bytes_downloaded = ?, bytes_total = ?,
			retry_count = ?, next_retry_at = ?, last_error = ?, claimed_at = ?, updated_at = ?
		WHERE id = ?
	`

	rec.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, query,
		string(rec.Status), nullString(rec.WorkerID), nullString(string(rec.Reason)),
		rec.BytesDownloaded, rec.BytesTotal, rec.RetryCount,
		nullMillis(rec.NextRetryAt), nullString(rec.LastError), nullMillis(rec.ClaimedAt),
		rec.UpdatedAt.UnixMilli(), rec.ID)
	return err
}

// UpdateProgress persists transfer progress
func (s *Store) UpdateProgress(ctx context.Context, id int64, downloaded, total int64) error {
	query := `
		UPDATE downloads
		SET bytes_downloaded = ?, bytes_total = CASE WHEN ? > 0 THEN ? ELSE bytes_total END, updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query, downloaded, total, total, time.Now().UnixMilli(), id)
	return err
}

// DeleteRecord removes a record by ID
func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM downloads WHERE id = ?", id)
	return err
}

// ReleaseStaleRunning resets running records that made no progress within
// staleDuration
func (s *Store) ReleaseStaleRunning(ctx context.Context, staleDuration time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleDuration).UnixMilli()

	query := `
		UPDATE downloads
		SET status = 'pending', worker_id = NULL, claimed_at = NULL, updated_at = ?
		WHERE status = 'running' AND updated_at < ?
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli(), cutoff)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// CleanupFinished removes failed and succeeded records older than the given duration
func (s *Store) CleanupFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM downloads WHERE status IN ('failed', 'succeeded') AND updated_at < ?",
		cutoff)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// GetQueueStats returns queue statistics
func (s *Store) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM downloads GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		switch domain.DownloadStatus(status) {
		case domain.DownloadPending:
			stats.PendingCount = count
		case domain.DownloadRunning:
			stats.RunningCount = count
		case domain.DownloadPaused:
			stats.PausedCount = count
		case domain.DownloadFailed:
			stats.FailedCount = count
		}
	}

	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a single record row. Returns nil, nil when there is no row.
func scanRecord(row rowScanner) (*domain.DownloadRecord, error) {
	rec := &domain.DownloadRecord{}
	var status string
	var workerID, reason, lastError sql.NullString
	var nextRetryAt, claimedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.ID, &rec.Locator, &rec.Filename, &status, &workerID, &reason,
		&rec.BytesDownloaded, &rec.BytesTotal, &rec.RetryCount, &rec.MaxRetries,
		&nextRetryAt, &lastError, &createdAt, &claimedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Status = domain.DownloadStatus(status)
	rec.WorkerID = workerID.String
	rec.LastError = lastError.String
	if reason.Valid && reason.String != "" {
		rec.Reason = domain.ParseFailureReason(reason.String)
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	if nextRetryAt.Valid {
		t := time.UnixMilli(nextRetryAt.Int64)
		rec.NextRetryAt = &t
	}
	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64)
		rec.ClaimedAt = &t
	}

	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
