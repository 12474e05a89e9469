package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/models"
)

const queueColumns = `id, task_mapping_id, action_type, payload, status, retry_count, max_retries,
        scheduled_for, created_at, processed_at, last_error, details`

func (db *DB) CreateSyncItem(ctx context.Context, item *models.SyncQueueItem) error {
	now := time.Now()
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = models.DefaultMaxRetries
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}

	query := `INSERT INTO sync_queue
            (task_mapping_id, action_type, payload, status, retry_count, max_retries, scheduled_for, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		item.TaskMappingID,
		item.ActionType,
		item.Payload,
		item.Status,
		item.RetryCount,
		item.MaxRetries,
		item.ScheduledFor,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id
	item.CreatedAt = now
	return nil
}

func (db *DB) GetSyncItem(ctx context.Context, id int64) (*models.SyncQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`
	row := db.db.QueryRowContext(ctx, query, id)

	var item models.SyncQueueItem
	err := row.Scan(
		&item.ID, &item.TaskMappingID, &item.ActionType, &item.Payload, &item.Status,
		&item.RetryCount, &item.MaxRetries, &item.ScheduledFor, &item.CreatedAt,
		&item.ProcessedAt, &item.LastError, &item.Details,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync item: %w", err)
	}
	return &item, nil
}

// GetDueSyncItems returns up to limit pending items whose scheduled time has
// passed, oldest first.
func (db *DB) GetDueSyncItems(ctx context.Context, limit int) ([]models.SyncQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
              WHERE status = ? AND scheduled_for <= ?
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, models.QueueStatusPending, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due sync items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (db *DB) GetFailedSyncItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
              WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.db.QueryContext(ctx, query, models.QueueStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed sync items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	for rows.Next() {
		var item models.SyncQueueItem
		err := rows.Scan(
			&item.ID, &item.TaskMappingID, &item.ActionType, &item.Payload, &item.Status,
			&item.RetryCount, &item.MaxRetries, &item.ScheduledFor, &item.CreatedAt,
			&item.ProcessedAt, &item.LastError, &item.Details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkItemProcessing flips a pending item to processing. The status condition
// is the compare-and-swap that guarantees at-most-once execution; false means
// another worker already took the item.
func (db *DB) MarkItemProcessing(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`
	res, err := db.db.ExecContext(ctx, query, models.QueueStatusProcessing, id, models.QueueStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark item processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// CompleteSyncItem marks a processing item as terminally completed and
// records the handler result.
func (db *DB) CompleteSyncItem(ctx context.Context, id int64, details string) error {
	now := time.Now()
	query := `UPDATE sync_queue SET status = ?, processed_at = ?, details = ?, last_error = NULL
              WHERE id = ? AND status = ?`
	_, err := db.db.ExecContext(ctx, query, models.QueueStatusCompleted, now, details, id, models.QueueStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete sync item: %w", err)
	}
	return nil
}

// RescheduleSyncItem returns a processing item to pending for a retry. The
// retry count is written explicitly (read-modify-write) instead of an
// increment-in-place so the new value is the one the caller validated.
func (db *DB) RescheduleSyncItem(ctx context.Context, id int64, retryCount int, errMsg string, next time.Time) error {
	query := `UPDATE sync_queue SET status = ?, retry_count = ?, last_error = ?, scheduled_for = ?
              WHERE id = ? AND status = ?`
	_, err := db.db.ExecContext(ctx, query, models.QueueStatusPending, retryCount, errMsg, next, id, models.QueueStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to reschedule sync item: %w", err)
	}
	return nil
}

// FailSyncItem marks a processing item terminally failed. The status
// condition keeps the transition forward-only, same as CompleteSyncItem.
func (db *DB) FailSyncItem(ctx context.Context, id int64, errMsg string) error {
	now := time.Now()
	query := `UPDATE sync_queue SET status = ?, last_error = ?, processed_at = ?
              WHERE id = ? AND status = ?`
	_, err := db.db.ExecContext(ctx, query, models.QueueStatusFailed, errMsg, now, id, models.QueueStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail sync item: %w", err)
	}
	return nil
}

// ResetFailedItems re-queues failed items that still have retry budget left.
// Items that exhausted max_retries are untouched.
func (db *DB) ResetFailedItems(ctx context.Context) (int64, error) {
	query := `UPDATE sync_queue SET status = ?, scheduled_for = ?
              WHERE status = ? AND retry_count < max_retries`
	res, err := db.db.ExecContext(ctx, query, models.QueueStatusPending, time.Now(), models.QueueStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// QueueStats counts queue items grouped by status.
func (db *DB) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch status {
		case models.QueueStatusPending:
			stats.Pending = count
		case models.QueueStatusProcessing:
			stats.Processing = count
		case models.QueueStatusCompleted:
			stats.Completed = count
		case models.QueueStatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// CleanupCompleted deletes completed items processed before the cutoff.
// Pending and failed items are never deleted.
func (db *DB) CleanupCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sync_queue WHERE status = ? AND processed_at < ?`
	res, err := db.db.ExecContext(ctx, query, models.QueueStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup completed items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}
