package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/models"
)

// GetFieldLock returns the lock row for a (mapping, field) pair, expired or
// not, or nil when none exists. Liveness is the caller's concern.
func (db *DB) GetFieldLock(ctx context.Context, mappingID int64, field string) (*models.EditLock, error) {
	query := `SELECT id, task_mapping_id, field_name, locked_by, platform, expires_at, created_at
              FROM edit_locks WHERE task_mapping_id = ? AND field_name = ?`
	row := db.db.QueryRowContext(ctx, query, mappingID, field)

	var lock models.EditLock
	err := row.Scan(&lock.ID, &lock.TaskMappingID, &lock.FieldName, &lock.LockedBy,
		&lock.Platform, &lock.ExpiresAt, &lock.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field lock: %w", err)
	}
	return &lock, nil
}

// AcquireFieldLock inserts or renews a lock row in a single conditional
// statement. The unique constraint on (task_mapping_id, field_name) keeps at
// most one row per pair, and the ON CONFLICT update fires only when the row
// already belongs to the same owner or has expired. Zero rows changed means a
// live lock under another owner blocked the acquisition.
func (db *DB) AcquireFieldLock(ctx context.Context, lock *models.EditLock) (bool, error) {
	query := `INSERT INTO edit_locks (task_mapping_id, field_name, locked_by, platform, expires_at, created_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(task_mapping_id, field_name)
              DO UPDATE SET locked_by = excluded.locked_by,
                            platform = excluded.platform,
                            expires_at = excluded.expires_at
              WHERE edit_locks.locked_by = excluded.locked_by
                 OR edit_locks.expires_at <= ?`
	now := time.Now()
	res, err := db.db.ExecContext(ctx, query,
		lock.TaskMappingID, lock.FieldName, lock.LockedBy, lock.Platform, lock.ExpiresAt, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire field lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// DeleteFieldLock removes a lock row. Deleting an absent lock is not an error.
func (db *DB) DeleteFieldLock(ctx context.Context, mappingID int64, field string) error {
	query := `DELETE FROM edit_locks WHERE task_mapping_id = ? AND field_name = ?`
	_, err := db.db.ExecContext(ctx, query, mappingID, field)
	if err != nil {
		return fmt.Errorf("failed to delete field lock: %w", err)
	}
	return nil
}

// GetActiveLocks lists the live locks for a mapping.
func (db *DB) GetActiveLocks(ctx context.Context, mappingID int64) ([]models.EditLock, error) {
	query := `SELECT id, task_mapping_id, field_name, locked_by, platform, expires_at, created_at
              FROM edit_locks WHERE task_mapping_id = ? AND expires_at > ?`
	rows, err := db.db.QueryContext(ctx, query, mappingID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get active locks: %w", err)
	}
	defer rows.Close()

	var locks []models.EditLock
	for rows.Next() {
		var lock models.EditLock
		err := rows.Scan(&lock.ID, &lock.TaskMappingID, &lock.FieldName, &lock.LockedBy,
			&lock.Platform, &lock.ExpiresAt, &lock.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit lock: %w", err)
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

// DeleteExpiredLocks purges lock rows whose expiry has passed.
func (db *DB) DeleteExpiredLocks(ctx context.Context) (int64, error) {
	query := `DELETE FROM edit_locks WHERE expires_at <= ?`
	res, err := db.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// DeleteAllLocks force-releases every lock on a mapping.
func (db *DB) DeleteAllLocks(ctx context.Context, mappingID int64) error {
	query := `DELETE FROM edit_locks WHERE task_mapping_id = ?`
	_, err := db.db.ExecContext(ctx, query, mappingID)
	if err != nil {
		return fmt.Errorf("failed to delete locks: %w", err)
	}
	return nil
}
