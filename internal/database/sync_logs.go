package database

import (
	"context"
	"fmt"
	"time"

	"taskbridge/internal/models"
)

// AppendSyncLog writes one append-only audit row.
func (db *DB) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	now := time.Now()
	query := `INSERT INTO sync_logs (action_type, platform, success, details, created_at)
              VALUES (?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		entry.ActionType, entry.Platform, entry.Success, entry.Details, now)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

// GetSyncLogs returns the most recent audit rows, optionally filtered by
// action type. Empty actionType means all rows.
func (db *DB) GetSyncLogs(ctx context.Context, actionType string, limit int) ([]models.SyncLogEntry, error) {
	query := `SELECT id, action_type, platform, success, COALESCE(details, ''), created_at
              FROM sync_logs`
	args := []interface{}{}
	if actionType != "" {
		query += ` WHERE action_type = ?`
		args = append(args, actionType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync logs: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncLogEntry
	for rows.Next() {
		var e models.SyncLogEntry
		if err := rows.Scan(&e.ID, &e.ActionType, &e.Platform, &e.Success, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
