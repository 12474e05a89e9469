package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/models"
)

const mappingColumns = `id, project_id, COALESCE(motion_task_id, ''), COALESCE(trello_card_id, ''),
        sync_status, sync_direction, last_motion_update, last_trello_update, created_at, updated_at`

// CreateTaskMapping inserts a new mapping after a dedup check on whichever
// foreign ids are present. An already-mapped id yields ErrAlreadyMapped.
func (db *DB) CreateTaskMapping(ctx context.Context, m *models.TaskMapping) error {
	if m.MotionTaskID != "" {
		if _, err := db.GetMappingByMotionTask(ctx, m.MotionTaskID); err == nil {
			return ErrAlreadyMapped
		} else if !errors.Is(err, ErrMappingNotFound) {
			return err
		}
	}
	if m.TrelloCardID != "" {
		if _, err := db.GetMappingByTrelloCard(ctx, m.TrelloCardID); err == nil {
			return ErrAlreadyMapped
		} else if !errors.Is(err, ErrMappingNotFound) {
			return err
		}
	}

	if m.SyncStatus == "" {
		m.SyncStatus = models.SyncStatusActive
	}
	if m.SyncDirection == "" {
		m.SyncDirection = models.SyncDirectionBidirectional
	}
	now := time.Now()

	query := `INSERT INTO task_mappings
            (project_id, motion_task_id, trello_card_id, sync_status, sync_direction,
             last_motion_update, last_trello_update, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		m.ProjectID,
		m.MotionTaskID,
		m.TrelloCardID,
		m.SyncStatus,
		m.SyncDirection,
		m.LastMotionUpdate,
		m.LastTrelloUpdate,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task mapping: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (db *DB) GetTaskMapping(ctx context.Context, id int64) (*models.TaskMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM task_mappings WHERE id = ?`
	return db.scanMapping(db.db.QueryRowContext(ctx, query, id))
}

// GetMappingByMotionTask finds the active mapping for a Motion task id.
func (db *DB) GetMappingByMotionTask(ctx context.Context, motionTaskID string) (*models.TaskMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM task_mappings WHERE motion_task_id = ?`
	return db.scanMapping(db.db.QueryRowContext(ctx, query, motionTaskID))
}

// GetMappingByTrelloCard finds the active mapping for a Trello card id.
func (db *DB) GetMappingByTrelloCard(ctx context.Context, trelloCardID string) (*models.TaskMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM task_mappings WHERE trello_card_id = ?`
	return db.scanMapping(db.db.QueryRowContext(ctx, query, trelloCardID))
}

func (db *DB) scanMapping(row *sql.Row) (*models.TaskMapping, error) {
	var m models.TaskMapping
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.MotionTaskID, &m.TrelloCardID,
		&m.SyncStatus, &m.SyncDirection, &m.LastMotionUpdate, &m.LastTrelloUpdate,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task mapping: %w", err)
	}
	return &m, nil
}

// SetMotionTaskID backfills the Motion side of a mapping once the counterpart
// task has been created.
func (db *DB) SetMotionTaskID(ctx context.Context, mappingID int64, motionTaskID string) error {
	query := `UPDATE task_mappings SET motion_task_id = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, motionTaskID, time.Now(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to set motion task id: %w", err)
	}
	return nil
}

// SetTrelloCardID backfills the Trello side of a mapping.
func (db *DB) SetTrelloCardID(ctx context.Context, mappingID int64, trelloCardID string) error {
	query := `UPDATE task_mappings SET trello_card_id = ?, updated_at = ? WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, trelloCardID, time.Now(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to set trello card id: %w", err)
	}
	return nil
}

// TouchPlatformUpdate bumps the per-platform last-update timestamp.
func (db *DB) TouchPlatformUpdate(ctx context.Context, mappingID int64, platform string, at time.Time) error {
	column := "last_motion_update"
	if platform == models.PlatformTrello {
		column = "last_trello_update"
	}
	query := fmt.Sprintf(`UPDATE task_mappings SET %s = ?, updated_at = ? WHERE id = ?`, column)
	_, err := db.db.ExecContext(ctx, query, at, time.Now(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to touch %s: %w", column, err)
	}
	return nil
}

// MarkMappingDeleted tombstones a mapping. The row is retained.
func (db *DB) MarkMappingDeleted(ctx context.Context, mappingID int64) error {
	query := `UPDATE task_mappings SET sync_status = ?, updated_at = ? WHERE id = ?`
	res, err := db.db.ExecContext(ctx, query, models.SyncStatusDeleted, time.Now(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to mark mapping deleted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrMappingNotFound
	}
	return nil
}
