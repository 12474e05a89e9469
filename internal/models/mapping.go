package models

import "time"

// TaskMapping links one Motion task to its Trello counterpart. A mapping
// references at most one task per platform; either id may be empty until the
// counterpart is created. Deleted mappings are tombstoned, never removed.
type TaskMapping struct {
	ID               int64      `json:"id"`
	ProjectID        int64      `json:"project_id"`
	MotionTaskID     string     `json:"motion_task_id,omitempty"`
	TrelloCardID     string     `json:"trello_card_id,omitempty"`
	SyncStatus       string     `json:"sync_status"`
	SyncDirection    string     `json:"sync_direction"`
	LastMotionUpdate *time.Time `json:"last_motion_update,omitempty"`
	LastTrelloUpdate *time.Time `json:"last_trello_update,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EditLock is a short-lived advisory lock on one field of a task mapping.
type EditLock struct {
	ID            int64     `json:"id"`
	TaskMappingID int64     `json:"task_mapping_id"`
	FieldName     string    `json:"field_name"`
	LockedBy      string    `json:"locked_by"`
	Platform      string    `json:"platform"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Live reports whether the lock has not expired at the given instant.
func (l *EditLock) Live(now time.Time) bool {
	return l.ExpiresAt.After(now)
}
