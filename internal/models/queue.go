package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreatePayload carries the translated task data for a create on the target
// platform. Exactly one of MotionTask/TrelloCard is set, matching the target.
type CreatePayload struct {
	MotionTask *MotionTask `json:"motion_task,omitempty"`
	TrelloCard *TrelloCard `json:"trello_card,omitempty"`

	// Source-side identifiers, kept for logs and mapping backfill.
	MotionTaskID    string `json:"motion_task_id,omitempty"`
	TrelloCardID    string `json:"trello_card_id,omitempty"`
	MotionProjectID string `json:"motion_project_id,omitempty"`
	TrelloBoardID   string `json:"trello_board_id,omitempty"`
}

// UpdatePayload carries the translated updates for an existing counterpart.
type UpdatePayload struct {
	TaskID     string      `json:"task_id"`
	MotionTask *MotionTask `json:"motion_task,omitempty"`
	TrelloCard *TrelloCard `json:"trello_card,omitempty"`
	Changes    []string    `json:"changes,omitempty"`
}

// DeletePayload identifies the counterpart to remove.
type DeletePayload struct {
	TaskID string `json:"task_id"`
}

// SyncPayload requests a full bidirectional reconciliation of one mapping.
type SyncPayload struct {
	TaskMappingID int64 `json:"task_mapping_id"`
}

// ActionPayload is the tagged union carried by a queue item. The variant
// matching the item's action type must be set; everything is decoded and
// validated at the ingestion boundary, not deep inside handlers.
type ActionPayload struct {
	SourcePlatform string `json:"source_platform"`
	TargetPlatform string `json:"target_platform"`
	ProjectID      int64  `json:"project_id,omitempty"`

	Create *CreatePayload `json:"create,omitempty"`
	Update *UpdatePayload `json:"update,omitempty"`
	Delete *DeletePayload `json:"delete,omitempty"`
	Sync   *SyncPayload   `json:"sync,omitempty"`
}

// Validate checks that the payload carries exactly the variant required by
// the action type and names a known target platform.
func (p *ActionPayload) Validate(actionType string) error {
	if p == nil {
		return errors.New("payload is required")
	}
	switch actionType {
	case ActionCreate:
		if p.Create == nil {
			return errors.New("create action requires create payload")
		}
	case ActionUpdate:
		if p.Update == nil {
			return errors.New("update action requires update payload")
		}
		if p.Update.TaskID == "" {
			return errors.New("update action requires target task id")
		}
	case ActionDelete:
		if p.Delete == nil {
			return errors.New("delete action requires delete payload")
		}
		if p.Delete.TaskID == "" {
			return errors.New("delete action requires target task id")
		}
	case ActionSync:
		if p.Sync == nil {
			return errors.New("sync action requires sync payload")
		}
	default:
		return fmt.Errorf("unknown action type: %s", actionType)
	}

	if actionType != ActionSync {
		switch p.TargetPlatform {
		case PlatformMotion, PlatformTrello:
		default:
			return fmt.Errorf("unknown target platform: %q", p.TargetPlatform)
		}
	}
	return nil
}

// Encode serializes the payload for storage.
func (p *ActionPayload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}

// DecodePayload restores a payload from its stored form.
func DecodePayload(raw string) (*ActionPayload, error) {
	var p ActionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

// SyncQueueItem is one pending or historical cross-platform mutation.
type SyncQueueItem struct {
	ID            int64      `json:"id"`
	TaskMappingID int64      `json:"task_mapping_id"`
	ActionType    string     `json:"action_type"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	Details       *string    `json:"details,omitempty"`
}

// SyncAction is the normalized action handed to the queue by ingestion.
type SyncAction struct {
	TaskMappingID int64
	Type          string
	Payload       *ActionPayload
	MaxRetries    int
	ScheduleFor   time.Time
}

// QueueStats groups queue items by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// BatchResult aggregates the outcome of one ProcessBatch invocation.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
