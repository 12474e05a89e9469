package models

import "time"

// Platform identifiers used in queue payloads, locks and audit rows.
const (
	PlatformMotion = "motion"
	PlatformTrello = "trello"
)

// Task mapping sync status.
const (
	SyncStatusActive  = "active"
	SyncStatusDeleted = "deleted"
)

// SyncDirectionBidirectional is the only direction supported for now.
const SyncDirectionBidirectional = "bidirectional"

// Queue item statuses. Transitions only move forward:
// pending -> processing -> completed | pending (retry) | failed.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// Queue action types.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionSync   = "sync"
)

// Motion priority levels.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Conflict types and severities.
const (
	ConflictSimultaneousEdit = "simultaneous_edit"
	ConflictFieldMismatch    = "field_mismatch"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Resolution strategies.
const (
	StrategyMotionWins  = "motion_wins"
	StrategyTrelloWins  = "trello_wins"
	StrategyManualMerge = "manual_merge"
	StrategyLatestWins  = "latest_wins"
	StrategyConcatenate = "concatenate"
	StrategySkip        = "skip"
)

const (
	// ConflictThreshold is the window below which two edits count as simultaneous.
	ConflictThreshold = 30 * time.Second

	// LockDuration is the lifetime of a field-level edit lock.
	LockDuration = 30 * time.Second

	// DefaultMaxRetries bounds queue item retry cycles when unspecified.
	DefaultMaxRetries = 3

	// TrelloNameLimit is Trello's card name length limit.
	TrelloNameLimit = 16384
)
