package domain

import (
	"context"
	"time"

	"taskbridge/internal/models"
)

// Store is the persistence surface the queue, webhook handlers and resolver
// depend on. *database.DB is the only production implementation.
type Store interface {
	CreateTaskMapping(ctx context.Context, m *models.TaskMapping) error
	GetTaskMapping(ctx context.Context, id int64) (*models.TaskMapping, error)
	GetMappingByMotionTask(ctx context.Context, motionTaskID string) (*models.TaskMapping, error)
	GetMappingByTrelloCard(ctx context.Context, trelloCardID string) (*models.TaskMapping, error)
	SetMotionTaskID(ctx context.Context, mappingID int64, motionTaskID string) error
	SetTrelloCardID(ctx context.Context, mappingID int64, trelloCardID string) error
	TouchPlatformUpdate(ctx context.Context, mappingID int64, platform string, at time.Time) error
	MarkMappingDeleted(ctx context.Context, mappingID int64) error

	CreateSyncItem(ctx context.Context, item *models.SyncQueueItem) error
	GetSyncItem(ctx context.Context, id int64) (*models.SyncQueueItem, error)
	GetDueSyncItems(ctx context.Context, limit int) ([]models.SyncQueueItem, error)
	GetFailedSyncItems(ctx context.Context) ([]models.SyncQueueItem, error)
	MarkItemProcessing(ctx context.Context, id int64) (bool, error)
	CompleteSyncItem(ctx context.Context, id int64, details string) error
	RescheduleSyncItem(ctx context.Context, id int64, retryCount int, errMsg string, next time.Time) error
	FailSyncItem(ctx context.Context, id int64, errMsg string) error
	ResetFailedItems(ctx context.Context) (int64, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
	CleanupCompleted(ctx context.Context, cutoff time.Time) (int64, error)

	GetFieldLock(ctx context.Context, mappingID int64, field string) (*models.EditLock, error)
	AcquireFieldLock(ctx context.Context, lock *models.EditLock) (bool, error)
	DeleteFieldLock(ctx context.Context, mappingID int64, field string) error
	GetActiveLocks(ctx context.Context, mappingID int64) ([]models.EditLock, error)
	DeleteExpiredLocks(ctx context.Context) (int64, error)
	DeleteAllLocks(ctx context.Context, mappingID int64) error

	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error
	GetSyncLogs(ctx context.Context, actionType string, limit int) ([]models.SyncLogEntry, error)

	ProjectByMotionID(motionProjectID string) (*models.SyncProject, bool)
	ProjectByTrelloBoard(boardID string) (*models.SyncProject, bool)
}

// MotionAPI is the Motion client surface the queue dispatches to.
type MotionAPI interface {
	CreateTask(ctx context.Context, projectID string, task *models.MotionTask) (string, error)
	UpdateTask(ctx context.Context, taskID string, task *models.MotionTask) error
	DeleteTask(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (*models.MotionTask, error)
}

// TrelloAPI is the Trello client surface the queue dispatches to.
type TrelloAPI interface {
	CreateCard(ctx context.Context, boardID string, card *models.TrelloCard) (string, error)
	UpdateCard(ctx context.Context, cardID string, card *models.TrelloCard) error
	DeleteCard(ctx context.Context, cardID string) error
	GetCard(ctx context.Context, cardID string) (*models.TrelloCard, error)
}

// RequestBudget tracks outbound request counts per platform over a window.
// Allow returns false when the budget for the window is already spent.
type RequestBudget interface {
	Allow(ctx context.Context, platform string, limit int, window time.Duration) (bool, error)
}

// DeadLetters receives queue items that exhausted their retries.
type DeadLetters interface {
	Push(ctx context.Context, item *models.SyncQueueItem) error
}

// Notifier delivers operator-facing alerts for terminal sync failures.
type Notifier interface {
	NotifyFailure(ctx context.Context, item *models.SyncQueueItem, reason string) error
}
