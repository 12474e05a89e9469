package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/database"
	"taskbridge/internal/mapper"
	"taskbridge/internal/models"
)

// motionEvent is the wire shape of a Motion webhook delivery.
type motionEvent struct {
	EventType string             `json:"event_type"`
	Data      *motionWebhookTask `json:"data"`
}

type motionWebhookTask struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	DueDate     string         `json:"dueDate"`
	Labels      []models.Label `json:"labels"`
}

// toModel converts the webhook shape into the engine's Motion task. A due
// date that does not parse is rejected here, before anything is queued.
func (t *motionWebhookTask) toModel() (*models.MotionTask, error) {
	task := &models.MotionTask{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Name:        t.Name,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Labels:      t.Labels,
	}
	if t.DueDate != "" {
		due, err := mapper.ParseDue(t.DueDate)
		if err != nil {
			return nil, fmt.Errorf("motion task %s: %w", t.ID, err)
		}
		task.DueDate = due
	}
	return task, nil
}

func (s *Server) processMotionEvent(ctx context.Context, event *motionEvent) (*eventResult, error) {
	switch event.EventType {
	case "task.created", "task.updated", "task.deleted":
		if event.Data == nil || event.Data.ID == "" {
			return nil, errors.New("motion event has no task data")
		}
	}

	switch event.EventType {
	case "task.created":
		return s.motionTaskCreated(ctx, event.Data)
	case "task.updated":
		return s.motionTaskUpdated(ctx, event.Data)
	case "task.deleted":
		return s.motionTaskDeleted(ctx, event.Data)
	case "project.created", "project.updated":
		// Projects are paired through configuration, not webhooks.
		return ignored("project event noted"), nil
	default:
		s.logger.Debug().Str("event_type", event.EventType).Msg("unhandled motion event")
		return ignored(fmt.Sprintf("event type %s not handled", event.EventType)), nil
	}
}

func (s *Server) motionTaskCreated(ctx context.Context, data *motionWebhookTask) (*eventResult, error) {
	task, err := data.toModel()
	if err != nil {
		return nil, err
	}

	project, ok := s.store.ProjectByMotionID(task.ProjectID)
	if !ok {
		s.logger.Debug().Str("motion_project", task.ProjectID).Msg("motion project not synced")
		return ignored("project not synced"), nil
	}

	now := time.Now()
	mapping := &models.TaskMapping{
		ProjectID:        project.ID,
		MotionTaskID:     task.ID,
		LastMotionUpdate: &now,
	}
	if err := s.store.CreateTaskMapping(ctx, mapping); err != nil {
		if errors.Is(err, database.ErrAlreadyMapped) {
			return ignored("task already synced"), nil
		}
		return nil, fmt.Errorf("create mapping for motion task %s: %w", task.ID, err)
	}

	card := s.mapper.MotionToTrello(task, s.fieldMappings)

	_, err = s.queue.Enqueue(ctx, &models.SyncAction{
		TaskMappingID: mapping.ID,
		Type:          models.ActionCreate,
		Payload: &models.ActionPayload{
			SourcePlatform: models.PlatformMotion,
			TargetPlatform: models.PlatformTrello,
			ProjectID:      project.ID,
			Create: &models.CreatePayload{
				TrelloCard:    card,
				MotionTaskID:  task.ID,
				TrelloBoardID: project.TrelloBoardID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue trello card creation: %w", err)
	}

	s.logger.Info().
		Str("motion_task", task.ID).
		Int64("mapping_id", mapping.ID).
		Msg("queued trello card creation")
	return processed("task creation queued for sync"), nil
}

func (s *Server) motionTaskUpdated(ctx context.Context, data *motionWebhookTask) (*eventResult, error) {
	task, err := data.toModel()
	if err != nil {
		return nil, err
	}

	mapping, err := s.store.GetMappingByMotionTask(ctx, task.ID)
	if errors.Is(err, database.ErrMappingNotFound) {
		return ignored("task not synced"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping for motion task %s: %w", task.ID, err)
	}
	if mapping.SyncStatus != models.SyncStatusActive {
		return ignored("task not synced"), nil
	}

	now := time.Now()
	if err := s.store.TouchPlatformUpdate(ctx, mapping.ID, models.PlatformMotion, now); err != nil {
		return nil, fmt.Errorf("touch motion update time: %w", err)
	}

	if mapping.TrelloCardID == "" {
		// The counterpart create is still in flight; the pending create will
		// carry the latest state once it runs.
		return ignored("counterpart not created yet"), nil
	}

	card := s.mapper.MotionToTrello(task, s.fieldMappings)

	_, err = s.queue.Enqueue(ctx, &models.SyncAction{
		TaskMappingID: mapping.ID,
		Type:          models.ActionUpdate,
		Payload: &models.ActionPayload{
			SourcePlatform: models.PlatformMotion,
			TargetPlatform: models.PlatformTrello,
			ProjectID:      mapping.ProjectID,
			Update: &models.UpdatePayload{
				TaskID:     mapping.TrelloCardID,
				TrelloCard: card,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue trello card update: %w", err)
	}

	s.logger.Info().
		Str("motion_task", task.ID).
		Str("trello_card", mapping.TrelloCardID).
		Msg("queued trello card update")
	return processed("task update queued for sync"), nil
}

func (s *Server) motionTaskDeleted(ctx context.Context, data *motionWebhookTask) (*eventResult, error) {
	mapping, err := s.store.GetMappingByMotionTask(ctx, data.ID)
	if errors.Is(err, database.ErrMappingNotFound) {
		return ignored("task was not synced"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping for motion task %s: %w", data.ID, err)
	}

	if err := s.store.MarkMappingDeleted(ctx, mapping.ID); err != nil {
		return nil, fmt.Errorf("tombstone mapping %d: %w", mapping.ID, err)
	}

	if mapping.TrelloCardID == "" {
		return processed("task deletion recorded, no counterpart to remove"), nil
	}

	_, err = s.queue.Enqueue(ctx, &models.SyncAction{
		TaskMappingID: mapping.ID,
		Type:          models.ActionDelete,
		Payload: &models.ActionPayload{
			SourcePlatform: models.PlatformMotion,
			TargetPlatform: models.PlatformTrello,
			ProjectID:      mapping.ProjectID,
			Delete:         &models.DeletePayload{TaskID: mapping.TrelloCardID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue trello card deletion: %w", err)
	}

	s.logger.Info().
		Str("motion_task", data.ID).
		Str("trello_card", mapping.TrelloCardID).
		Msg("queued trello card deletion")
	return processed("task deletion queued for sync"), nil
}
