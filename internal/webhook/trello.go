package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/database"
	"taskbridge/internal/mapper"
	"taskbridge/internal/models"
)

// trelloEvent is the wire shape of a Trello webhook delivery.
type trelloEvent struct {
	Action *trelloAction `json:"action"`
}

type trelloAction struct {
	Type string           `json:"type"`
	Data trelloActionData `json:"data"`
}

type trelloActionData struct {
	Card  *trelloWebhookCard `json:"card"`
	Board *trelloBoardRef    `json:"board"`
	List  *trelloListRef     `json:"list"`
	Old   *trelloWebhookCard `json:"old"`
}

type trelloBoardRef struct {
	ID string `json:"id"`
}

type trelloListRef struct {
	Name string `json:"name"`
}

type trelloWebhookCard struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Desc   string         `json:"desc"`
	Due    string         `json:"due"`
	IDList string         `json:"idList"`
	Pos    json.Number    `json:"pos"`
	Closed bool           `json:"closed"`
	Labels []models.Label `json:"labels"`
}

func (c *trelloWebhookCard) toModel(boardID, listName string) (*models.TrelloCard, error) {
	card := &models.TrelloCard{
		ID:       c.ID,
		BoardID:  boardID,
		Name:     c.Name,
		Desc:     c.Desc,
		Pos:      c.Pos.String(),
		ListName: listName,
		Labels:   c.Labels,
	}
	if c.Due != "" {
		due, err := mapper.ParseDue(c.Due)
		if err != nil {
			return nil, fmt.Errorf("trello card %s: %w", c.ID, err)
		}
		card.Due = due
	}
	return card, nil
}

func (s *Server) processTrelloAction(ctx context.Context, action *trelloAction) (*eventResult, error) {
	switch action.Type {
	case "createCard", "updateCard", "deleteCard":
		if action.Data.Card == nil || action.Data.Card.ID == "" {
			return nil, errors.New("trello action has no card data")
		}
	}

	switch action.Type {
	case "createCard":
		return s.trelloCardCreated(ctx, &action.Data)
	case "updateCard":
		return s.trelloCardUpdated(ctx, &action.Data)
	case "deleteCard":
		return s.trelloCardDeleted(ctx, &action.Data)
	case "moveCardFromBoard", "moveCardToBoard":
		// Cross-board moves change project membership and are not synced.
		return ignored("card move not synced"), nil
	case "commentCard", "addAttachmentToCard", "deleteAttachmentFromCard":
		return ignored(fmt.Sprintf("action type %s not synced", action.Type)), nil
	default:
		s.logger.Debug().Str("action_type", action.Type).Msg("unhandled trello action")
		return ignored(fmt.Sprintf("action type %s not handled", action.Type)), nil
	}
}

func (s *Server) trelloCardCreated(ctx context.Context, data *trelloActionData) (*eventResult, error) {
	if data.Board == nil || data.Board.ID == "" {
		return nil, errors.New("trello create action has no board data")
	}

	project, ok := s.store.ProjectByTrelloBoard(data.Board.ID)
	if !ok {
		s.logger.Debug().Str("trello_board", data.Board.ID).Msg("trello board not synced")
		return ignored("board not synced"), nil
	}

	listName := ""
	if data.List != nil {
		listName = data.List.Name
	}
	card, err := data.Card.toModel(data.Board.ID, listName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	mapping := &models.TaskMapping{
		ProjectID:        project.ID,
		TrelloCardID:     card.ID,
		LastTrelloUpdate: &now,
	}
	if err := s.store.CreateTaskMapping(ctx, mapping); err != nil {
		if errors.Is(err, database.ErrAlreadyMapped) {
			return ignored("card already synced"), nil
		}
		return nil, fmt.Errorf("create mapping for trello card %s: %w", card.ID, err)
	}

	task := s.mapper.TrelloToMotion(card, s.fieldMappings)

	_, err = s.queue.Enqueue(ctx, &models.SyncAction{
		TaskMappingID: mapping.ID,
		Type:          models.ActionCreate,
		Payload: &models.ActionPayload{
			SourcePlatform: models.PlatformTrello,
			TargetPlatform: models.PlatformMotion,
			ProjectID:      project.ID,
			Create: &models.CreatePayload{
				MotionTask:      task,
				TrelloCardID:    card.ID,
				MotionProjectID: project.MotionProjectID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue motion task creation: %w", err)
	}

	s.logger.Info().
		Str("trello_card", card.ID).
		Int64("mapping_id", mapping.ID).
		Msg("queued motion task creation")
	return processed("card creation queued for sync"), nil
}

func (s *Server) trelloCardUpdated(ctx context.Context, data *trelloActionData) (*eventResult, error) {
	mapping, err := s.store.GetMappingByTrelloCard(ctx, data.Card.ID)
	if errors.Is(err, database.ErrMappingNotFound) {
		return ignored("card not synced"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping for trello card %s: %w", data.Card.ID, err)
	}
	if mapping.SyncStatus != models.SyncStatusActive {
		return ignored("card not synced"), nil
	}

	now := time.Now()
	if err := s.store.TouchPlatformUpdate(ctx, mapping.ID, models.PlatformTrello, now); err != nil {
		return nil, fmt.Errorf("touch trello update time: %w", err)
	}

	if mapping.MotionTaskID == "" {
		return ignored("counterpart not created yet"), nil
	}

	boardID := ""
	if data.Board != nil {
		boardID = data.Board.ID
	}
	listName := ""
	if data.List != nil {
		listName = data.List.Name
	}
	card, err := data.Card.toModel(boardID, listName)
	if err != nil {
		return nil, err
	}

	task := s.mapper.TrelloToMotion(card, s.fieldMappings)
	changes := cardChanges(data.Card, data.Old)

	_, err = s.queue.Enqueue(ctx, &models.SyncAction{
		TaskMappingID: mapping.ID,
		Type:          models.ActionUpdate,
		Payload: &models.ActionPayload{
			SourcePlatform: models.PlatformTrello,
			TargetPlatform: models.PlatformMotion,
			ProjectID:      mapping.ProjectID,
			Update: &models.UpdatePayload{
				TaskID:     mapping.MotionTaskID,
				MotionTask: task,
				Changes:    changes,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue motion task update: %w", err)
	}

	s.logger.Info().
		Str("trello_card", data.Card.ID).
		Str("motion_task", mapping.MotionTaskID).
		Strs("changes", changes).
		Msg("queued motion task update")
	return processed("card update queued for sync"), nil
}

func (s *Server) trelloCardDeleted(ctx context.Context, data *trelloActionData) (*eventResult, error) {
	mapping, err := s.store.GetMappingByTrelloCard(ctx, data.Card.ID)
	if errors.Is(err, database.ErrMappingNotFound) {
		return ignored("card was not synced"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping for trello card %s: %w", data.Card.ID, err)
	}

	if err := s.store.MarkMappingDeleted(ctx, mapping.ID); err != nil {
		return nil, fmt.Errorf("tombstone mapping %d: %w", mapping.ID, err)
	}

	if mapping.MotionTaskID == "" {
		return processed("card deletion recorded, no counterpart to remove"), nil
	}

	_, err = s.queue.Enqueue(ctx, &models.SyncAction{
		TaskMappingID: mapping.ID,
		Type:          models.ActionDelete,
		Payload: &models.ActionPayload{
			SourcePlatform: models.PlatformTrello,
			TargetPlatform: models.PlatformMotion,
			ProjectID:      mapping.ProjectID,
			Delete:         &models.DeletePayload{TaskID: mapping.MotionTaskID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue motion task deletion: %w", err)
	}

	s.logger.Info().
		Str("trello_card", data.Card.ID).
		Str("motion_task", mapping.MotionTaskID).
		Msg("queued motion task deletion")
	return processed("card deletion queued for sync"), nil
}

// cardChanges lists which fields a card update touched, for logging and
// queue item details. With no before snapshot everything is assumed changed.
func cardChanges(card, old *trelloWebhookCard) []string {
	if old == nil {
		return []string{"all"}
	}

	var changes []string
	if card.Name != old.Name {
		changes = append(changes, "name")
	}
	if card.Desc != old.Desc {
		changes = append(changes, "description")
	}
	if card.Due != old.Due {
		changes = append(changes, "dueDate")
	}
	if card.IDList != old.IDList {
		changes = append(changes, "list")
	}
	if card.Closed != old.Closed {
		changes = append(changes, "closed")
	}
	if card.Pos != old.Pos {
		changes = append(changes, "position")
	}
	if !sameLabels(card.Labels, old.Labels) {
		changes = append(changes, "labels")
	}

	if len(changes) == 0 {
		return []string{"unknown"}
	}
	return changes
}

func sameLabels(a, b []models.Label) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
