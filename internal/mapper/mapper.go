// Package mapper is the pure translation layer between the Motion task model
// and the Trello card model. It performs no I/O.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskbridge/internal/models"
)

// Mapper converts tasks between the two platforms, generates mapping keys and
// detects field-level conflicts between snapshots.
type Mapper struct {
	conflictThreshold time.Duration
}

func New() *Mapper {
	return &Mapper{conflictThreshold: models.ConflictThreshold}
}

// motionStatusToTrelloList maps a Motion status to a Trello list name.
// Unknown statuses fall into the "To Do" bucket.
var motionStatusToTrelloList = map[string]string{
	"BACKLOG":     "To Do",
	"TODO":        "To Do",
	"IN_PROGRESS": "In Progress",
	"IN_REVIEW":   "Review",
	"COMPLETED":   "Done",
	"ARCHIVED":    "Done",
}

// trelloListToMotionStatus maps a Trello list name to a Motion status.
// Unknown lists fall into the "TODO" bucket.
var trelloListToMotionStatus = map[string]string{
	"To Do":       "TODO",
	"Doing":       "IN_PROGRESS",
	"In Progress": "IN_PROGRESS",
	"Review":      "IN_REVIEW",
	"Done":        "COMPLETED",
	"Complete":    "COMPLETED",
}

var priorityLabels = map[string]string{
	"urgent": models.PriorityUrgent,
	"high":   models.PriorityHigh,
	"medium": models.PriorityMedium,
	"low":    models.PriorityLow,
}

// priorityLabelColors names the Trello label carrying each priority level.
// Trello has no priority field, so the level rides on a label; without it the
// reverse translation could not recover anything but the default.
var priorityLabelColors = map[string]string{
	models.PriorityUrgent: "red",
	models.PriorityHigh:   "orange",
	models.PriorityMedium: "yellow",
	models.PriorityLow:    "green",
}

// MotionToTrello produces the Trello card representation of a Motion task.
func (m *Mapper) MotionToTrello(task *models.MotionTask, fieldMappings []models.FieldMapping) *models.TrelloCard {
	card := &models.TrelloCard{
		Name:   task.Name,
		Desc:   task.Description,
		Pos:    "bottom",
		Labels: copyLabels(task.Labels),
	}
	if task.Priority == models.PriorityUrgent {
		card.Pos = "top"
	}
	if color, ok := priorityLabelColors[task.Priority]; ok && !hasPriorityLabel(card.Labels) {
		card.Labels = append(card.Labels, models.Label{
			Name:  strings.ToLower(task.Priority),
			Color: color,
		})
	}
	if task.DueDate != nil {
		due := task.DueDate.UTC()
		card.Due = &due
	}
	if task.Status != "" {
		card.ListName = mapMotionStatus(task.Status)
	}
	if len(fieldMappings) > 0 {
		card.CustomFieldItems = applyMotionFieldMappings(task.CustomFields, fieldMappings)
	}
	return card
}

// TrelloToMotion produces the Motion task representation of a Trello card.
func (m *Mapper) TrelloToMotion(card *models.TrelloCard, fieldMappings []models.FieldMapping) *models.MotionTask {
	task := &models.MotionTask{
		Name:        card.Name,
		Description: card.Desc,
		Priority:    priorityFromLabels(card.Labels),
		Labels:      copyLabels(card.Labels),
	}
	if card.Due != nil {
		due := card.Due.UTC()
		task.DueDate = &due
	}
	if card.ListName != "" {
		task.Status = mapTrelloList(card.ListName)
	}
	if len(fieldMappings) > 0 {
		task.CustomFields = applyTrelloFieldMappings(card.CustomFieldItems, fieldMappings)
	}
	return task
}

// GenerateMappingKey returns a correlation key for a mapping. The shape
// depends on which platform ids are known; keys without a deterministic id
// pair carry a random suffix to stay unique under bursts of creations.
func (m *Mapper) GenerateMappingKey(motionID, trelloID string) string {
	timestamp := time.Now().UnixMilli()
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]

	switch {
	case motionID != "" && trelloID != "":
		return fmt.Sprintf("sync_%s_%s_%d", motionID, trelloID, timestamp)
	case motionID != "":
		return fmt.Sprintf("motion_%s_%d_%s", motionID, timestamp, random)
	case trelloID != "":
		return fmt.Sprintf("trello_%s_%d_%s", trelloID, timestamp, random)
	default:
		return fmt.Sprintf("manual_%d_%s", timestamp, random)
	}
}

// DetectConflicts compares a Motion snapshot with a Trello snapshot of the
// same logical task. The simultaneous-edit check runs first: two updates
// closer than the threshold indicate a race regardless of which fields
// differ. Detection never mutates its inputs.
func (m *Mapper) DetectConflicts(task *models.MotionTask, card *models.TrelloCard) []models.Conflict {
	var conflicts []models.Conflict

	motionUpdate := task.UpdatedAt
	trelloUpdate := card.DateLastActivity
	diff := motionUpdate.Sub(trelloUpdate)
	if diff < 0 {
		diff = -diff
	}

	if diff < m.conflictThreshold {
		mu, tu := motionUpdate, trelloUpdate
		conflicts = append(conflicts, models.Conflict{
			Type:             models.ConflictSimultaneousEdit,
			Field:            "metadata",
			MotionValue:      motionUpdate.UTC().Format(time.RFC3339Nano),
			TrelloValue:      trelloUpdate.UTC().Format(time.RFC3339Nano),
			TimeDifference:   diff,
			Severity:         models.SeverityHigh,
			MotionLastUpdate: &mu,
			TrelloLastUpdate: &tu,
		})
	}

	if task.Name != card.Name {
		conflicts = append(conflicts, models.Conflict{
			Type:        models.ConflictFieldMismatch,
			Field:       "title",
			MotionValue: task.Name,
			TrelloValue: card.Name,
			Severity:    models.SeverityMedium,
		})
	}

	if task.Description != card.Desc {
		conflicts = append(conflicts, models.Conflict{
			Type:        models.ConflictFieldMismatch,
			Field:       "description",
			MotionValue: task.Description,
			TrelloValue: card.Desc,
			Severity:    models.SeverityLow,
		})
	}

	if !sameInstant(task.DueDate, card.Due) {
		conflicts = append(conflicts, models.Conflict{
			Type:        models.ConflictFieldMismatch,
			Field:       "due_date",
			MotionValue: formatInstant(task.DueDate),
			TrelloValue: formatInstant(card.Due),
			Severity:    models.SeverityMedium,
		})
	}

	return conflicts
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func mapMotionStatus(status string) string {
	if list, ok := motionStatusToTrelloList[status]; ok {
		return list
	}
	return "To Do"
}

func mapTrelloList(listName string) string {
	if status, ok := trelloListToMotionStatus[listName]; ok {
		return status
	}
	return "TODO"
}

func hasPriorityLabel(labels []models.Label) bool {
	for _, label := range labels {
		if _, ok := priorityLabels[strings.ToLower(label.Name)]; ok {
			return true
		}
	}
	return false
}

func priorityFromLabels(labels []models.Label) string {
	for _, label := range labels {
		if priority, ok := priorityLabels[strings.ToLower(label.Name)]; ok {
			return priority
		}
	}
	return models.PriorityMedium
}

func copyLabels(labels []models.Label) []models.Label {
	if len(labels) == 0 {
		return nil
	}
	out := make([]models.Label, len(labels))
	for i, label := range labels {
		out[i] = label
		if out[i].Color == "" {
			out[i].Color = "blue"
		}
	}
	return out
}
