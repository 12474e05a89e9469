package mapper

import (
	"fmt"
	"time"

	"taskbridge/internal/models"
)

// ParseDue parses an ISO-8601 due date as delivered by either platform.
// Empty input means no due date; a malformed value is a validation error.
func ParseDue(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}
	return nil, fmt.Errorf("invalid due date format: %q", value)
}

// ValidateMotion checks a Motion task before it is handed to the engine.
// Invalid priorities are auto-corrected to MEDIUM with a warning.
func (m *Mapper) ValidateMotion(task *models.MotionTask) models.ValidationResult {
	var errs, warnings []string

	if task.Name == "" {
		errs = append(errs, "task must have a title/name")
	}

	if task.Priority != "" {
		switch task.Priority {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
		default:
			warnings = append(warnings, "invalid priority level, defaulting to MEDIUM")
			task.Priority = models.PriorityMedium
		}
	}

	return models.ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// ValidateTrello checks a Trello card before it is handed to the engine.
func (m *Mapper) ValidateTrello(card *models.TrelloCard) models.ValidationResult {
	var errs, warnings []string

	if card.Name == "" {
		errs = append(errs, "task must have a title/name")
	}
	if len(card.Name) > models.TrelloNameLimit {
		errs = append(errs, fmt.Sprintf("trello card name exceeds %d character limit", models.TrelloNameLimit))
	}

	return models.ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}
