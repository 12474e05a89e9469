package models

import "time"

// Conflict is a detected divergence between the two platforms' views of the
// same logical task. It is transient: resolutions are logged, conflicts are
// not persisted as rows of their own.
type Conflict struct {
	Type             string        `json:"type"`
	Field            string        `json:"field"`
	MotionValue      string        `json:"motion_value"`
	TrelloValue      string        `json:"trello_value"`
	Severity         string        `json:"severity"`
	TimeDifference   time.Duration `json:"time_difference,omitempty"`
	MotionLastUpdate *time.Time    `json:"motion_last_update,omitempty"`
	TrelloLastUpdate *time.Time    `json:"trello_last_update,omitempty"`
}

// Resolution is the outcome of applying a strategy to a conflict.
type Resolution struct {
	Strategy      string    `json:"strategy"`
	ResolvedValue string    `json:"resolved_value"`
	Platform      string    `json:"platform"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

// StrategySuggestion pairs a strategy name with a human-readable description.
type StrategySuggestion struct {
	Strategy    string `json:"strategy"`
	Description string `json:"description"`
}

// SyncLogEntry is one append-only audit row: conflict resolutions, webhook
// errors and queue outcomes all land here.
type SyncLogEntry struct {
	ID         int64     `json:"id"`
	ActionType string    `json:"action_type"`
	Platform   string    `json:"platform"`
	Success    bool      `json:"success"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidationResult reports mapper input validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
