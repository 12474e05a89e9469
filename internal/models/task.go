package models

import "time"

// Label is a name/color pair shared by both platforms. Order is irrelevant.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// MotionTask is the Motion-side task representation the engine works with.
type MotionTask struct {
	ID           string         `json:"id,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Status       string         `json:"status,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	Labels       []Label        `json:"labels,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// TrelloCustomField is one custom field value attached to a card.
type TrelloCustomField struct {
	IDCustomField string `json:"id_custom_field"`
	Value         any    `json:"value"`
}

// TrelloCard is the Trello-side card representation the engine works with.
type TrelloCard struct {
	ID               string              `json:"id,omitempty"`
	BoardID          string              `json:"board_id,omitempty"`
	Name             string              `json:"name"`
	Desc             string              `json:"desc"`
	Due              *time.Time          `json:"due,omitempty"`
	Pos              string              `json:"pos,omitempty"`
	ListName         string              `json:"list_name,omitempty"`
	Labels           []Label             `json:"labels,omitempty"`
	CustomFieldItems []TrelloCustomField `json:"custom_field_items,omitempty"`
	DateLastActivity time.Time           `json:"date_last_activity,omitempty"`
}

// FieldMapping links a Motion custom field to a Trello custom field.
// Only approved mappings are applied during translation.
type FieldMapping struct {
	MotionFieldID   string `json:"motion_field_id" yaml:"motion_field_id"`
	TrelloFieldID   string `json:"trello_field_id" yaml:"trello_field_id"`
	FieldType       string `json:"field_type" yaml:"field_type"`
	MappingApproved bool   `json:"mapping_approved" yaml:"mapping_approved"`
}

// SyncProject pairs a Motion project with a Trello board.
type SyncProject struct {
	ID              int64  `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	MotionProjectID string `json:"motion_project_id" yaml:"motion_project_id"`
	TrelloBoardID   string `json:"trello_board_id" yaml:"trello_board_id"`
	SyncEnabled     bool   `json:"sync_enabled" yaml:"sync_enabled"`
}
