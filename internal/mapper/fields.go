package mapper

import (
	"fmt"
	"strconv"
	"time"

	"taskbridge/internal/models"
)

// applyMotionFieldMappings translates Motion custom fields into Trello custom
// field items. Only approved mappings are applied; unmatched source fields
// are dropped silently.
func applyMotionFieldMappings(source map[string]any, mappings []models.FieldMapping) []models.TrelloCustomField {
	var out []models.TrelloCustomField
	for _, mapping := range mappings {
		if !mapping.MappingApproved || mapping.MotionFieldID == "" {
			continue
		}
		value, ok := source[mapping.MotionFieldID]
		if !ok {
			continue
		}
		out = append(out, models.TrelloCustomField{
			IDCustomField: mapping.TrelloFieldID,
			Value:         convertFieldValue(value, mapping.FieldType),
		})
	}
	return out
}

// applyTrelloFieldMappings translates Trello custom field items into Motion
// custom fields, same approval rules.
func applyTrelloFieldMappings(source []models.TrelloCustomField, mappings []models.FieldMapping) map[string]any {
	out := make(map[string]any)
	for _, mapping := range mappings {
		if !mapping.MappingApproved || mapping.TrelloFieldID == "" {
			continue
		}
		for _, field := range source {
			if field.IDCustomField == mapping.TrelloFieldID {
				out[mapping.MotionFieldID] = convertFieldValue(field.Value, mapping.FieldType)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func convertFieldValue(value any, fieldType string) any {
	switch fieldType {
	case "date":
		if value == nil {
			return nil
		}
		if t, ok := value.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
		if s, ok := value.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
		return value
	case "number":
		switch v := value.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
			return nil
		default:
			return nil
		}
	case "text":
		if value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	default:
		// select, multi_select and unknown types pass through untouched.
		return value
	}
}
