// Package resolver owns field-level edit locks across the two platforms and
// applies deterministic conflict resolution strategies with audit logging.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"taskbridge/internal/database"
	"taskbridge/internal/models"
)

// Resolver coordinates per-field mutual exclusion and conflict resolution.
// Lock contention is not an error: Acquire reports false.
type Resolver struct {
	db           *database.DB
	lockDuration time.Duration
	logger       zerolog.Logger
}

func New(db *database.DB, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		db:           db,
		lockDuration: models.LockDuration,
		logger:       logger.With().Str("component", "resolver").Logger(),
	}
}

// AcquireFieldLock tries to take the (mapping, field) lock for owner on the
// given platform. A live lock held by another owner blocks; re-acquiring an
// own lock renews it; an expired row is overwritten. The decision happens in
// one conditional write, so two racing owners cannot both win.
func (r *Resolver) AcquireFieldLock(ctx context.Context, mappingID int64, field, owner, platform string) (bool, error) {
	return r.db.AcquireFieldLock(ctx, &models.EditLock{
		TaskMappingID: mappingID,
		FieldName:     field,
		LockedBy:      owner,
		Platform:      platform,
		ExpiresAt:     time.Now().Add(r.lockDuration),
	})
}

// ReleaseFieldLock drops the lock unconditionally. Releasing an absent lock
// is not an error.
func (r *Resolver) ReleaseFieldLock(ctx context.Context, mappingID int64, field string) error {
	return r.db.DeleteFieldLock(ctx, mappingID, field)
}

// IsFieldLocked reports whether a live lock exists, lazily purging an
// expired row along the way.
func (r *Resolver) IsFieldLocked(ctx context.Context, mappingID int64, field string) (bool, error) {
	lock, err := r.db.GetFieldLock(ctx, mappingID, field)
	if err != nil {
		return false, err
	}
	if lock == nil {
		return false, nil
	}
	if !lock.Live(time.Now()) {
		if err := r.db.DeleteFieldLock(ctx, mappingID, field); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ActiveLocks lists the live locks on a mapping.
func (r *Resolver) ActiveLocks(ctx context.Context, mappingID int64) ([]models.EditLock, error) {
	return r.db.GetActiveLocks(ctx, mappingID)
}

// CleanupExpiredLocks purges expired rows; meant to run periodically.
func (r *Resolver) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	return r.db.DeleteExpiredLocks(ctx)
}

// ForceReleaseAllLocks drops every lock on a mapping (admin path).
func (r *Resolver) ForceReleaseAllLocks(ctx context.Context, mappingID int64) error {
	return r.db.DeleteAllLocks(ctx, mappingID)
}

// MergeRequest carries the caller-chosen strategy plus optional merge input.
type MergeRequest struct {
	Strategy    string
	MergedValue *string
}

// Resolve applies a strategy to a conflict. The outcome is deterministic for
// a fixed conflict and strategy, and every attempt is written to the audit
// log, failures included.
func (r *Resolver) Resolve(ctx context.Context, conflict *models.Conflict, req MergeRequest) (*models.Resolution, error) {
	result := &models.Resolution{Strategy: req.Strategy, Timestamp: time.Now()}

	resolveErr := r.apply(conflict, req, result)
	result.Success = resolveErr == nil

	if err := r.logResolution(ctx, conflict, result, resolveErr); err != nil {
		r.logger.Error().Err(err).Str("field", conflict.Field).Msg("failed to log conflict resolution")
	}

	if resolveErr != nil {
		return nil, resolveErr
	}
	return result, nil
}

func (r *Resolver) apply(conflict *models.Conflict, req MergeRequest, result *models.Resolution) error {
	switch req.Strategy {
	case models.StrategyMotionWins:
		result.ResolvedValue = conflict.MotionValue
		result.Platform = models.PlatformMotion

	case models.StrategyTrelloWins:
		result.ResolvedValue = conflict.TrelloValue
		result.Platform = models.PlatformTrello

	case models.StrategyManualMerge:
		if req.MergedValue == nil {
			return fmt.Errorf("manual merge requires a merged value")
		}
		result.ResolvedValue = *req.MergedValue
		result.Platform = "manual"

	case models.StrategyLatestWins:
		if conflict.MotionLastUpdate == nil || conflict.TrelloLastUpdate == nil {
			return fmt.Errorf("latest wins strategy requires timestamp data")
		}
		if conflict.MotionLastUpdate.After(*conflict.TrelloLastUpdate) {
			result.ResolvedValue = conflict.MotionValue
			result.Platform = models.PlatformMotion
		} else {
			result.ResolvedValue = conflict.TrelloValue
			result.Platform = models.PlatformTrello
		}

	case models.StrategyConcatenate:
		result.ResolvedValue = conflict.MotionValue + "\n\n---\n\n" + conflict.TrelloValue
		result.Platform = "merged"

	case models.StrategySkip:
		// Resolve to "no change": both platforms stay untouched.
		result.ResolvedValue = ""
		result.Platform = "skip"

	default:
		return fmt.Errorf("unknown resolution strategy: %s", req.Strategy)
	}
	return nil
}

// SuggestStrategies returns applicable strategies in preference order for a
// conflict, based on its type and field.
func (r *Resolver) SuggestStrategies(conflict *models.Conflict) []models.StrategySuggestion {
	switch conflict.Type {
	case models.ConflictSimultaneousEdit:
		return []models.StrategySuggestion{
			{Strategy: models.StrategyLatestWins, Description: "Use the most recent change"},
			{Strategy: models.StrategyManualMerge, Description: "Manually resolve the conflict"},
		}
	case models.ConflictFieldMismatch:
		if conflict.Field == "description" {
			return []models.StrategySuggestion{
				{Strategy: models.StrategyConcatenate, Description: "Combine both descriptions"},
				{Strategy: models.StrategyMotionWins, Description: "Use Motion version"},
				{Strategy: models.StrategyTrelloWins, Description: "Use Trello version"},
			}
		}
		return []models.StrategySuggestion{
			{Strategy: models.StrategyMotionWins, Description: "Use Motion version"},
			{Strategy: models.StrategyTrelloWins, Description: "Use Trello version"},
			{Strategy: models.StrategyLatestWins, Description: "Use the most recent change"},
		}
	default:
		return []models.StrategySuggestion{
			{Strategy: models.StrategySkip, Description: "Skip this sync"},
			{Strategy: models.StrategyManualMerge, Description: "Manually resolve"},
		}
	}
}

func (r *Resolver) logResolution(ctx context.Context, conflict *models.Conflict, result *models.Resolution, resolveErr error) error {
	details := map[string]any{
		"conflict_type":  conflict.Type,
		"field":          conflict.Field,
		"strategy":       result.Strategy,
		"resolved_value": result.ResolvedValue,
		"motion_value":   conflict.MotionValue,
		"trello_value":   conflict.TrelloValue,
	}
	if resolveErr != nil {
		details["error"] = resolveErr.Error()
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode resolution details: %w", err)
	}

	return r.db.AppendSyncLog(ctx, &models.SyncLogEntry{
		ActionType: "conflict_resolution",
		Platform:   "both",
		Success:    result.Success,
		Details:    string(raw),
	})
}
