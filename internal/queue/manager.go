// Package queue implements durable sync action processing: enqueue, batched
// dispatch with per-item compare-and-swap claiming, retry with per-platform
// backoff, and terminal failure handling.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskbridge/internal/config"
	"taskbridge/internal/domain"
	"taskbridge/internal/mapper"
	"taskbridge/internal/metrics"
	"taskbridge/internal/models"
	"taskbridge/internal/platform"
	"taskbridge/internal/resolver"
)

// budgetDeferDelay spaces out re-checks when a platform request budget is
// spent for the current window.
const budgetDeferDelay = 30 * time.Second

// Manager owns the sync queue lifecycle.
type Manager struct {
	store    domain.Store
	mapper   *mapper.Mapper
	resolver *resolver.Resolver
	motion   domain.MotionAPI
	trello   domain.TrelloAPI

	budget      domain.RequestBudget
	deadLetters domain.DeadLetters
	notifier    domain.Notifier

	batchSize       int
	defaultStrategy string
	motionBackoff   string
	trelloBackoff   string
	motionBudget    int
	trelloBudget    int
	fieldMappings   []models.FieldMapping

	// inflight guards against two workers of this process touching items of
	// the same mapping concurrently. Cross-process exclusion is the DB
	// compare-and-swap in MarkItemProcessing.
	mu       sync.Mutex
	inflight map[int64]struct{}

	logger zerolog.Logger
}

// Options carries the optional collaborators. Any nil field disables that
// behavior.
type Options struct {
	Budget      domain.RequestBudget
	DeadLetters domain.DeadLetters
	Notifier    domain.Notifier
}

func NewManager(
	store domain.Store,
	taskMapper *mapper.Mapper,
	conflictResolver *resolver.Resolver,
	motion domain.MotionAPI,
	trello domain.TrelloAPI,
	cfg *config.Config,
	opts Options,
	logger *zerolog.Logger,
) *Manager {
	return &Manager{
		store:           store,
		mapper:          taskMapper,
		resolver:        conflictResolver,
		motion:          motion,
		trello:          trello,
		budget:          opts.Budget,
		deadLetters:     opts.DeadLetters,
		notifier:        opts.Notifier,
		batchSize:       cfg.Queue.BatchSize,
		defaultStrategy: cfg.Queue.DefaultStrategy,
		motionBackoff:   cfg.Motion.BackoffStrategy,
		trelloBackoff:   cfg.Trello.BackoffStrategy,
		motionBudget:    cfg.Motion.RequestsPerMinute,
		trelloBudget:    cfg.Trello.RequestsPerMinute,
		fieldMappings:   cfg.FieldMappings,
		inflight:        make(map[int64]struct{}),
		logger:          logger.With().Str("component", "sync-queue").Logger(),
	}
}

// Enqueue validates and persists a sync action. The payload is checked here,
// at the ingestion boundary, so handlers can trust what they decode.
func (m *Manager) Enqueue(ctx context.Context, action *models.SyncAction) (*models.SyncQueueItem, error) {
	if err := action.Payload.Validate(action.Type); err != nil {
		return nil, fmt.Errorf("invalid sync action: %w", err)
	}

	encoded, err := action.Payload.Encode()
	if err != nil {
		return nil, err
	}

	item := &models.SyncQueueItem{
		TaskMappingID: action.TaskMappingID,
		ActionType:    action.Type,
		Payload:       encoded,
		MaxRetries:    action.MaxRetries,
		ScheduledFor:  action.ScheduleFor,
	}
	if err := m.store.CreateSyncItem(ctx, item); err != nil {
		return nil, err
	}

	m.logger.Info().
		Int64("item_id", item.ID).
		Int64("mapping_id", item.TaskMappingID).
		Str("action", item.ActionType).
		Str("target", action.Payload.TargetPlatform).
		Msg("sync action enqueued")
	return item, nil
}

// ProcessBatch claims and executes due items concurrently. Items sharing a
// task mapping are serialized within the process; the DB status CAS keeps
// separate processes from double-executing an item.
func (m *Manager) ProcessBatch(ctx context.Context) (*models.BatchResult, error) {
	items, err := m.store.GetDueSyncItems(ctx, m.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch due items: %w", err)
	}

	// Claim everything up front so two items of one mapping are never in the
	// same batch, then dispatch the claimed set concurrently.
	var claimed []models.SyncQueueItem
	for i := range items {
		item := items[i]

		if !m.claimMapping(item.TaskMappingID) {
			continue
		}
		took, err := m.store.MarkItemProcessing(ctx, item.ID)
		if err != nil {
			m.releaseMapping(item.TaskMappingID)
			m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to claim queue item")
			continue
		}
		if !took {
			m.releaseMapping(item.TaskMappingID)
			continue
		}
		claimed = append(claimed, item)
	}

	result := &models.BatchResult{}
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for i := range claimed {
		item := claimed[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.releaseMapping(item.TaskMappingID)

			ok := m.processItem(ctx, &item)

			resultMu.Lock()
			result.Processed++
			if ok {
				result.Successful++
			} else {
				result.Failed++
			}
			resultMu.Unlock()
		}()
	}

	wg.Wait()

	m.publishDepth(ctx)
	return result, nil
}

func (m *Manager) claimMapping(mappingID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[mappingID]; busy {
		return false
	}
	m.inflight[mappingID] = struct{}{}
	return true
}

func (m *Manager) releaseMapping(mappingID int64) {
	m.mu.Lock()
	delete(m.inflight, mappingID)
	m.mu.Unlock()
}

// processItem runs one claimed item to a terminal or rescheduled state.
// Returns true when the item completed.
func (m *Manager) processItem(ctx context.Context, item *models.SyncQueueItem) bool {
	payload, err := models.DecodePayload(item.Payload)
	if err == nil {
		err = payload.Validate(item.ActionType)
	}
	if err != nil {
		// A corrupt payload can never succeed, retrying is pointless.
		m.failTerminally(ctx, item, fmt.Sprintf("malformed payload: %v", err))
		return false
	}

	if deferred := m.deferForBudget(ctx, item, payload); deferred {
		return false
	}

	details, execErr := m.execute(ctx, item, payload)
	if execErr == nil {
		if err := m.store.CompleteSyncItem(ctx, item.ID, details); err != nil {
			m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to complete queue item")
		}
		metrics.QueueItems.WithLabelValues(item.ActionType, "completed").Inc()
		m.logger.Info().
			Int64("item_id", item.ID).
			Str("action", item.ActionType).
			Msg("sync item completed")
		return true
	}

	m.handleFailure(ctx, item, payload, execErr)
	return false
}

// deferForBudget pushes the item back without consuming a retry when the
// target platform's request budget for the window is spent.
func (m *Manager) deferForBudget(ctx context.Context, item *models.SyncQueueItem, payload *models.ActionPayload) bool {
	if m.budget == nil {
		return false
	}

	target := payload.TargetPlatform
	limit := m.motionBudget
	if target == models.PlatformTrello {
		limit = m.trelloBudget
	}
	if target == "" {
		// Sync actions call both platforms; charge the tighter budget.
		target = models.PlatformMotion
		if m.trelloBudget < m.motionBudget {
			target = models.PlatformTrello
			limit = m.trelloBudget
		}
	}

	allowed, err := m.budget.Allow(ctx, target, limit, time.Minute)
	if err != nil {
		m.logger.Warn().Err(err).Msg("request budget check failed, dispatching anyway")
		return false
	}
	if allowed {
		return false
	}

	metrics.BudgetDenied.WithLabelValues(target).Inc()
	next := time.Now().Add(budgetDeferDelay)
	if err := m.store.RescheduleSyncItem(ctx, item.ID, item.RetryCount, "request budget exhausted", next); err != nil {
		m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to defer queue item")
	}
	m.logger.Debug().
		Int64("item_id", item.ID).
		Str("platform", target).
		Msg("dispatch deferred, request budget spent")
	return true
}

func (m *Manager) execute(ctx context.Context, item *models.SyncQueueItem, payload *models.ActionPayload) (string, error) {
	switch item.ActionType {
	case models.ActionCreate:
		return m.executeCreate(ctx, item, payload)
	case models.ActionUpdate:
		return m.executeUpdate(ctx, payload)
	case models.ActionDelete:
		return m.executeDelete(ctx, payload)
	case models.ActionSync:
		return m.executeSync(ctx, item, payload)
	default:
		return "", fmt.Errorf("unknown action type: %s", item.ActionType)
	}
}

// executeCreate creates the counterpart on the target platform and backfills
// its id into the task mapping.
func (m *Manager) executeCreate(ctx context.Context, item *models.SyncQueueItem, payload *models.ActionPayload) (string, error) {
	create := payload.Create

	switch payload.TargetPlatform {
	case models.PlatformMotion:
		if create.MotionTask == nil {
			return "", fmt.Errorf("create targeting motion carries no translated task")
		}
		id, err := m.motion.CreateTask(ctx, create.MotionProjectID, create.MotionTask)
		m.countCall(models.PlatformMotion, err)
		if err != nil {
			return "", err
		}
		if err := m.store.SetMotionTaskID(ctx, item.TaskMappingID, id); err != nil {
			return "", fmt.Errorf("backfill motion task id: %w", err)
		}
		return fmt.Sprintf(`{"created_motion_task":%q}`, id), nil

	case models.PlatformTrello:
		if create.TrelloCard == nil {
			return "", fmt.Errorf("create targeting trello carries no translated card")
		}
		id, err := m.trello.CreateCard(ctx, create.TrelloBoardID, create.TrelloCard)
		m.countCall(models.PlatformTrello, err)
		if err != nil {
			return "", err
		}
		if err := m.store.SetTrelloCardID(ctx, item.TaskMappingID, id); err != nil {
			return "", fmt.Errorf("backfill trello card id: %w", err)
		}
		return fmt.Sprintf(`{"created_trello_card":%q}`, id), nil
	}
	return "", fmt.Errorf("unknown target platform: %s", payload.TargetPlatform)
}

func (m *Manager) executeUpdate(ctx context.Context, payload *models.ActionPayload) (string, error) {
	update := payload.Update

	switch payload.TargetPlatform {
	case models.PlatformMotion:
		if update.MotionTask == nil {
			return "", fmt.Errorf("update targeting motion carries no translated task")
		}
		err := m.motion.UpdateTask(ctx, update.TaskID, update.MotionTask)
		m.countCall(models.PlatformMotion, err)
		if err != nil {
			return "", err
		}

	case models.PlatformTrello:
		if update.TrelloCard == nil {
			return "", fmt.Errorf("update targeting trello carries no translated card")
		}
		err := m.trello.UpdateCard(ctx, update.TaskID, update.TrelloCard)
		m.countCall(models.PlatformTrello, err)
		if err != nil {
			return "", err
		}

	default:
		return "", fmt.Errorf("unknown target platform: %s", payload.TargetPlatform)
	}

	details, _ := json.Marshal(map[string]any{"updated": update.TaskID, "changes": update.Changes})
	return string(details), nil
}

func (m *Manager) executeDelete(ctx context.Context, payload *models.ActionPayload) (string, error) {
	taskID := payload.Delete.TaskID

	switch payload.TargetPlatform {
	case models.PlatformMotion:
		err := m.motion.DeleteTask(ctx, taskID)
		m.countCall(models.PlatformMotion, err)
		if err != nil {
			return "", err
		}
	case models.PlatformTrello:
		err := m.trello.DeleteCard(ctx, taskID)
		m.countCall(models.PlatformTrello, err)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown target platform: %s", payload.TargetPlatform)
	}

	return fmt.Sprintf(`{"deleted":%q}`, taskID), nil
}

// executeSync reconciles one mapping: fetch both sides, detect conflicts and
// resolve them with the configured default strategy under field locks.
func (m *Manager) executeSync(ctx context.Context, item *models.SyncQueueItem, payload *models.ActionPayload) (string, error) {
	mappingID := payload.Sync.TaskMappingID
	if mappingID == 0 {
		mappingID = item.TaskMappingID
	}

	mapping, err := m.store.GetTaskMapping(ctx, mappingID)
	if err != nil {
		return "", fmt.Errorf("load mapping %d: %w", mappingID, err)
	}
	if mapping.SyncStatus == models.SyncStatusDeleted {
		return `{"skipped":"mapping deleted"}`, nil
	}
	if mapping.MotionTaskID == "" || mapping.TrelloCardID == "" {
		return "", fmt.Errorf("mapping %d has no counterpart yet", mappingID)
	}

	task, err := m.motion.GetTask(ctx, mapping.MotionTaskID)
	m.countCall(models.PlatformMotion, err)
	if err != nil {
		return "", fmt.Errorf("fetch motion task: %w", err)
	}
	card, err := m.trello.GetCard(ctx, mapping.TrelloCardID)
	m.countCall(models.PlatformTrello, err)
	if err != nil {
		return "", fmt.Errorf("fetch trello card: %w", err)
	}

	// The mapping's recorded update times are the authoritative edit clocks;
	// fall back to what the platforms report.
	if mapping.LastMotionUpdate != nil {
		task.UpdatedAt = *mapping.LastMotionUpdate
	}
	if mapping.LastTrelloUpdate != nil {
		card.DateLastActivity = *mapping.LastTrelloUpdate
	}

	conflicts := m.mapper.DetectConflicts(task, card)
	if len(conflicts) == 0 {
		return `{"conflicts":0}`, nil
	}

	resolved, skipped := 0, 0
	for i := range conflicts {
		conflict := &conflicts[i]
		metrics.Conflicts.WithLabelValues(conflict.Type, conflict.Field).Inc()

		ok, err := m.resolveConflict(ctx, mapping, task, card, conflict)
		if err != nil {
			return "", err
		}
		if ok {
			resolved++
		} else {
			skipped++
		}
	}

	if resolved > 0 {
		err := m.motion.UpdateTask(ctx, mapping.MotionTaskID, task)
		m.countCall(models.PlatformMotion, err)
		if err != nil {
			return "", fmt.Errorf("write resolved motion task: %w", err)
		}
		err = m.trello.UpdateCard(ctx, mapping.TrelloCardID, card)
		m.countCall(models.PlatformTrello, err)
		if err != nil {
			return "", fmt.Errorf("write resolved trello card: %w", err)
		}
	}

	details, _ := json.Marshal(map[string]int{
		"conflicts": len(conflicts),
		"resolved":  resolved,
		"skipped":   skipped,
	})
	return string(details), nil
}

// resolveConflict resolves a single field conflict under its edit lock and
// applies the winning value to the in-memory task and card. Returns false
// when the field is locked by someone else and the conflict is left alone.
func (m *Manager) resolveConflict(
	ctx context.Context,
	mapping *models.TaskMapping,
	task *models.MotionTask,
	card *models.TrelloCard,
	conflict *models.Conflict,
) (bool, error) {
	const owner = "sync-engine"

	acquired, err := m.resolver.AcquireFieldLock(ctx, mapping.ID, conflict.Field, owner, "both")
	if err != nil {
		return false, fmt.Errorf("acquire lock on %s: %w", conflict.Field, err)
	}
	if !acquired {
		m.logger.Warn().
			Int64("mapping_id", mapping.ID).
			Str("field", conflict.Field).
			Msg("conflict field locked, leaving unresolved")
		return false, nil
	}
	defer func() {
		if err := m.resolver.ReleaseFieldLock(ctx, mapping.ID, conflict.Field); err != nil {
			m.logger.Error().Err(err).Str("field", conflict.Field).Msg("failed to release field lock")
		}
	}()

	// Field-mismatch conflicts carry no edit clocks; latest-wins needs them.
	if conflict.MotionLastUpdate == nil {
		mu := task.UpdatedAt
		conflict.MotionLastUpdate = &mu
	}
	if conflict.TrelloLastUpdate == nil {
		tu := card.DateLastActivity
		conflict.TrelloLastUpdate = &tu
	}

	resolution, err := m.resolver.Resolve(ctx, conflict, resolver.MergeRequest{Strategy: m.defaultStrategy})
	if err != nil {
		metrics.Resolutions.WithLabelValues(m.defaultStrategy, "error").Inc()
		return false, fmt.Errorf("resolve %s conflict: %w", conflict.Field, err)
	}
	metrics.Resolutions.WithLabelValues(resolution.Strategy, "ok").Inc()

	if resolution.Strategy == models.StrategySkip {
		return false, nil
	}

	applyResolvedField(task, card, conflict.Field, resolution.ResolvedValue)
	return true, nil
}

// applyResolvedField writes the winning value onto both in-memory sides so
// the follow-up updates push identical state.
func applyResolvedField(task *models.MotionTask, card *models.TrelloCard, field, value string) {
	switch field {
	case "title":
		task.Name = value
		card.Name = value
	case "description":
		task.Description = value
		card.Desc = value
	case "due_date":
		due, err := mapper.ParseDue(value)
		if err != nil {
			return
		}
		task.DueDate = due
		card.Due = due
	}
}

// handleFailure routes a failed execution to retry or terminal failure.
func (m *Manager) handleFailure(ctx context.Context, item *models.SyncQueueItem, payload *models.ActionPayload, execErr error) {
	if !platform.IsRetryable(execErr) {
		m.failTerminally(ctx, item, execErr.Error())
		return
	}

	newCount := item.RetryCount + 1
	if newCount > item.MaxRetries {
		m.failTerminally(ctx, item, fmt.Sprintf("retries exhausted: %v", execErr))
		return
	}

	policy := m.policyFor(payload.TargetPlatform)
	delay := backoffDelay(policy, newCount)
	next := time.Now().Add(delay)

	if err := m.store.RescheduleSyncItem(ctx, item.ID, newCount, execErr.Error(), next); err != nil {
		m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to reschedule queue item")
		return
	}

	metrics.QueueItems.WithLabelValues(item.ActionType, "rescheduled").Inc()
	m.logger.Warn().
		Err(execErr).
		Int64("item_id", item.ID).
		Int("retry", newCount).
		Int("max_retries", item.MaxRetries).
		Dur("delay", delay).
		Msg("sync item failed, retry scheduled")
}

// failTerminally marks the item failed, dead-letters it and alerts the
// operator. Dead-letter and notify failures are logged, never fatal.
func (m *Manager) failTerminally(ctx context.Context, item *models.SyncQueueItem, reason string) {
	if err := m.store.FailSyncItem(ctx, item.ID, reason); err != nil {
		m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to mark item failed")
	}
	metrics.QueueItems.WithLabelValues(item.ActionType, "failed").Inc()

	m.logger.Error().
		Int64("item_id", item.ID).
		Str("action", item.ActionType).
		Str("reason", reason).
		Msg("sync item failed terminally")

	if m.deadLetters != nil {
		failed := *item
		failed.Status = models.QueueStatusFailed
		failed.LastError = &reason
		if err := m.deadLetters.Push(ctx, &failed); err != nil {
			m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to push dead letter")
		}
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyFailure(ctx, item, reason); err != nil {
			m.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to send failure alert")
		}
	}
}

// RetryFailed re-queues failed items with retry budget left for immediate
// processing. Returns how many were re-queued.
func (m *Manager) RetryFailed(ctx context.Context) (int64, error) {
	n, err := m.store.ResetFailedItems(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Int64("count", n).Msg("failed sync items re-queued")
	}
	return n, nil
}

// Stats reports the current queue depth by status.
func (m *Manager) Stats(ctx context.Context) (*models.QueueStats, error) {
	return m.store.QueueStats(ctx)
}

// Cleanup deletes completed items older than the retention window.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := m.store.CleanupCompleted(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Int64("deleted", n).Msg("completed sync items cleaned up")
	}
	return n, nil
}

func (m *Manager) publishDepth(ctx context.Context) {
	stats, err := m.store.QueueStats(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to read queue stats for metrics")
		return
	}
	metrics.QueueDepth.WithLabelValues(models.QueueStatusPending).Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues(models.QueueStatusProcessing).Set(float64(stats.Processing))
	metrics.QueueDepth.WithLabelValues(models.QueueStatusCompleted).Set(float64(stats.Completed))
	metrics.QueueDepth.WithLabelValues(models.QueueStatusFailed).Set(float64(stats.Failed))
}

func (m *Manager) countCall(platformName string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.PlatformCalls.WithLabelValues(platformName, outcome).Inc()
}
