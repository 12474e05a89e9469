package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/config"
	"taskbridge/internal/database"
	"taskbridge/internal/mapper"
	"taskbridge/internal/models"
)

type captureQueue struct {
	actions []*models.SyncAction
	err     error
}

func (q *captureQueue) Enqueue(ctx context.Context, action *models.SyncAction) (*models.SyncQueueItem, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.actions = append(q.actions, action)
	return &models.SyncQueueItem{ID: int64(len(q.actions))}, nil
}

type testServer struct {
	srv   *Server
	db    *database.DB
	queue *captureQueue
}

func newTestServer(t *testing.T, cfg config.WebhookConfig) *testServer {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "webhook_test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetProjects([]*models.SyncProject{
		{ID: 1, Name: "Main", MotionProjectID: "proj-1", TrelloBoardID: "board-1", SyncEnabled: true},
		{ID: 2, Name: "Paused", MotionProjectID: "proj-2", TrelloBoardID: "board-2", SyncEnabled: false},
	})

	queue := &captureQueue{}
	srv := NewServer(cfg, db, queue, mapper.New(), nil, &logger)
	return &testServer{srv: srv, db: db, queue: queue}
}

func (ts *testServer) post(t *testing.T, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func motionBody(t *testing.T, eventType string, task map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event_type": eventType, "data": task})
	require.NoError(t, err)
	return raw
}

func trelloBody(t *testing.T, actionType string, data map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"action": map[string]any{"type": actionType, "data": data},
	})
	require.NoError(t, err)
	return raw
}

func TestMotionTaskCreatedQueuesTrelloCreate(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := motionBody(t, "task.created", map[string]any{
		"id":         "mot-1",
		"project_id": "proj-1",
		"name":       "Prepare launch",
		"priority":   "URGENT",
		"dueDate":    "2026-09-15T10:00:00Z",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	mapping, err := ts.db.GetMappingByMotionTask(context.Background(), "mot-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mapping.ProjectID)
	assert.Equal(t, models.SyncStatusActive, mapping.SyncStatus)
	require.NotNil(t, mapping.LastMotionUpdate)

	require.Len(t, ts.queue.actions, 1)
	action := ts.queue.actions[0]
	assert.Equal(t, models.ActionCreate, action.Type)
	assert.Equal(t, models.PlatformTrello, action.Payload.TargetPlatform)
	require.NotNil(t, action.Payload.Create.TrelloCard)
	assert.Equal(t, "Prepare launch", action.Payload.Create.TrelloCard.Name)
	assert.Equal(t, "top", action.Payload.Create.TrelloCard.Pos)
	assert.Equal(t, "board-1", action.Payload.Create.TrelloBoardID)
}

func TestMotionTaskCreatedUnpairedProjectIgnored(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := motionBody(t, "task.created", map[string]any{
		"id": "mot-9", "project_id": "unknown", "name": "Orphan",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "project not synced")
	assert.Empty(t, ts.queue.actions)
}

func TestMotionTaskCreatedDisabledProjectIgnored(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := motionBody(t, "task.created", map[string]any{
		"id": "mot-9", "project_id": "proj-2", "name": "Paused work",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "project not synced")
	assert.Empty(t, ts.queue.actions)
}

func TestMotionTaskCreatedDuplicateSuppressed(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := motionBody(t, "task.created", map[string]any{
		"id": "mot-1", "project_id": "proj-1", "name": "Once",
	})
	require.Equal(t, http.StatusOK, ts.post(t, "/webhooks/motion", body, nil).Code)

	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already synced")
	assert.Len(t, ts.queue.actions, 1)
}

func TestMotionTaskUpdatedQueuesTrelloUpdate(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})
	ctx := context.Background()

	mapping := &models.TaskMapping{ProjectID: 1, MotionTaskID: "mot-1", TrelloCardID: "card-1"}
	require.NoError(t, ts.db.CreateTaskMapping(ctx, mapping))

	body := motionBody(t, "task.updated", map[string]any{
		"id": "mot-1", "project_id": "proj-1", "name": "Renamed", "status": "IN_PROGRESS",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	refreshed, err := ts.db.GetTaskMapping(ctx, mapping.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastMotionUpdate)

	require.Len(t, ts.queue.actions, 1)
	action := ts.queue.actions[0]
	assert.Equal(t, models.ActionUpdate, action.Type)
	assert.Equal(t, "card-1", action.Payload.Update.TaskID)
	assert.Equal(t, "Renamed", action.Payload.Update.TrelloCard.Name)
	assert.Equal(t, "In Progress", action.Payload.Update.TrelloCard.ListName)
}

func TestMotionTaskUpdatedUnmappedIgnored(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := motionBody(t, "task.updated", map[string]any{
		"id": "mot-unknown", "project_id": "proj-1", "name": "Ghost",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "task not synced")
	assert.Empty(t, ts.queue.actions)
}

func TestMotionTaskUpdatedBeforeBackfillIgnored(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})
	ctx := context.Background()

	mapping := &models.TaskMapping{ProjectID: 1, MotionTaskID: "mot-1"}
	require.NoError(t, ts.db.CreateTaskMapping(ctx, mapping))

	body := motionBody(t, "task.updated", map[string]any{
		"id": "mot-1", "project_id": "proj-1", "name": "Early edit",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "counterpart not created yet")
	assert.Empty(t, ts.queue.actions)
}

func TestMotionTaskDeletedTombstonesAndQueuesDelete(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})
	ctx := context.Background()

	mapping := &models.TaskMapping{ProjectID: 1, MotionTaskID: "mot-1", TrelloCardID: "card-1"}
	require.NoError(t, ts.db.CreateTaskMapping(ctx, mapping))

	body := motionBody(t, "task.deleted", map[string]any{"id": "mot-1"})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	refreshed, err := ts.db.GetTaskMapping(ctx, mapping.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusDeleted, refreshed.SyncStatus)

	require.Len(t, ts.queue.actions, 1)
	action := ts.queue.actions[0]
	assert.Equal(t, models.ActionDelete, action.Type)
	assert.Equal(t, "card-1", action.Payload.Delete.TaskID)
}

func TestMotionInvalidDueDateIsAnError(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := motionBody(t, "task.created", map[string]any{
		"id": "mot-1", "project_id": "proj-1", "name": "Bad date", "dueDate": "next tuesday",
	})
	rec := ts.post(t, "/webhooks/motion", body, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	logs, err := ts.db.GetSyncLogs(context.Background(), "webhook_error", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.PlatformMotion, logs[0].Platform)
	assert.False(t, logs[0].Success)
}

func TestMotionSignatureVerification(t *testing.T) {
	secret := "motion-secret"
	ts := newTestServer(t, config.WebhookConfig{MotionSecret: secret})

	body := motionBody(t, "task.created", map[string]any{
		"id": "mot-1", "project_id": "proj-1", "name": "Signed",
	})

	rec := ts.post(t, "/webhooks/motion", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	rec = ts.post(t, "/webhooks/motion", body, map[string]string{"X-Motion-Signature": sig})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrelloHeadProbe(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	req := httptest.NewRequest(http.MethodHead, "/webhooks/trello", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrelloCardCreatedQueuesMotionCreate(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := trelloBody(t, "createCard", map[string]any{
		"card":  map[string]any{"id": "card-1", "name": "From board", "desc": "notes"},
		"board": map[string]any{"id": "board-1"},
		"list":  map[string]any{"name": "To Do"},
	})
	rec := ts.post(t, "/webhooks/trello", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	mapping, err := ts.db.GetMappingByTrelloCard(context.Background(), "card-1")
	require.NoError(t, err)
	require.NotNil(t, mapping.LastTrelloUpdate)

	require.Len(t, ts.queue.actions, 1)
	action := ts.queue.actions[0]
	assert.Equal(t, models.ActionCreate, action.Type)
	assert.Equal(t, models.PlatformMotion, action.Payload.TargetPlatform)
	require.NotNil(t, action.Payload.Create.MotionTask)
	assert.Equal(t, "From board", action.Payload.Create.MotionTask.Name)
	assert.Equal(t, "TODO", action.Payload.Create.MotionTask.Status)
	assert.Equal(t, "proj-1", action.Payload.Create.MotionProjectID)
}

func TestTrelloCardCreatedDuplicateSuppressed(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})
	ctx := context.Background()

	existing := &models.TaskMapping{ProjectID: 1, TrelloCardID: "card-1"}
	require.NoError(t, ts.db.CreateTaskMapping(ctx, existing))

	body := trelloBody(t, "createCard", map[string]any{
		"card":  map[string]any{"id": "card-1", "name": "Again"},
		"board": map[string]any{"id": "board-1"},
	})
	rec := ts.post(t, "/webhooks/trello", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already synced")
	assert.Empty(t, ts.queue.actions)
}

func TestTrelloCardUpdatedQueuesMotionUpdate(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})
	ctx := context.Background()

	mapping := &models.TaskMapping{ProjectID: 1, MotionTaskID: "mot-1", TrelloCardID: "card-1"}
	require.NoError(t, ts.db.CreateTaskMapping(ctx, mapping))

	body := trelloBody(t, "updateCard", map[string]any{
		"card":  map[string]any{"id": "card-1", "name": "New name", "desc": "same"},
		"board": map[string]any{"id": "board-1"},
		"old":   map[string]any{"name": "Old name", "desc": "same"},
	})
	rec := ts.post(t, "/webhooks/trello", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.queue.actions, 1)
	action := ts.queue.actions[0]
	assert.Equal(t, models.ActionUpdate, action.Type)
	assert.Equal(t, "mot-1", action.Payload.Update.TaskID)
	assert.Equal(t, "New name", action.Payload.Update.MotionTask.Name)
	assert.Contains(t, action.Payload.Update.Changes, "name")
}

func TestTrelloCardDeletedTombstones(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})
	ctx := context.Background()

	mapping := &models.TaskMapping{ProjectID: 1, MotionTaskID: "mot-1", TrelloCardID: "card-1"}
	require.NoError(t, ts.db.CreateTaskMapping(ctx, mapping))

	body := trelloBody(t, "deleteCard", map[string]any{
		"card":  map[string]any{"id": "card-1"},
		"board": map[string]any{"id": "board-1"},
	})
	rec := ts.post(t, "/webhooks/trello", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	refreshed, err := ts.db.GetTaskMapping(ctx, mapping.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusDeleted, refreshed.SyncStatus)

	require.Len(t, ts.queue.actions, 1)
	assert.Equal(t, "mot-1", ts.queue.actions[0].Payload.Delete.TaskID)
}

func TestTrelloCardMovedIgnored(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	body := trelloBody(t, "moveCardToBoard", map[string]any{
		"card":  map[string]any{"id": "card-1"},
		"board": map[string]any{"id": "board-1"},
	})
	rec := ts.post(t, "/webhooks/trello", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not synced")
	assert.Empty(t, ts.queue.actions)
}

func TestTrelloSignatureVerification(t *testing.T) {
	secret := "trello-secret"
	ts := newTestServer(t, config.WebhookConfig{TrelloSecret: secret})

	body := trelloBody(t, "commentCard", map[string]any{
		"card": map[string]any{"id": "card-1"},
	})

	rec := ts.post(t, "/webhooks/trello", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	rec = ts.post(t, "/webhooks/trello", body, map[string]string{"X-Trello-Webhook": sig})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCardChanges(t *testing.T) {
	current := &trelloWebhookCard{Name: "n2", Desc: "d", Due: "2026-01-02", IDList: "l1"}
	old := &trelloWebhookCard{Name: "n1", Desc: "d", Due: "2026-01-01", IDList: "l1"}

	changes := cardChanges(current, old)
	assert.ElementsMatch(t, []string{"name", "dueDate"}, changes)

	assert.Equal(t, []string{"all"}, cardChanges(current, nil))
	assert.Equal(t, []string{"unknown"}, cardChanges(current, current))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, config.WebhookConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
