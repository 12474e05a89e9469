package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/config"
	"taskbridge/internal/models"
)

func testPlatformConfig(baseURL string) config.PlatformConfig {
	return config.PlatformConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		APIToken:          "test-token",
		RequestsPerMinute: 600,
		RequestTimeout:    5,
	}
}

func TestMotionClientCreateTask(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody motionTaskBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(motionTaskBody{ID: "mot-123", Name: gotBody.Name})
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	client := NewMotionClient(testPlatformConfig(srv.URL), &logger)

	due := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	id, err := client.CreateTask(context.Background(), "proj-1", &models.MotionTask{
		Name:     "Ship release",
		Priority: models.PriorityHigh,
		DueDate:  &due,
	})
	require.NoError(t, err)
	assert.Equal(t, "mot-123", id)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/v1/tasks", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "proj-1", gotBody.ProjectID)
	assert.Equal(t, "2026-03-04T12:00:00Z", gotBody.DueDate)
}

func TestMotionClientGetTaskParsesTimes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(motionTaskBody{
			ID:          "mot-9",
			Name:        "Review docs",
			DueDate:     "2026-05-01T09:00:00Z",
			UpdatedTime: "2026-04-30T18:30:00Z",
		})
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	client := NewMotionClient(testPlatformConfig(srv.URL), &logger)

	task, err := client.GetTask(context.Background(), "mot-9")
	require.NoError(t, err)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), *task.DueDate)
	assert.Equal(t, time.Date(2026, 4, 30, 18, 30, 0, 0, time.UTC), task.UpdatedAt)
}

func TestMotionClientClassifiesErrors(t *testing.T) {
	cases := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusUnauthorized, KindAuthExpired, false},
		{http.StatusForbidden, KindPermissionDenied, false},
		{http.StatusNotFound, KindNotFound, true},
		{http.StatusInternalServerError, KindGeneric, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		logger := zerolog.Nop()
		client := NewMotionClient(testPlatformConfig(srv.URL), &logger)

		err := client.DeleteTask(context.Background(), "mot-1")
		require.Error(t, err, "status %d", tc.status)

		var integErr *IntegrationError
		require.ErrorAs(t, err, &integErr)
		assert.Equal(t, tc.kind, integErr.Kind)
		assert.Equal(t, tc.retryable, IsRetryable(err))

		srv.Close()
	}
}

func TestTrelloClientCreateCard(t *testing.T) {
	var gotQuery map[string]string
	var gotBody trelloCardBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"key":   r.URL.Query().Get("key"),
			"token": r.URL.Query().Get("token"),
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(trelloCardBody{ID: "card-77"})
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	client := NewTrelloClient(testPlatformConfig(srv.URL), &logger)

	id, err := client.CreateCard(context.Background(), "board-1", &models.TrelloCard{
		Name: "Ship release",
		Pos:  "top",
	})
	require.NoError(t, err)
	assert.Equal(t, "card-77", id)
	assert.Equal(t, "test-key", gotQuery["key"])
	assert.Equal(t, "test-token", gotQuery["token"])
	assert.Equal(t, "board-1", gotBody.BoardID)
	assert.Equal(t, "top", gotBody.Pos)
}

func TestTrelloClientUpdateAndDeletePaths(t *testing.T) {
	type call struct{ method, path string }
	var calls []call

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	client := NewTrelloClient(testPlatformConfig(srv.URL), &logger)

	ctx := context.Background()
	require.NoError(t, client.UpdateCard(ctx, "card-5", &models.TrelloCard{Name: "n"}))
	require.NoError(t, client.DeleteCard(ctx, "card-5"))

	require.Len(t, calls, 2)
	assert.Equal(t, call{http.MethodPut, "/1/cards/card-5"}, calls[0])
	assert.Equal(t, call{http.MethodDelete, "/1/cards/card-5"}, calls[1])
}

func TestTrelloClientGetCardParsesActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trelloCardBody{
			ID:               "card-2",
			Name:             "Plan sprint",
			Due:              "2026-06-10T00:00:00Z",
			DateLastActivity: "2026-06-01T14:00:00Z",
		})
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	client := NewTrelloClient(testPlatformConfig(srv.URL), &logger)

	card, err := client.GetCard(context.Background(), "card-2")
	require.NoError(t, err)
	require.NotNil(t, card.Due)
	assert.Equal(t, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), *card.Due)
	assert.Equal(t, time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC), card.DateLastActivity)
}

func TestMinuteLimiterDefaults(t *testing.T) {
	assert.Equal(t, 1, newMinuteLimiter(30).Burst())
	assert.Equal(t, 10, newMinuteLimiter(100).Burst())
	assert.NotNil(t, newMinuteLimiter(0))
}
