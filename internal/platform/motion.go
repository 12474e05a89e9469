// Package platform holds the thin REST clients for Motion and Trello. The
// clients are pure request/response proxies: translation and retry decisions
// live in the mapper and the queue.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"taskbridge/internal/config"
	"taskbridge/internal/models"
)

// MotionClient talks to the Motion REST API.
type MotionClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewMotionClient(cfg config.PlatformConfig, logger *zerolog.Logger) *MotionClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = cfg.Timeout()

	return &MotionClient{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		limiter:    newMinuteLimiter(cfg.RequestsPerMinute),
		logger:     logger.With().Str("component", "motion-client").Logger(),
	}
}

// newMinuteLimiter converts a requests-per-minute budget into a token bucket.
func newMinuteLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// motionTaskBody is the wire shape of a Motion task.
type motionTaskBody struct {
	ID           string         `json:"id,omitempty"`
	ProjectID    string         `json:"projectId,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Status       string         `json:"status,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	DueDate      string         `json:"dueDate,omitempty"`
	Labels       []models.Label `json:"labels,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
	UpdatedTime  string         `json:"updatedTime,omitempty"`
}

func motionBody(task *models.MotionTask) motionTaskBody {
	body := motionTaskBody{
		ProjectID:    task.ProjectID,
		Name:         task.Name,
		Description:  task.Description,
		Status:       task.Status,
		Priority:     task.Priority,
		Labels:       task.Labels,
		CustomFields: task.CustomFields,
	}
	if task.DueDate != nil {
		body.DueDate = task.DueDate.UTC().Format(time.RFC3339)
	}
	return body
}

func (b motionTaskBody) toModel() (*models.MotionTask, error) {
	task := &models.MotionTask{
		ID:           b.ID,
		ProjectID:    b.ProjectID,
		Name:         b.Name,
		Description:  b.Description,
		Status:       b.Status,
		Priority:     b.Priority,
		Labels:       b.Labels,
		CustomFields: b.CustomFields,
	}
	if b.DueDate != "" {
		due, err := time.Parse(time.RFC3339, b.DueDate)
		if err != nil {
			return nil, fmt.Errorf("parse motion due date: %w", err)
		}
		u := due.UTC()
		task.DueDate = &u
	}
	if b.UpdatedTime != "" {
		updated, err := time.Parse(time.RFC3339, b.UpdatedTime)
		if err != nil {
			return nil, fmt.Errorf("parse motion updated time: %w", err)
		}
		task.UpdatedAt = updated.UTC()
	}
	return task, nil
}

// CreateTask creates a task in the given Motion project and returns its id.
func (c *MotionClient) CreateTask(ctx context.Context, projectID string, task *models.MotionTask) (string, error) {
	body := motionBody(task)
	body.ProjectID = projectID

	var created motionTaskBody
	if err := c.call(ctx, http.MethodPost, "/v1/tasks", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *MotionClient) UpdateTask(ctx context.Context, taskID string, task *models.MotionTask) error {
	return c.call(ctx, http.MethodPatch, "/v1/tasks/"+taskID, motionBody(task), nil)
}

func (c *MotionClient) DeleteTask(ctx context.Context, taskID string) error {
	return c.call(ctx, http.MethodDelete, "/v1/tasks/"+taskID, nil, nil)
}

// GetTask fetches the current Motion state for conflict comparison.
func (c *MotionClient) GetTask(ctx context.Context, taskID string) (*models.MotionTask, error) {
	var body motionTaskBody
	if err := c.call(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, &body); err != nil {
		return nil, err
	}
	return body.toModel()
}

func (c *MotionClient) call(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("motion rate limiter: %w", err)
	}

	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode motion request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build motion request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("motion %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("motion api call failed")
		return classifyStatus(models.PlatformMotion, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode motion response: %w", err)
		}
	}
	return nil
}
