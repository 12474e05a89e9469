package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskbridge/internal/config"
	"taskbridge/internal/models"
)

// TrelloClient talks to the Trello REST API using key+token query auth.
type TrelloClient struct {
	baseURL    string
	apiKey     string
	apiToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewTrelloClient(cfg config.PlatformConfig, logger *zerolog.Logger) *TrelloClient {
	return &TrelloClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		limiter:    newMinuteLimiter(cfg.RequestsPerMinute),
		logger:     logger.With().Str("component", "trello-client").Logger(),
	}
}

type trelloCardBody struct {
	ID               string                     `json:"id,omitempty"`
	BoardID          string                     `json:"idBoard,omitempty"`
	Name             string                     `json:"name"`
	Desc             string                     `json:"desc,omitempty"`
	Due              string                     `json:"due,omitempty"`
	Pos              string                     `json:"pos,omitempty"`
	ListName         string                     `json:"listName,omitempty"`
	Labels           []models.Label             `json:"labels,omitempty"`
	CustomFieldItems []models.TrelloCustomField `json:"customFieldItems,omitempty"`
	DateLastActivity string                     `json:"dateLastActivity,omitempty"`
}

func trelloBody(card *models.TrelloCard) trelloCardBody {
	body := trelloCardBody{
		BoardID:          card.BoardID,
		Name:             card.Name,
		Desc:             card.Desc,
		Pos:              card.Pos,
		ListName:         card.ListName,
		Labels:           card.Labels,
		CustomFieldItems: card.CustomFieldItems,
	}
	if card.Due != nil {
		body.Due = card.Due.UTC().Format(time.RFC3339)
	}
	return body
}

func (b trelloCardBody) toModel() (*models.TrelloCard, error) {
	card := &models.TrelloCard{
		ID:               b.ID,
		BoardID:          b.BoardID,
		Name:             b.Name,
		Desc:             b.Desc,
		Pos:              b.Pos,
		ListName:         b.ListName,
		Labels:           b.Labels,
		CustomFieldItems: b.CustomFieldItems,
	}
	if b.Due != "" {
		due, err := time.Parse(time.RFC3339, b.Due)
		if err != nil {
			return nil, fmt.Errorf("parse trello due date: %w", err)
		}
		u := due.UTC()
		card.Due = &u
	}
	if b.DateLastActivity != "" {
		last, err := time.Parse(time.RFC3339, b.DateLastActivity)
		if err != nil {
			return nil, fmt.Errorf("parse trello last activity: %w", err)
		}
		card.DateLastActivity = last.UTC()
	}
	return card, nil
}

// CreateCard creates a card on the given board and returns its id.
func (c *TrelloClient) CreateCard(ctx context.Context, boardID string, card *models.TrelloCard) (string, error) {
	body := trelloBody(card)
	body.BoardID = boardID

	var created trelloCardBody
	if err := c.call(ctx, http.MethodPost, "/1/cards", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *TrelloClient) UpdateCard(ctx context.Context, cardID string, card *models.TrelloCard) error {
	return c.call(ctx, http.MethodPut, "/1/cards/"+cardID, trelloBody(card), nil)
}

func (c *TrelloClient) DeleteCard(ctx context.Context, cardID string) error {
	return c.call(ctx, http.MethodDelete, "/1/cards/"+cardID, nil, nil)
}

// GetCard fetches the current Trello state for conflict comparison.
func (c *TrelloClient) GetCard(ctx context.Context, cardID string) (*models.TrelloCard, error) {
	var body trelloCardBody
	if err := c.call(ctx, http.MethodGet, "/1/cards/"+cardID, nil, &body); err != nil {
		return nil, err
	}
	return body.toModel()
}

func (c *TrelloClient) call(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("trello rate limiter: %w", err)
	}

	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode trello request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("build trello url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	q.Set("token", c.apiToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("build trello request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trello %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("trello api call failed")
		return classifyStatus(models.PlatformTrello, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode trello response: %w", err)
		}
	}
	return nil
}
