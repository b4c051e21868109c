// Package canvas is the HTTP client for the external canvas CRUD service,
// which owns cards and connections. The intelligence core never stores
// canvas entities itself; everything here is remote calls keyed by the ids
// the CRUD service assigned.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/models"
)

// ErrNotFound is returned when the CRUD service reports 404 for an entity.
var ErrNotFound = errors.New("canvas: not found")

// Client talks to the canvas CRUD service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a canvas client from configuration.
func NewClient(cfg *config.CanvasConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "canvas"),
	}
}

// CreateCard creates a card on the given canvas and returns it with the
// id the CRUD service assigned.
func (c *Client) CreateCard(ctx context.Context, card *models.Card) (*models.Card, error) {
	if card.CanvasID == "" {
		return nil, fmt.Errorf("create card: canvas id is required")
	}
	var created models.Card
	path := fmt.Sprintf("/api/v1/canvases/%s/cards", url.PathEscape(card.CanvasID))
	if err := c.do(ctx, http.MethodPost, path, card, &created); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	return &created, nil
}

// GetCard fetches one card by id.
func (c *Client) GetCard(ctx context.Context, id string) (*models.Card, error) {
	var card models.Card
	if err := c.do(ctx, http.MethodGet, "/api/v1/cards/"+url.PathEscape(id), nil, &card); err != nil {
		return nil, fmt.Errorf("get card %s: %w", id, err)
	}
	return &card, nil
}

// ListCards returns every card on a canvas.
func (c *Client) ListCards(ctx context.Context, canvasID string) ([]*models.Card, error) {
	var cards []*models.Card
	path := fmt.Sprintf("/api/v1/canvases/%s/cards", url.PathEscape(canvasID))
	if err := c.do(ctx, http.MethodGet, path, nil, &cards); err != nil {
		return nil, fmt.Errorf("list cards on %s: %w", canvasID, err)
	}
	return cards, nil
}

// UpdateCard rewrites a card. The CRUD service treats the payload as the
// full new state.
func (c *Client) UpdateCard(ctx context.Context, card *models.Card) (*models.Card, error) {
	if card.ID == "" {
		return nil, fmt.Errorf("update card: id is required")
	}
	var updated models.Card
	if err := c.do(ctx, http.MethodPut, "/api/v1/cards/"+url.PathEscape(card.ID), card, &updated); err != nil {
		return nil, fmt.Errorf("update card %s: %w", card.ID, err)
	}
	return &updated, nil
}

// DeleteCard removes a card.
func (c *Client) DeleteCard(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/cards/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete card %s: %w", id, err)
	}
	return nil
}

// CreateConnection creates a typed edge between two cards on one canvas.
func (c *Client) CreateConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	if conn.CanvasID == "" {
		return nil, fmt.Errorf("create connection: canvas id is required")
	}
	var created models.Connection
	path := fmt.Sprintf("/api/v1/canvases/%s/connections", url.PathEscape(conn.CanvasID))
	if err := c.do(ctx, http.MethodPost, path, conn, &created); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return &created, nil
}

// ListConnections returns every connection on a canvas.
func (c *Client) ListConnections(ctx context.Context, canvasID string) ([]*models.Connection, error) {
	var conns []*models.Connection
	path := fmt.Sprintf("/api/v1/canvases/%s/connections", url.PathEscape(canvasID))
	if err := c.do(ctx, http.MethodGet, path, nil, &conns); err != nil {
		return nil, fmt.Errorf("list connections on %s: %w", canvasID, err)
	}
	return conns, nil
}

// do runs one request. A non-nil body is sent as JSON; a non-nil out has
// the response decoded into it. 404 maps to ErrNotFound so callers can
// branch without string matching.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("canvas service returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
