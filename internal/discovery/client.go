package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds the coordinates of the discovery backend.
type Config struct {
	BaseURL      string
	Token        string
	WorkspaceID  string
	QueryTimeout time.Duration
}

// Page is one page of query results. A non-empty ContinuationToken means
// the backend has more rows for the same query.
type Page struct {
	Rows              []Row  `json:"rows"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// Backend executes one page of a discovery query. Implementations must be
// safe for concurrent use.
type Backend interface {
	QueryPage(ctx context.Context, query, continuationToken string) (*Page, error)
}

// Client talks to the discovery backend's query API.
type Client struct {
	http        *resty.Client
	workspaceID string
	logger      *slog.Logger
}

type queryRequest struct {
	Query             string `json:"query"`
	WorkspaceID       string `json:"workspace_id,omitempty"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// NewClient builds a discovery client from config.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetTimeout(cfg.QueryTimeout)
	httpClient.SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:        httpClient,
		workspaceID: cfg.WorkspaceID,
		logger:      logger.With("component", "discovery-client"),
	}
}

// QueryPage issues one query call, carrying the continuation token when the
// caller is following pagination.
func (c *Client) QueryPage(ctx context.Context, query, continuationToken string) (*Page, error) {
	body := queryRequest{
		Query:             query,
		WorkspaceID:       c.workspaceID,
		ContinuationToken: continuationToken,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&Page{}).
		Post("/api/v1/query")
	if err != nil {
		return nil, fmt.Errorf("discovery query request: %w", err)
	}

	if resp.IsError() {
		c.logger.Warn("discovery query rejected",
			"status_code", resp.StatusCode(),
			"body", resp.String())
		return nil, fmt.Errorf("discovery query response code: %d", resp.StatusCode())
	}

	page, ok := resp.Result().(*Page)
	if !ok || page == nil {
		return nil, fmt.Errorf("discovery query returned no parsable body")
	}

	return page, nil
}
