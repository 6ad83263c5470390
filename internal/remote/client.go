package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Remote operation states as reported by the command channel.
const (
	OperationInProgress = "InProgress"
	OperationSucceeded  = "Succeeded"
	OperationFailed     = "Failed"
)

// Config holds the coordinates of the remote command channel.
type Config struct {
	BaseURL        string
	Token          string
	SubscriptionID string
}

// Target addresses one machine reachable through the command channel.
type Target struct {
	SubscriptionID string
	ResourceGroup  string
	Machine        string
}

// OperationState is one status snapshot of a submitted command.
type OperationState struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Channel submits commands to remote machines and reports their progress.
// Implementations must be safe for concurrent use.
type Channel interface {
	SubmitCommand(ctx context.Context, target Target, commandID, script string) (operationID string, err error)
	OperationStatus(ctx context.Context, operationID string) (*OperationState, error)
}

// Client is the HTTP implementation of Channel.
type Client struct {
	http           *resty.Client
	subscriptionID string
	logger         *slog.Logger
}

type submitRequest struct {
	CommandID string `json:"command_id"`
	Script    string `json:"script"`
}

type submitResponse struct {
	OperationID string `json:"operation_id"`
}

// NewClient builds a command-channel client from config.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:           httpClient,
		subscriptionID: cfg.SubscriptionID,
		logger:         logger.With("component", "command-channel"),
	}
}

// SubmitCommand hands the rendered script to the remote side for
// asynchronous execution and returns the operation id to poll.
func (c *Client) SubmitCommand(ctx context.Context, target Target, commandID, script string) (string, error) {
	subscription := target.SubscriptionID
	if subscription == "" {
		subscription = c.subscriptionID
	}

	url := fmt.Sprintf("/subscriptions/%s/groups/%s/machines/%s/commands",
		subscription, target.ResourceGroup, target.Machine)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(submitRequest{CommandID: commandID, Script: script}).
		SetResult(&submitResponse{}).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("submit command request: %w", err)
	}

	if resp.StatusCode() != http.StatusAccepted {
		c.logger.Warn("command submission rejected",
			"machine", target.Machine,
			"command_id", commandID,
			"status_code", resp.StatusCode(),
			"body", resp.String())
		return "", fmt.Errorf("submit command response code: %d", resp.StatusCode())
	}

	result, ok := resp.Result().(*submitResponse)
	if !ok || result == nil || result.OperationID == "" {
		return "", fmt.Errorf("submit command returned no operation id")
	}

	return result.OperationID, nil
}

// OperationStatus fetches the current state of a submitted command.
func (c *Client) OperationStatus(ctx context.Context, operationID string) (*OperationState, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&OperationState{}).
		Get(fmt.Sprintf("/operations/%s", operationID))
	if err != nil {
		return nil, fmt.Errorf("operation status request: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("operation status response code: %d", resp.StatusCode())
	}

	state, ok := resp.Result().(*OperationState)
	if !ok || state == nil {
		return nil, fmt.Errorf("operation status returned no parsable body")
	}

	return state, nil
}
