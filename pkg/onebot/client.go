package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sentinel errors for OneBot API responses.
var (
	ErrUnauthorized = errors.New("unauthorized: invalid access token")
	ErrSendFailed   = errors.New("send failed")
)

// Client talks to a OneBot v11 implementation over its HTTP API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	log         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log.With("component", "onebot")
	}
}

// WithAccessToken sets the bearer token sent with every request.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
	}
}

// New creates a OneBot client for the given base URL, e.g.
// "http://127.0.0.1:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendPrivate delivers the message to each user in turn. Failures for
// individual users are collected; delivery continues for the rest.
func (c *Client) SendPrivate(ctx context.Context, msg Message, userIDs []string) error {
	var errs []error
	for _, userID := range userIDs {
		err := c.post(ctx, "/send_private_msg", map[string]any{
			"user_id": userID,
			"message": msg,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		if c.log != nil {
			c.log.Debug("private message sent", "user_id", userID)
		}
	}
	return errors.Join(errs...)
}

// SendGroup delivers the message to one group.
func (c *Client) SendGroup(ctx context.Context, msg Message, groupID string) error {
	err := c.post(ctx, "/send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  msg,
	})
	if err != nil {
		return fmt.Errorf("group %s: %w", groupID, err)
	}
	if c.log != nil {
		c.log.Debug("group message sent", "group_id", groupID)
	}
	return nil
}

type apiResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onebot API error: %s", resp.Status)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Retcode != 0 {
		if apiResp.Message != "" {
			return fmt.Errorf("%w: retcode %d: %s", ErrSendFailed, apiResp.Retcode, apiResp.Message)
		}
		return fmt.Errorf("%w: retcode %d", ErrSendFailed, apiResp.Retcode)
	}
	return nil
}
