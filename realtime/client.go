// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

// Package realtime implements the client-side sync layer: a change
// feed subscription over WebSocket, key-based record rehydration,
// optimistic update reconciliation, ordered collection merging, and a
// polling fallback for environments where the feed cannot connect.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aakash-jangid0/dinesync/domain"
)

// TokenFunc supplies a bearer token for each request or dial.
type TokenFunc func(ctx context.Context) (string, error)

// Config holds tuning knobs for the realtime client.
type Config struct {
	BackoffMin   time.Duration // initial reconnect delay
	BackoffMax   time.Duration // reconnect delay ceiling
	PollInterval time.Duration // polling fallback cadence
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		BackoffMin:   1 * time.Second,
		BackoffMax:   60 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// Client talks to a dinesync server. HTTP and Dialer are exported so
// tests can inject fakes; both default to usable instances.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
	Dialer  *websocket.Dialer

	config *Config
	logger *slog.Logger
}

// NewClient creates a realtime client for the given server base URL.
func NewClient(baseURL string, tok TokenFunc, config *Config, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if tok == nil {
		return nil, fmt.Errorf("token func cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = 1 * time.Second
	}
	if config.BackoffMax < config.BackoffMin {
		config.BackoffMax = 60 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: baseURL,
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Dialer:  websocket.DefaultDialer,
		config:  config,
		logger:  logger,
	}, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// do issues an authenticated JSON request and decodes the response
// body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = string(data)
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// FetchRecord performs the rehydration point lookup for (table, pk)
// and returns the full typed record.
func (c *Client) FetchRecord(ctx context.Context, table, pk string) (domain.Record, error) {
	if !domain.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/api/v1/records/"+table+"/"+url.PathEscape(pk), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record fetch failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRecordGone
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = string(data)
		}
		return nil, apiErr
	}
	return domain.DecodeRecord(table, data)
}

// ChangePage is one page of the server change log.
type ChangePage struct {
	Changes   []domain.ChangeEvent `json:"changes"`
	HasMore   bool                 `json:"has_more"`
	NextAfter int64                `json:"next_after"`
}

// ListChanges pages the server change log, used by the polling
// fallback and by tests.
func (c *Client) ListChanges(ctx context.Context, after int64, limit int, table string) (*ChangePage, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if table != "" {
		q.Set("table", table)
	}
	var page ChangePage
	if err := c.do(ctx, http.MethodGet, "/api/v1/changes?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Post issues an authenticated POST, decoding the created record into
// out. Used by optimistic senders and the outbox drain.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Patch issues an authenticated PATCH.
func (c *Client) Patch(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}
