// Package assistant is the client for the question-answering backend that
// serves the intelligent chat channel.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// defaultTimeout bounds one question round trip.
	defaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of an answer is read.
	maxResponseSize = 1 << 20
)

// ErrUnavailable is returned when the backend cannot produce an answer.
var ErrUnavailable = errors.New("assistant: unavailable")

// Asker answers a question asked within a session.
type Asker interface {
	// Ask returns the backend's response body, passed back to the asking
	// connection as is.
	Ask(ctx context.Context, sessionID, question string) ([]byte, error)
}

// Client implements Asker over HTTP: POST {baseURL}/query.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// Ask sends the question and returns the raw response body. Any transport
// failure or non-200 status wraps ErrUnavailable.
func (c *Client) Ask(ctx context.Context, sessionID, question string) ([]byte, error) {
	reqBytes, err := json.Marshal(queryRequest{SessionID: sessionID, Question: question})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
