// Package push delivers best-effort notifications to paired devices through
// the Expo push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultExpoURL is the Expo Push API endpoint.
	DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

	defaultHTTPTimeout = 10 * time.Second
	maxResponseSize    = 1 << 20
)

// ExpoMessage is a single push notification for the Expo Push API.
type ExpoMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// ExpoTicket is returned by the gateway for each submitted message.
type ExpoTicket struct {
	Status  string          `json:"status"` // "ok" or "error"
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ExpoResponse is the top-level gateway response.
type ExpoResponse struct {
	Data   []ExpoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// ExpoClient posts message batches to the Expo Push API.
type ExpoClient struct {
	url         string
	client      *http.Client
	accessToken string
}

// ExpoClientOption configures an ExpoClient.
type ExpoClientOption func(*ExpoClient)

// WithExpoURL overrides the gateway endpoint.
func WithExpoURL(url string) ExpoClientOption {
	return func(c *ExpoClient) {
		if url != "" {
			c.url = url
		}
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) ExpoClientOption {
	return func(c *ExpoClient) { c.client = client }
}

// WithAccessToken sets the Expo access token for authenticated requests.
func WithAccessToken(token string) ExpoClientOption {
	return func(c *ExpoClient) { c.accessToken = token }
}

// NewExpoClient creates an Expo Push API client.
func NewExpoClient(opts ...ExpoClientOption) *ExpoClient {
	c := &ExpoClient{
		url:    DefaultExpoURL,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send submits messages as one request and returns the per-message tickets.
// A transport failure, a non-200 status or top-level gateway errors are
// returned as an error; ticket-level failures are left to the caller.
func (c *ExpoClient) Send(ctx context.Context, messages []ExpoMessage) ([]ExpoTicket, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > maxResponseSize {
		return nil, fmt.Errorf("expo API response exceeds %d bytes", maxResponseSize)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var expoResp ExpoResponse
	if err := json.Unmarshal(respBody, &expoResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if len(expoResp.Errors) > 0 {
		msgs := make([]string, len(expoResp.Errors))
		for i, e := range expoResp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("expo API errors: %s", strings.Join(msgs, "; "))
	}

	return expoResp.Data, nil
}
