// Package graph is a thin client for the Meta Graph API. It handles
// request shaping, error decoding and the transient/permanent failure
// split; the per-platform publishing protocols live in the adapters.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v21.0"

	requestTimeout = 30 * time.Second
)

// APIError is a structured Graph API failure.
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error: status=%d code=%d subcode=%d message=%s", e.Status, e.Code, e.Subcode, e.Message)
}

// IsAuthError reports whether err is a token rejection (HTTP 401 or the
// Graph OAuthException code 190).
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Code == 190
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx
// responses, timeouts and the documented transient Graph error codes.
// Everything else (invalid media, policy violations, revoked permission)
// is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500 {
			return true
		}
		switch apiErr.Code {
		case 1, 2, 4, 17, 32, 613: // unknown, service, throttling codes
			return true
		}
		return false
	}
	// Network-level errors (connection reset, DNS) are transient.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

// Client issues Graph API requests against a configurable base URL so
// tests can point it at a local server.
type Client struct {
	http    *http.Client
	baseURL string
	version string
}

// New creates a Graph API client. Empty baseURL/version fall back to the
// production endpoint.
func New(baseURL, version string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultVersion
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
	}
}

// Get performs a GET on /{version}/{path} and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path, token string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, token, params, out)
}

// Post performs a form POST on /{version}/{path} and decodes the JSON body into out.
func (c *Client) Post(ctx context.Context, path, token string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, token, params, out)
}

func (c *Client) do(ctx context.Context, method, path, token string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if token != "" {
		params.Set("access_token", token)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimLeft(path, "/"))

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &APIError{Status: status, Message: string(body)}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Subcode = envelope.Error.Subcode
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
