// Package rest is the JSON-over-HTTP client for the /api surface.
package rest

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

	"github.com/tidwall/gjson"
)

// ErrUnauthorized matches any client error carrying a 401 status.
var ErrUnauthorized = errors.New("unauthorized")

// Tokens supplies the bearer token for outgoing requests.
type Tokens interface {
	AccessToken() string
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// ErrorMessage pulls a human readable message out of an error body: the
// "message" field, then "error" (string or object), then the status text.
func ErrorMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
		errField := gjson.GetBytes(body, "error")
		switch {
		case errField.Type == gjson.String && errField.String() != "":
			return errField.String()
		case errField.IsObject():
			if msg := errField.Get("message").String(); msg != "" {
				return msg
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", status)
}

// ErrorCode returns the "code" field of an error body, if any.
func ErrorCode(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "code").String()
}

type Client struct {
	baseURL        string
	tokens         Tokens
	httpClient     *http.Client
	onUnauthorized func()
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// OnUnauthorized replaces the handler run after a 401 outside the login and
// signup endpoints.
func OnUnauthorized(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

func New(baseURL string, tokens Tokens, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.onUnauthorized = c.clearToken
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) clearToken() {
	if clearer, ok := c.tokens.(interface{ ClearAccessToken() }); ok {
		clearer.ClearAccessToken()
	}
}

// authPaths never trigger the unauthorized handler: a 401 there is a bad
// credential, not an expired session.
var authPaths = []string{"/auth/login", "/auth/signup"}

func isAuthPath(path string) bool {
	path, _, _ = strings.Cut(path, "?")
	for _, p := range authPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Do sends body as JSON to path and decodes the response into out. Either may
// be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized && !isAuthPath(path) && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return &APIError{
			Status:  resp.StatusCode,
			Code:    ErrorCode(raw),
			Message: ErrorMessage(raw, resp.StatusCode),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}
