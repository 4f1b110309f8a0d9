// Package baas invokes the remote functions mounted under /functions/v1.
package baas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"archboard/api/internal/client/rest"
)

// FunctionError is the error half of an invocation result.
type FunctionError struct {
	Status  int
	Code    string
	Message string
}

func (e *FunctionError) Error() string {
	return e.Message
}

func (e *FunctionError) Is(target error) bool {
	return target == rest.ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type Config struct {
	URL        string
	AnonKey    string
	HTTPClient *http.Client
}

type Client struct {
	url        string
	anonKey    string
	tokens     rest.Tokens
	httpClient *http.Client
}

// New returns nil unless both URL and AnonKey are set.
func New(cfg Config) *Client {
	url := strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/")
	key := strings.TrimSpace(cfg.AnonKey)
	if url == "" || key == "" {
		return nil
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{url: url, anonKey: key, httpClient: httpClient}
}

func FromEnv() *Client {
	return New(Config{
		URL:     os.Getenv("ARCHBOARD_BACKEND_URL"),
		AnonKey: os.Getenv("ARCHBOARD_BACKEND_ANON_KEY"),
	})
}

var (
	sharedOnce   sync.Once
	sharedClient *Client
)

// Shared builds the environment client on first use and returns the same
// instance afterwards, including when it is nil.
func Shared() *Client {
	sharedOnce.Do(func() {
		sharedClient = FromEnv()
	})
	return sharedClient
}

// WithTokens returns a copy that authenticates as the signed-in user when a
// token is stored. Nil stays nil.
func (c *Client) WithTokens(tokens rest.Tokens) *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.tokens = tokens
	return &cp
}

type result struct {
	data json.RawMessage
	err  *FunctionError
}

// Invoke calls function name with body and decodes its data into out.
func (c *Client) Invoke(ctx context.Context, name string, body, out any) error {
	res, err := c.call(ctx, name, body)
	if err != nil {
		return err
	}
	if res.err != nil {
		return res.err
	}
	if len(res.data) == 0 || string(res.data) == "null" {
		return fmt.Errorf("No response from %s", name)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}

func (c *Client) bearer() string {
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			return token
		}
	}
	return c.anonKey
}

func (c *Client) call(ctx context.Context, name string, body any) (result, error) {
	if c == nil {
		return result{}, fmt.Errorf("managed backend is not configured")
	}
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return result{}, fmt.Errorf("encode %s request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/functions/v1/"+name, bytes.NewReader(payload))
	if err != nil {
		return result{}, fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-info", "archctl")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result{}, fmt.Errorf("invoke %s: %w", name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{}, fmt.Errorf("read %s response: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result{err: &FunctionError{
			Status:  resp.StatusCode,
			Code:    rest.ErrorCode(raw),
			Message: rest.ErrorMessage(raw, resp.StatusCode),
		}}, nil
	}
	return result{data: bytes.TrimSpace(raw)}, nil
}
