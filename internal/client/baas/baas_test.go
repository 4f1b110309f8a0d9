package baas

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"archboard/api/internal/client/rest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) AccessToken() string { return string(s) }

func TestNewRequiresBothValues(t *testing.T) {
	assert.Nil(t, New(Config{URL: "https://fn.example"}))
	assert.Nil(t, New(Config{AnonKey: "anon"}))
	assert.Nil(t, New(Config{URL: "  ", AnonKey: "anon"}))
	assert.NotNil(t, New(Config{URL: "https://fn.example/", AnonKey: "anon"}))

	var c *Client
	assert.Nil(t, c.WithTokens(staticTokens("x")))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ARCHBOARD_BACKEND_URL", "https://fn.example")
	t.Setenv("ARCHBOARD_BACKEND_ANON_KEY", "")
	assert.Nil(t, FromEnv())

	t.Setenv("ARCHBOARD_BACKEND_ANON_KEY", "anon")
	assert.NotNil(t, FromEnv())
}

func TestInvokeSendsEnvelopeAndHeaders(t *testing.T) {
	var got map[string]any
	var apikey, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/decision-log", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		apikey = r.Header.Get("apikey")
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		got = nil
		_ = json.Unmarshal(raw, &got)
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, AnonKey: "anon"})
	var out struct {
		Success bool `json:"success"`
	}

	require.NoError(t, c.Invoke(context.Background(), "decision-log", map[string]any{"action": "approve", "decisionId": "d1"}, &out))
	assert.True(t, out.Success)
	assert.Equal(t, "anon", apikey)
	assert.Equal(t, "Bearer anon", auth, "falls back to the anon key without a session")
	assert.Equal(t, "approve", got["action"])

	require.NoError(t, c.WithTokens(staticTokens("user-token")).Invoke(context.Background(), "decision-log", nil, &out))
	assert.Equal(t, "Bearer user-token", auth)
	assert.Equal(t, "anon", apikey)
	assert.Empty(t, got, "nil body is sent as an empty object")
}

func TestInvokeSynthesizesErrors(t *testing.T) {
	status, body := 0, ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()
	c := New(Config{URL: srv.URL, AnonKey: "anon"})

	status, body = http.StatusBadRequest, `{"message":"Unknown action","code":"VALIDATION_ERROR"}`
	err := c.Invoke(context.Background(), "timeline", map[string]any{"action": "nope"}, nil)
	var fnErr *FunctionError
	require.ErrorAs(t, err, &fnErr)
	assert.Equal(t, http.StatusBadRequest, fnErr.Status)
	assert.Equal(t, "VALIDATION_ERROR", fnErr.Code)
	assert.Equal(t, "Unknown action", fnErr.Message)

	status, body = http.StatusUnauthorized, `{"message":"Unauthorized"}`
	err = c.Invoke(context.Background(), "dashboard", nil, nil)
	assert.True(t, errors.Is(err, rest.ErrUnauthorized))

	status, body = http.StatusOK, `null`
	err = c.Invoke(context.Background(), "timeline", nil, &struct{}{})
	require.Error(t, err)
	assert.Equal(t, "No response from timeline", err.Error())

	status, body = http.StatusOK, ``
	err = c.Invoke(context.Background(), "dashboard", nil, nil)
	assert.EqualError(t, err, "No response from dashboard")
}

func TestNilClientInvokeFails(t *testing.T) {
	var c *Client
	assert.Error(t, c.Invoke(context.Background(), "dashboard", nil, nil))
}
