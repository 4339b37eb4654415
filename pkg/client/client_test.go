package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api/"})
	require.NoError(t, err)
	return c
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.True(t, c.IsReachable(context.Background()))
}

func TestOperations(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/managed-stop" {
			w.WriteHeader(http.StatusAccepted)
		}
		_, _ = w.Write([]byte(`{"ok":true,"status":"stopping"}`))
	})
	ctx := context.Background()
	for _, op := range []func(context.Context) (OperationResponse, error){c.Start, c.Stop, c.Kill, c.ManagedStop} {
		resp, err := op(ctx)
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.Equal(t, "stopping", resp.Status)
	}
	assert.Equal(t, []string{"/api/start", "/api/stop", "/api/kill", "/api/managed-stop"}, paths)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"managed stop already in progress"}`))
	})
	_, err := c.ManagedStop(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Conflict())
	assert.Equal(t, "managed stop already in progress", apiErr.Message)
}

func TestAPIErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Status(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.False(t, c.IsReachable(context.Background()))
}

func TestDescribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/debug/process", r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"lokinet","status":"running","pid":99,"managed_stop_state":"idle","resources":{"memory_rss":1024}}`))
	})
	info, err := c.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, info.PID)
	require.NotNil(t, info.Resources)
	assert.Equal(t, uint64(1024), info.Resources.MemoryRSS)
}

func TestNewRejectsBadCA(t *testing.T) {
	_, err := New(Config{TLS: &TLSClientConfig{CACert: "/nonexistent/ca.pem"}})
	assert.Error(t, err)
}

func TestCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			u, p, ok := r.BasicAuth()
			if !ok || u != "ops" || p != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
				return
			}
			_, _ = w.Write([]byte(`{"type":"Bearer","value":"tok-1","expires_at":"2030-01-01T00:00:00Z"}`))
		case "/api/status":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authentication required"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"stopped"}`))
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api", Username: "ops", Password: "pw"})
	require.NoError(t, err)
	tok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)

	_, err = c.Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.True(t, c.IsReachable(context.Background()))

	c, err = New(Config{BaseURL: srv.URL + "/api", Token: tok.Value})
	require.NoError(t, err)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Status)

	_, err = c.Login(context.Background())
	assert.Error(t, err, "token-only client cannot log in")
}
