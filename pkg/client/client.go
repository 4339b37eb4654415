package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to the lokivisor HTTP API.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	token    string
	username string
	password string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	TLS     *TLSClientConfig

	// Credentials for an API with auth enabled. Token wins over Username/Password.
	Token    string
	Username string
	Password string
}

// TLSClientConfig is used when the API sits behind a TLS terminating proxy.
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// APIError is returned when the server answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Conflict reports whether the server rejected the operation because of the
// process state or an outstanding managed stop.
func (e *APIError) Conflict() bool { return e.StatusCode == http.StatusConflict }

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil {
		tlsConfig, err := setupClientTLS(config.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		logger:   config.Logger,
		token:    config.Token,
		username: config.Username,
		password: config.Password,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the daemon is running and reachable. Client errors
// other than 404 count, so a 401 from an auth-enabled API is reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != http.StatusNotFound && apiErr.StatusCode < http.StatusInternalServerError {
		return true
	}
	c.logger.Debug("Daemon unreachable", "error", err)
	return false
}

// Status returns the cached process status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.doRequest(ctx, http.MethodGet, "/status", &out)
	return out, err
}

// Describe returns the operator view of the process, including its pid.
func (c *Client) Describe(ctx context.Context) (ProcessInfo, error) {
	var out ProcessInfo
	err := c.doRequest(ctx, http.MethodGet, "/debug/process", &out)
	return out, err
}

func (c *Client) Start(ctx context.Context) (OperationResponse, error) {
	return c.operation(ctx, "/start")
}

func (c *Client) Stop(ctx context.Context) (OperationResponse, error) {
	return c.operation(ctx, "/stop")
}

// Kill force stops the process.
func (c *Client) Kill(ctx context.Context) (OperationResponse, error) {
	return c.operation(ctx, "/kill")
}

// ManagedStop returns once the graceful stop was requested; escalation
// happens on the server.
func (c *Client) ManagedStop(ctx context.Context) (OperationResponse, error) {
	return c.operation(ctx, "/managed-stop")
}

// Login exchanges the configured username and password for a bearer token.
func (c *Client) Login(ctx context.Context) (Token, error) {
	var out Token
	if c.username == "" || c.password == "" {
		return out, fmt.Errorf("login requires username and password")
	}
	err := c.doRequest(ctx, http.MethodPost, "/auth/login", &out)
	return out, err
}

func (c *Client) operation(ctx context.Context, path string) (OperationResponse, error) {
	c.logger.Debug("Sending lifecycle request", "path", path)
	var out OperationResponse
	err := c.doRequest(ctx, http.MethodPost, path, &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(cfg *TLSClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.SkipVerify, // #nosec G402 -- opt-in
	}
	if cfg.CACert != "" {
		if err := loadCACert(tlsConfig, cfg.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// doRequest performs the request and decodes a successful body into out.
func (c *Client) doRequest(ctx context.Context, method, path string, out any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
