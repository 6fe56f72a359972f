// Package client talks to a running gamewatch API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8088/api"
	DefaultTimeout = 10 * time.Second
)

// Client provides typed access to the dashboard endpoints.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// Username and Password are sent as Basic credentials when set.
	Username string
	Password string
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
}

// New creates a client. TLS problems are returned rather than logged.
func New(c Config) (*Client, error) {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.TLS != nil || c.Insecure {
		tc, err := setupClientTLS(c)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}

	return &Client{
		baseURL:  strings.TrimRight(c.BaseURL, "/"),
		username: c.Username,
		password: c.Password,
		logger:   c.Logger,
		client:   &http.Client{Timeout: c.Timeout, Transport: transport},
	}, nil
}

// IsReachable checks if the API answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		c.logger.Debug("api unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var v StatusView
	err := c.getJSON(ctx, "/status", &v)
	return v, err
}

func (c *Client) Players(ctx context.Context) (PlayersView, error) {
	return c.PlayersBy(ctx, "")
}

// PlayersBy requests a server-side order: "id" (default) or "login".
func (c *Client) PlayersBy(ctx context.Context, sort string) (PlayersView, error) {
	path := "/players"
	if sort != "" {
		path += "?sort=" + url.QueryEscape(sort)
	}
	var v PlayersView
	err := c.getJSON(ctx, path, &v)
	return v, err
}

func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var v linesResponse
	err := c.getJSON(ctx, "/logs", &v)
	return v.Lines, err
}

func (c *Client) Console(ctx context.Context) ([]string, error) {
	var v linesResponse
	err := c.getJSON(ctx, "/console", &v)
	return v.Lines, err
}

// Control asks the server to start, stop or restart the game server.
func (c *Client) Control(ctx context.Context, action string) (ControlResult, error) {
	var v ControlResult
	err := c.sendJSON(ctx, http.MethodPost, "/server/"+url.PathEscape(action), nil, &v)
	return v, err
}

// SendCommand queues a console command.
func (c *Client) SendCommand(ctx context.Context, command string) (CommandResult, error) {
	var v CommandResult
	err := c.sendJSON(ctx, http.MethodPost, "/console/command", commandRequest{Command: command}, &v)
	return v, err
}

// Backup archives the world directory on the server.
func (c *Client) Backup(ctx context.Context) (BackupResult, error) {
	var v BackupResult
	err := c.sendJSON(ctx, http.MethodPost, "/backup", nil, &v)
	return v, err
}

// Backups lists server-side archives, newest first.
func (c *Client) Backups(ctx context.Context) ([]BackupArchive, error) {
	var v backupsResponse
	err := c.getJSON(ctx, "/backups", &v)
	return v.Backups, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(c Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.Insecure {
		tc.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in for self-signed dashboards
		return tc, nil
	}
	if c.TLS.ServerName != "" {
		tc.ServerName = c.TLS.ServerName
	}
	if c.TLS.CACert != "" {
		if err := loadCACert(tc, c.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tc, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tc *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(filepath.Clean(caCertPath))
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tc.RootCAs = pool
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		c.logger.Debug("api request failed", "method", method, "path", path, "error", err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// handleErrorResponse turns non-200 answers into errors carrying the API's
// message when it sent one.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var e struct {
		ErrorResponse
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if e.Message != "" {
		return fmt.Errorf("API error (%d): %s: %s", resp.StatusCode, e.Error, e.Message)
	}
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
}
