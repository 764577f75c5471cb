// Package legacy is a thin REST client for the legacy platform.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prudhvinik1/syncbridge/internal/config"
	"github.com/prudhvinik1/syncbridge/internal/utils"
)

var (
	ErrNotFound      = errors.New("legacy: not found")
	ErrNotConfigured = errors.New("legacy: client not configured")
	ErrUnauthorized  = errors.New("legacy: unauthorized")
)

// tokenRefreshMargin renews the session this long before the JWT expires.
const tokenRefreshMargin = 30 * time.Second

type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("legacy: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg config.LegacyConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Login opens a session and stores its token on the client.
func (c *Client) Login(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var resp loginResponse
	status, err := c.send(ctx, http.MethodPost, "/api/auth/login", "", loginRequest{Username: c.username, Password: c.password}, &resp)
	if err != nil {
		if status == http.StatusUnauthorized {
			return fmt.Errorf("failed to login: %w", ErrUnauthorized)
		}
		return fmt.Errorf("failed to login: %w", err)
	}
	if resp.Token == "" {
		return errors.New("failed to login: empty token")
	}

	c.mu.Lock()
	c.token = resp.Token
	c.expiresAt, _ = utils.TokenExpiry(resp.Token)
	c.mu.Unlock()
	return nil
}

// TestConnection logs in and reads the current user, proving both the
// credentials and the API are usable.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.Login(ctx); err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/auth/user", nil, nil); err != nil {
		return fmt.Errorf("failed to reach legacy system: %w", err)
	}
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.Unlock()

	if token != "" && (expiresAt.IsZero() || c.now().Add(tokenRefreshMargin).Before(expiresAt)) {
		return token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// do sends an authenticated request, logging in again once on a 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	if !c.Configured() {
		return 0, ErrNotConfigured
	}
	token, err := c.currentToken(ctx)
	if err != nil {
		return 0, err
	}
	status, err := c.send(ctx, method, path, token, body, out)
	if status != http.StatusUnauthorized {
		return status, err
	}

	c.invalidate()
	if token, err = c.currentToken(ctx); err != nil {
		return 0, err
	}
	return c.send(ctx, method, path, token, body, out)
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("legacy: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
