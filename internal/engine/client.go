// Package engine reads the protocol engine's REST API. The engine is the
// source of truth; this package never writes to it.
package engine

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

var ErrNotFound = errors.New("engine: not found")

// TokenSource supplies the bearer token for engine calls. Acquiring the token
// is the caller's business.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", errors.New("engine: empty token")
	}
	return string(t), nil
}

type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Tokens() TokenSource {
	return c.tokens
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get engine token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine: GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}
	return nil
}

const listPageSize = 100

type page[C any] struct {
	Data    []C  `json:"data"`
	HasNext bool `json:"hasNext"`
}

// Collection reads one canonical entity collection, e.g. /api/devices.
type Collection[C any] struct {
	client *Client
	path   string
}

func NewCollection[C any](client *Client, path string) *Collection[C] {
	return &Collection[C]{client: client, path: path}
}

func (c *Collection[C]) List(ctx context.Context) ([]C, error) {
	var all []C
	for p := 0; ; p++ {
		var resp page[C]
		path := fmt.Sprintf("%s?page=%d&pageSize=%d", c.path, p, listPageSize)
		if err := c.client.get(ctx, path, &resp); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", c.path, err)
		}
		all = append(all, resp.Data...)
		if !resp.HasNext || len(resp.Data) == 0 {
			return all, nil
		}
	}
}

func (c *Collection[C]) Get(ctx context.Context, id string) (C, error) {
	var entity C
	if err := c.client.get(ctx, c.path+"/"+url.PathEscape(id), &entity); err != nil {
		var zero C
		return zero, err
	}
	return entity, nil
}

func (c *Collection[C]) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.client.get(ctx, c.path+"/count", &resp); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.path, err)
	}
	return resp.Count, nil
}
