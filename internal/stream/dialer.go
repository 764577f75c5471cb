// Package stream reads the protocol engine's live event stream.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prudhvinik1/syncbridge/internal/engine"
)

const streamPath = "/api/streams"

// Conn is the read side of a stream connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer struct {
	url    string
	tokens engine.TokenSource
	ws     *websocket.Dialer
}

// NewDialer targets <baseURL>/api/streams. http and https base URLs are
// rewritten to ws and wss.
func NewDialer(baseURL string, tokens engine.TokenSource) (*Dialer, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + streamPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse engine url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported engine url scheme %q", u.Scheme)
	}
	return &Dialer{
		url:    u.String(),
		tokens: tokens,
		ws: &websocket.Dialer{
			Proxy:             websocket.DefaultDialer.Proxy,
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
	}, nil
}

func (d *Dialer) URL() string {
	return d.url
}

func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	token, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get engine token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, res, err := d.ws.DialContext(ctx, d.url, header)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("failed to open event stream (status %d): %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	res.Body.Close()
	return conn, nil
}
