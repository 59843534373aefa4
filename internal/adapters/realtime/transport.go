package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	maxFrameBytes           = 1 << 20
)

// Conn is one established realtime connection. WriteJSON is not safe for
// concurrent use; the channel serializes writers.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, token string) (Conn, error)
}

// WebsocketDialer opens connections with gorilla/websocket. The access token
// travels in the Authorization header of the handshake.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, token string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}
