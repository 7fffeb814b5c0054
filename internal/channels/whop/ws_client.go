package whop

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// WSClient wraps a coder/websocket connection to the event stream.
type WSClient struct {
	conn *websocket.Conn
}

// DialWS connects to the stream endpoint with the bot's bearer token.
func DialWS(ctx context.Context, wsURL, token string, httpClient *http.Client) (*WSClient, error) {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	opts := &websocket.DialOptions{
		HTTPHeader: h,
		HTTPClient: httpClient,
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("whop: ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 20) // 1MB
	return &WSClient{conn: conn}, nil
}

// ReadMessage reads the next frame. Blocks until a frame arrives, the context
// is cancelled, or the connection is closed.
func (c *WSClient) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Close sends a close frame and shuts down the connection.
func (c *WSClient) Close(code int, reason string) {
	c.conn.Close(websocket.StatusCode(code), reason)
}

// CloseInfo carries the WebSocket close code and reason.
type CloseInfo struct {
	Code   int
	Reason string
}

// parseWSCloseInfo extracts close code and reason from a coder/websocket error.
func parseWSCloseInfo(err error) CloseInfo {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: int(ce.Code), Reason: ce.Reason}
	}
	return CloseInfo{Code: 1006, Reason: err.Error()}
}
