package devsync

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weavel-fastllm/fastllm/errors"
)

const dialTimeout = 30 * time.Second

// Conn abstracts the WebSocket connection for testability.
// The real implementation wraps gorilla/websocket; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// gorillaConn wraps gorilla/websocket.Conn to implement Conn.
type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadJSON(v interface{}) error  { return c.conn.ReadJSON(v) }
func (c *gorillaConn) WriteJSON(v interface{}) error { return c.conn.WriteJSON(v) }
func (c *gorillaConn) Close() error                  { return c.conn.Close() }

// Dialer opens one gateway connection. Swappable in tests.
type Dialer func(ctx context.Context) (Conn, error)

// GatewayDialer connects to the backend gateway at <base>/open_websocket,
// identifying the dev branch through headers.
func GatewayDialer(baseURL, token, projectUUID, branchName string) Dialer {
	wsURL := httpToWS(strings.TrimSuffix(baseURL, "/")) + "/open_websocket"

	return func(ctx context.Context) (Conn, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		header.Set("project_uuid", projectUUID)
		header.Set("dev_branch_name", branchName)

		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		conn, _, err := dialer.DialContext(ctx, wsURL, header)
		if err != nil {
			return nil, errors.WrapTransport(err, "failed to dial gateway")
		}
		return &gorillaConn{conn: conn}, nil
	}
}

// httpToWS converts http(s) URLs to ws(s) URLs.
func httpToWS(url string) string {
	if len(url) >= 8 && url[:8] == "https://" {
		return "wss://" + url[8:]
	}
	if len(url) >= 7 && url[:7] == "http://" {
		return "ws://" + url[7:]
	}
	return url
}
