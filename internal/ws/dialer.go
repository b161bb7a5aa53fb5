package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// GorillaDialer connects to {base}/ws/{room}?username={name}.
type GorillaDialer struct {
	base   *url.URL
	dialer *websocket.Dialer
}

func NewGorillaDialer(baseURL string, handshakeTimeout time.Duration) (*GorillaDialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", baseURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket url %q must use ws or wss scheme", baseURL)
	}

	return &GorillaDialer{
		base: u,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
	}, nil
}

// RoomURL returns the endpoint of a room for the given user.
func (d *GorillaDialer) RoomURL(roomCode, username string) string {
	u := *d.base
	u.Path = strings.TrimSuffix(d.base.Path, "/") + "/ws/" + roomCode
	u.RawPath = strings.TrimSuffix(d.base.EscapedPath(), "/") + "/ws/" + url.PathEscape(roomCode)
	u.RawQuery = url.Values{"username": {username}}.Encode()
	return u.String()
}

func (d *GorillaDialer) Dial(ctx context.Context, roomCode, username string) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.RoomURL(roomCode, username), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return &gorillaTransport{conn: conn}, nil
}

type gorillaTransport struct {
	conn *websocket.Conn
}

func (t *gorillaTransport) ReadJSON(v interface{}) error {
	return t.conn.ReadJSON(v)
}

func (t *gorillaTransport) WriteJSON(v interface{}) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

// Close says goodbye with a normal closure frame before dropping the socket.
func (t *gorillaTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return t.conn.Close()
}

// IsNormalClose reports whether err is an orderly close by the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
