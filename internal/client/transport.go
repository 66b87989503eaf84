package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"canvas-sync/internal/protocol"
)

// Transport is the duplex message channel to the server.
type Transport interface {
	Read(ctx context.Context) (protocol.Message, error)
	Write(ctx context.Context, m protocol.Message) error
	Close() error
}

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	maxMessage   = 8 << 20
)

type wsTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebsocket connects to the server's /ws endpoint at addr (host:port or a
// ws:// URL). clientID tags the connection in server logs and selects the
// undo history the server keeps for this client.
func DialWebsocket(ctx context.Context, addr, clientID string) (Transport, error) {
	u, err := wsURL(addr, clientID)
	if err != nil {
		return nil, err
	}
	d := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := d.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	conn.SetReadLimit(maxMessage)
	return &wsTransport{conn: conn}, nil
}

func wsURL(addr, clientID string) (string, error) {
	raw := addr
	if u, err := url.Parse(addr); err != nil || u.Scheme == "" || u.Host == "" {
		raw = "ws://" + addr
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse addr %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if clientID != "" {
		q := u.Query()
		q.Set("client", clientID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Read blocks until a message arrives. Cancelling ctx closes the connection.
func (t *wsTransport) Read(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Message{}, ctx.Err()
		}
		return protocol.Message{}, err
	}
	var m protocol.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return protocol.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

func (t *wsTransport) Write(ctx context.Context, m protocol.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		// WriteControl may run concurrently with WriteMessage.
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}
