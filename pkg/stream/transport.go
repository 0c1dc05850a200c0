package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is wrapped by every error that ends a session because
// the feed connection went away.
var ErrTransportClosed = errors.New("transport closed")

const writeWait = 10 * time.Second

// Transport is one live feed connection. ReadMessage blocks until the next
// data frame arrives. Close may be called concurrently with ReadMessage and
// unblocks it.
type Transport interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WebSocketDialer connects to a certstream-style WebSocket server.
type WebSocketDialer struct {
	URL    string
	Header http.Header

	// PingInterval is the keepalive ping period. Zero disables pings.
	PingInterval time.Duration

	// ReadTimeout closes the connection when no frame (data or pong) arrives
	// within the period. Zero disables the deadline.
	ReadTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket upgrade. Zero selects 45s.
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = 45 * time.Second
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", d.URL, err)
	}
	return newWSTransport(conn, d.PingInterval, d.ReadTimeout), nil
}

type wsTransport struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

func newWSTransport(conn *websocket.Conn, pingInterval, readTimeout time.Duration) *wsTransport {
	t := &wsTransport{
		conn:        conn,
		readTimeout: readTimeout,
		done:        make(chan struct{}),
	}

	t.extendDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendDeadline()
		return nil
	})

	if pingInterval > 0 {
		go t.pingLoop(pingInterval)
	}
	return t
}

func (t *wsTransport) extendDeadline() {
	if t.readTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
}

func (t *wsTransport) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			// A failed ping shows up as a read error once the deadline passes.
			_ = t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
	}
}

// ReadMessage returns the payload of the next text or binary frame.
func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	t.extendDeadline()
	return data, nil
}

// Close sends a normal-closure frame and closes the connection.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
