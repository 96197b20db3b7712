package ingest

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/pkg/errors"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	closeTimeout     = time.Second
)

// Conn is one live upstream session
type Conn interface {
	// ReadMessage blocks until the next message or a read error
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens upstream sessions
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials WebSocket sources with gorilla/websocket
type WSDialer struct {
	// ReadTimeout is the longest silence tolerated before the session is
	// considered lost
	ReadTimeout time.Duration
}

var _ Dialer = (*WSDialer)(nil)

func NewWSDialer(readTimeout time.Duration) *WSDialer {
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	return &WSDialer{ReadTimeout: readTimeout}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}

	return &wsConn{conn: conn, readTimeout: d.ReadTimeout}, nil
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, errors.Wrap(err, "failed to set read deadline")
	}

	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame, then closes the socket
func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout),
	)
	return c.conn.Close()
}
