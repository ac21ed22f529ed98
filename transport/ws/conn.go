package ws

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrBinaryFrame is returned when the peer sends a binary message. Records
// travel as text.
var ErrBinaryFrame = errors.New("ws: binary message")

// Conn carries one record per WebSocket text message.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

func newConn(c *websocket.Conn, maxSize int64) *Conn {
	if maxSize > 0 {
		c.SetReadLimit(maxSize)
	}
	return &Conn{ws: c}
}

// ReadFrame returns the next text message. A normal close by the peer is
// reported as io.EOF.
func (c *Conn) ReadFrame() (string, error) {
	typ, msg, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", io.EOF
		}
		return "", err
	}
	if typ != websocket.TextMessage {
		return "", ErrBinaryFrame
	}
	return string(msg), nil
}

// WriteFrame sends frame as one text message. It is safe for concurrent use.
func (c *Conn) WriteFrame(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *Conn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// Close sends a close message and closes the socket. WriteControl may run
// concurrently with a pending WriteFrame.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
