package tcp

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// Conn is a framed stream connection. It is used by the client Transport
// and handed to Server handlers as the peer of a JSTP client.
type Conn struct {
	rawConn       net.Conn
	reader        *bufio.Reader
	limitedReader *limitedReader
	opts          options

	writeMu sync.Mutex
}

func newConn(c net.Conn, opts options) *Conn {
	reader := bufio.NewReaderSize(c, opts.maxReadLength)
	return &Conn{
		rawConn:       c,
		reader:        reader,
		limitedReader: newLimitedReader(reader, int64(opts.maxReadLength)),
		opts:          opts,
	}
}

// ReadFrame reads the next frame. Frames over the maximum size are passed
// to the error callback, which decides whether to skip them or fail.
func (c *Conn) ReadFrame() (string, error) {
	for {
		// Reset the limit for each frame
		c.limitedReader.reset(int64(c.opts.maxReadLength))

		frame, err := c.opts.codec.Decode(c.limitedReader)
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, ErrMessageTooLarge) {
			return "", err
		}

		r, ok := c.opts.codec.(resyncer)
		if !ok || c.opts.onError(err) == Disconnect {
			return "", err
		}
		c.opts.logger.Warn("skipping oversized frame", "addr", c.RemoteAddr(), "limit", c.opts.maxReadLength)
		if err := r.Resync(c.reader); err != nil {
			return "", err
		}
	}
}

// WriteFrame encodes and writes one frame. It is safe for concurrent use.
func (c *Conn) WriteFrame(frame string) error {
	data, err := c.opts.codec.Encode(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.rawConn.Write(data)
	return err
}

func (c *Conn) SetReadDeadline(t time.Time) error { return c.rawConn.SetReadDeadline(t) }

func (c *Conn) SetWriteDeadline(t time.Time) error { return c.rawConn.SetWriteDeadline(t) }

func (c *Conn) Close() error { return c.rawConn.Close() }

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() string {
	return c.rawConn.RemoteAddr().String()
}
