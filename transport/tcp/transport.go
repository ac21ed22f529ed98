// Package tcp provides the JSTP transport over TCP or TLS, where records are
// separated by a NUL byte, and a Server that accepts such connections.
package tcp

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/Zereker/jstp/internal/link"
)

// Transport is a jstp.Transport over a TCP or TLS stream. It reconnects with
// backoff after the connection is lost unless NoReconnectOption is given.
type Transport struct {
	*link.Transport
	addr string
}

// New creates a transport for addr ("host:port"). Nothing is dialed until
// Connect.
func New(addr string, opt ...Option) *Transport {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	t := &Transport{addr: addr}
	t.Transport = link.New(t.dialer(opts), link.Config{
		Logger:       opts.logger,
		IdleTimeout:  opts.idleTimeout,
		Heartbeat:    opts.heartbeat,
		DrainTimeout: opts.drainTimeout,
		DialTimeout:  opts.dialTimeout,
		Reconnect:    opts.reconnect,
		Backoff:      opts.backoff,
	})
	return t
}

// Addr returns the address the transport dials.
func (t *Transport) Addr() string {
	return t.addr
}

func (t *Transport) dialer(opts options) link.DialFunc {
	return func(ctx context.Context) (link.Conn, error) {
		var d net.Dialer
		raw, err := d.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := raw.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		if opts.tls != nil {
			tlsConn := tls.Client(raw, opts.tls)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				_ = raw.Close()
				return nil, err
			}
			raw = tlsConn
		}
		return newConn(raw, opts), nil
	}
}
