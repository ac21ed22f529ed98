// Package ws provides the JSTP transport over WebSocket, one record per text
// message, and an http.Handler for the answering side.
package ws

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Zereker/jstp/internal/link"
)

// Transport is a jstp.Transport over a WebSocket connection.
type Transport struct {
	*link.Transport
	url string
}

// New creates a transport for a ws:// or wss:// URL. Nothing is dialed until
// Connect.
func New(url string, opt ...Option) *Transport {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	t := &Transport{url: url}
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

// URL returns the URL the transport dials.
func (t *Transport) URL() string {
	return t.url
}

func (t *Transport) dialer(opts options) link.DialFunc {
	d := *websocket.DefaultDialer
	d.TLSClientConfig = opts.tls

	return func(ctx context.Context) (link.Conn, error) {
		c, resp, err := d.DialContext(ctx, t.url, opts.header)
		if err != nil {
			if resp != nil {
				return nil, errors.Wrapf(err, "websocket handshake: %s", resp.Status)
			}
			return nil, err
		}
		return newConn(c, opts.maxMessageSize), nil
	}
}
