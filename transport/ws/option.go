package ws

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/internal/backoff"
)

// options holds the configuration for a transport.
type options struct {
	logger jstp.Logger
	tls    *tls.Config
	header http.Header

	maxMessageSize int64
	idleTimeout    time.Duration
	heartbeat      time.Duration
	drainTimeout   time.Duration
	dialTimeout    time.Duration
	reconnect      bool
	backoff        backoff.Policy
}

// Option is a function that configures transport options.
type Option func(*options)

const defaultMaxMessageSize = 1024 * 1024

func defaultOptions() options {
	return options{
		reconnect: true,
		backoff:   backoff.Default(),
	}
}

func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = jstp.DefaultLogger()
	}
	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}
}

// LoggerOption sets the logger.
func LoggerOption(logger jstp.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// TLSConfigOption sets the TLS configuration used for wss:// URLs.
func TLSConfigOption(cfg *tls.Config) Option {
	return func(o *options) {
		o.tls = cfg
	}
}

// HeaderOption adds HTTP headers to the opening handshake.
func HeaderOption(header http.Header) Option {
	return func(o *options) {
		o.header = header
	}
}

// MessageMaxSize limits the size of a received message. Larger messages
// fail the connection.
func MessageMaxSize(size int64) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// HeartbeatOption sends a {} record after interval without writes. Zero
// disables heartbeats.
func HeartbeatOption(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeat = interval
	}
}

func DrainTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.drainTimeout = timeout
	}
}

func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// ReconnectOption sets the reconnect backoff, see the tcp package.
func ReconnectOption(initial, max time.Duration, maxAttempts int) Option {
	return func(o *options) {
		o.reconnect = true
		o.backoff = backoff.Policy{Initial: initial, Max: max, Attempts: maxAttempts}
	}
}

func NoReconnectOption() Option {
	return func(o *options) {
		o.reconnect = false
	}
}
