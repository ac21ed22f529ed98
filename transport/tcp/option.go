package tcp

import (
	"crypto/tls"
	"time"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/internal/backoff"
)

// ErrorAction defines the action to take when a frame cannot be read.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue skips the offending frame and keeps reading.
	Continue
)

// options holds the configuration for a transport.
type options struct {
	codec  Codec
	logger jstp.Logger
	tls    *tls.Config

	// onError is called when a frame cannot be read.
	// Returns Disconnect to close the connection, Continue to skip the frame.
	onError func(error) ErrorAction

	maxReadLength int           // maximum size of a single frame, terminator included
	idleTimeout   time.Duration // read/write deadlines are twice this value
	heartbeat     time.Duration // idle interval after which {} is sent
	drainTimeout  time.Duration
	dialTimeout   time.Duration
	reconnect     bool
	backoff       backoff.Policy
}

// Option is a function that configures transport options.
type Option func(*options)

// Default configuration values.
const (
	// defaultMaxPackageLength is the default maximum size of a single frame (1MB).
	defaultMaxPackageLength = 1024 * 1024
	defaultIdleTimeout      = 30 * time.Second
)

func defaultOptions() options {
	return options{
		reconnect: true,
		backoff:   backoff.Default(),
	}
}

// checkOptions sets default values for transport options.
func checkOptions(opts *options) {
	if opts.codec == nil {
		opts.codec = TerminatorCodec{Terminator: Terminator}
	}
	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}
	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}
	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}
	if opts.logger == nil {
		opts.logger = jstp.DefaultLogger()
	}
}

// CustomCodecOption returns an Option that sets the frame codec.
// The default is a NUL-terminated TerminatorCodec.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// MessageMaxSize returns an Option that sets the maximum frame size.
// Frames larger than this size cannot be received.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// IdleTimeoutOption returns an Option that sets the idle timeout.
// Reads and writes fail after twice this duration without progress.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// HeartbeatOption returns an Option that sends a {} heartbeat whenever
// nothing was written for the given interval. Zero disables heartbeats.
func HeartbeatOption(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeat = interval
	}
}

// DrainTimeoutOption returns an Option that bounds how long a graceful
// close waits for queued frames to be written.
func DrainTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.drainTimeout = timeout
	}
}

// DialTimeoutOption returns an Option that bounds each dial attempt.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// TLSConfigOption returns an Option that dials with TLS.
func TLSConfigOption(cfg *tls.Config) Option {
	return func(o *options) {
		o.tls = cfg
	}
}

// ReconnectOption returns an Option that sets the reconnect backoff. The
// delay starts at initial and doubles up to max; maxAttempts of zero retries
// forever.
func ReconnectOption(initial, max time.Duration, maxAttempts int) Option {
	return func(o *options) {
		o.reconnect = true
		o.backoff = backoff.Policy{Initial: initial, Max: max, Attempts: maxAttempts}
	}
}

// NoReconnectOption returns an Option that disables reconnecting after the
// connection is lost.
func NoReconnectOption() Option {
	return func(o *options) {
		o.reconnect = false
	}
}

// OnErrorOption returns an Option that sets the frame error callback.
// Return Disconnect to close the connection, or Continue to skip a frame
// that exceeded the maximum size.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger jstp.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
