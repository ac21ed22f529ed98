package jstp

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	metrics Metrics
	policy  SessionPolicy

	onConnected   func(restored bool)
	onStateChange func(from, to State)
	onClosed      func()
	onRejected    func(raw string)
	onError       func(error)
}

// Option is a function that configures connection options.
type Option func(*options)

// checkOptions fills in defaults for everything left unset.
func (o *options) checkOptions() {
	if o.logger == nil {
		o.logger = DefaultLogger()
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.policy == nil {
		o.policy = NewSimpleSessionPolicy("")
	}
	if o.onConnected == nil {
		o.onConnected = func(bool) {}
	}
	if o.onStateChange == nil {
		o.onStateChange = func(State, State) {}
	}
	if o.onClosed == nil {
		o.onClosed = func() {}
	}
	if o.onRejected == nil {
		o.onRejected = func(string) {}
	}
	if o.onError == nil {
		o.onError = func(error) {}
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that sets the metrics sink.
func MetricsOption(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// SessionPolicyOption returns an Option that sets the session policy.
// The default is a SimpleSessionPolicy.
func SessionPolicyOption(p SessionPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// OnConnectedOption returns an Option that sets the callback invoked when a
// handshake succeeds. restored reports whether an existing session was resumed.
func OnConnectedOption(cb func(restored bool)) Option {
	return func(o *options) {
		o.onConnected = cb
	}
}

// OnStateChangeOption returns an Option that sets the callback invoked on
// every state transition.
func OnStateChangeOption(cb func(from, to State)) Option {
	return func(o *options) {
		o.onStateChange = cb
	}
}

// OnClosedOption returns an Option that sets the callback invoked once the
// connection reaches Closed.
func OnClosedOption(cb func()) Option {
	return func(o *options) {
		o.onClosed = cb
	}
}

// OnRejectedOption returns an Option that sets the callback invoked with the
// text of a record that violated the protocol.
func OnRejectedOption(cb func(raw string)) Option {
	return func(o *options) {
		o.onRejected = cb
	}
}

// OnErrorOption returns an Option that sets the error callback. It receives
// transport errors, protocol violations and handshake failures.
func OnErrorOption(cb func(error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}
