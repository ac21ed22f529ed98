// Package metrics exports connection counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zereker/jstp"
)

type config struct {
	namespace   string
	subsystem   string
	constLabels prometheus.Labels
	registry    prometheus.Registerer
}

// Option configures a Collector.
type Option func(*config)

// WithNamespace sets the metrics namespace. The default is "jstp".
func WithNamespace(namespace string) Option {
	return func(c *config) {
		c.namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *config) {
		c.subsystem = subsystem
	}
}

// WithConstLabels adds constant labels to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *config) {
		c.constLabels = labels
	}
}

// WithRegistry sets the registerer. The default is prometheus.DefaultRegisterer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *config) {
		c.registry = registry
	}
}

// Collector implements jstp.Metrics.
type Collector struct {
	sent        *prometheus.CounterVec
	received    *prometheus.CounterVec
	rejected    prometheus.Counter
	resent      prometheus.Counter
	lost        prometheus.Counter
	transitions *prometheus.CounterVec
	state       *prometheus.GaugeVec
}

var _ jstp.Metrics = (*Collector)(nil)

// New registers the connection metrics. It panics if they are already
// registered with the same registry.
func New(opts ...Option) *Collector {
	cfg := config{
		namespace: "jstp",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.registry)

	c := &Collector{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "messages_sent_total",
			Help:        "Messages written to the transport, by type.",
			ConstLabels: cfg.constLabels,
		}, []string{"type"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "messages_received_total",
			Help:        "Messages received from the transport, by type.",
			ConstLabels: cfg.constLabels,
		}, []string{"type"}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "messages_rejected_total",
			Help:        "Inbound records that were not valid messages.",
			ConstLabels: cfg.constLabels,
		}),
		resent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "messages_resent_total",
			Help:        "Buffered messages resent after a session restore.",
			ConstLabels: cfg.constLabels,
		}),
		lost: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "callbacks_lost_total",
			Help:        "Pending callbacks completed with a lost-callback error.",
			ConstLabels: cfg.constLabels,
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "state_transitions_total",
			Help:        "Connection state transitions.",
			ConstLabels: cfg.constLabels,
		}, []string{"from", "to"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.namespace,
			Subsystem:   cfg.subsystem,
			Name:        "connections",
			Help:        "Connections currently in each state.",
			ConstLabels: cfg.constLabels,
		}, []string{"state"}),
	}
	return c
}

func (c *Collector) MessageSent(t jstp.MessageType) {
	c.sent.WithLabelValues(t.String()).Inc()
}

func (c *Collector) MessageReceived(t jstp.MessageType) {
	c.received.WithLabelValues(t.String()).Inc()
}

func (c *Collector) MessageRejected() { c.rejected.Inc() }

func (c *Collector) MessagesResent(n int) {
	if n > 0 {
		c.resent.Add(float64(n))
	}
}

func (c *Collector) CallbacksLost(n int) {
	if n > 0 {
		c.lost.Add(float64(n))
	}
}

// StateChanged moves one connection from the old state gauge to the new one.
// A new connection starts in AwaitingHandshake without a transition, so
// Track must be called once per connection for the gauges to balance.
func (c *Collector) StateChanged(from, to jstp.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.state.WithLabelValues(from.String()).Dec()
	c.state.WithLabelValues(to.String()).Inc()
}

// Track counts a newly created connection in state s.
func (c *Collector) Track(s jstp.State) {
	c.state.WithLabelValues(s.String()).Inc()
}
