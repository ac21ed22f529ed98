package jstp

// Metrics receives connection counters. The internal/metrics package
// provides a Prometheus implementation.
type Metrics interface {
	MessageSent(t MessageType)
	MessageReceived(t MessageType)
	MessageRejected()
	MessagesResent(n int)
	CallbacksLost(n int)
	StateChanged(from, to State)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(MessageType)     {}
func (nopMetrics) MessageReceived(MessageType) {}
func (nopMetrics) MessageRejected()            {}
func (nopMetrics) MessagesResent(int)          {}
func (nopMetrics) CallbacksLost(int)           {}
func (nopMetrics) StateChanged(State, State)   {}
