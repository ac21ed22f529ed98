package jstp

import (
	"github.com/Zereker/jstp/jsrs"
)

// Transport carries records between the Connection and the peer.
//
// Send must not block and must not call back into the listener
// synchronously; it may be called while the Connection holds its lock.
// Messages sent while disconnected are dropped, the session policy is
// responsible for redelivery.
type Transport interface {
	// Connect establishes the link. Calling it on a connected transport is
	// a no-op.
	Connect() error
	// Send queues one record for delivery.
	Send(text string)
	// Close shuts the link down. A forced close discards queued records,
	// otherwise they are flushed first. Close stops any reconnect attempts.
	Close(forced bool) error
	IsConnected() bool
	// ClearQueue discards queued records that were not written yet.
	ClearQueue()
	SetListener(l TransportListener)
}

// TransportListener receives transport events. The Connection implements it.
type TransportListener interface {
	OnConnected()
	OnMessageReceived(v jsrs.Value)
	// OnConnectionClosed reports a closed link and the records that were
	// still queued.
	OnConnectionClosed(remaining []string)
	// OnMessageRejected reports a frame that could not be parsed.
	OnMessageRejected(raw string)
	OnError(err error)
}

// DeliverFrame parses one received frame and routes it to l.
func DeliverFrame(l TransportListener, raw string) error {
	v, err := jsrs.Parse(raw)
	if err != nil {
		l.OnMessageRejected(raw)
		return err
	}
	l.OnMessageReceived(v)
	return nil
}
