package jstp

import (
	"github.com/Zereker/jstp/jsrs"
)

// transportListener routes transport events into the Connection.
type transportListener struct {
	c *Connection
}

func (l transportListener) OnConnected() {
	c := l.c
	c.mu.Lock()
	defer c.unlock()

	c.logger.Debug("transport connected", "state", c.state.String())
	switch c.state {
	case AwaitingHandshake, AwaitingReconnect:
		c.beginHandshake()
	}
}

func (l transportListener) OnConnectionClosed(remaining []string) {
	c := l.c
	c.mu.Lock()
	defer c.unlock()

	c.logger.Info("transport closed", "state", c.state.String(), "unsent", len(remaining))
	c.restoring = false
	switch c.state {
	case Closing:
		c.closeLocked()
	case Closed, AwaitingHandshake:
	default:
		if c.policy.SessionData().SessionID != "" {
			c.setState(AwaitingReconnect)
		} else {
			c.setState(AwaitingHandshake)
		}
	}
}

func (l transportListener) OnMessageRejected(raw string) {
	c := l.c
	c.mu.Lock()
	defer c.unlock()

	if c.state == Closing || c.state == Closed {
		return
	}
	c.reject(&ProtocolError{Raw: raw, Reason: "malformed record"})
}

func (l transportListener) OnError(err error) {
	l.c.logger.Warn("transport error", "error", err)
	l.c.opts.onError(err)
}

func (l transportListener) OnMessageReceived(v jsrs.Value) {
	c := l.c
	c.mu.Lock()
	defer c.unlock()

	if c.state == Closing || c.state == Closed {
		return
	}

	obj, ok := v.(*jsrs.Object)
	if !ok {
		c.reject(&ProtocolError{Raw: jsrs.Stringify(v), Reason: "record is not an object"})
		return
	}
	if obj.Len() == 0 {
		c.logger.Debug("heartbeat received")
		return
	}

	m, err := DecodeMessage(obj)
	if err != nil {
		c.reject(err.(*ProtocolError))
		return
	}
	c.metrics.MessageReceived(m.Type())

	if m.Type() == Handshake {
		c.handleHandshake(m)
		return
	}
	if c.state != Connected {
		c.reject(&ProtocolError{Raw: m.String(), Reason: m.Type().String() + " before handshake completed"})
		return
	}

	c.dispatch(m)
	c.policy.OnMessageReceived(m)
}

func (c *Connection) dispatch(m *Message) {
	switch m.Type() {
	case Call:
		h := c.calls[m.Interface()][m.PayloadKey()]
		if h == nil {
			c.logger.Debug("no handler for call", "interface", m.Interface(), "method", m.PayloadKey())
			return
		}
		number, args := m.Number(), m.PayloadArray()
		c.later(func() { h(number, args) })

	case Event:
		handlers := c.events[m.Interface()][m.PayloadKey()]
		if len(handlers) == 0 {
			c.logger.Debug("no handler for event", "interface", m.Interface(), "event", m.PayloadKey())
			return
		}
		handlers = append([]EventHandler(nil), handlers...)
		args := m.PayloadArray()
		c.later(func() {
			for _, h := range handlers {
				h(args)
			}
		})

	case Callback:
		h := c.popCallback(m.Number())
		if h == nil {
			c.logger.Debug("callback without handler", "number", m.Number())
			return
		}
		if m.PayloadKey() == "error" {
			err := newRemoteError(m.Payload())
			c.later(func() { h(nil, err) })
			return
		}
		result := m.PayloadArray()
		c.later(func() { h(result, nil) })

	case Pong:
		if h := c.popCallback(m.Number()); h != nil {
			c.later(func() { h(nil, nil) })
		}

	case Inspect:
		reply := NewMessage(Callback, m.Number())
		if methods, ok := c.methodNames(m.Interface()); ok {
			reply.WithPayload("ok", methods)
		} else {
			reply.WithPayload("error", jsrs.Array{jsrs.Number(ErrCodeInterfaceNotFound)})
		}
		c.write(reply)

	case Ping:
		c.write(NewMessage(Pong, m.Number()))
	}
}

func (c *Connection) handleHandshake(m *Message) {
	if c.state != AwaitingHandshakeResponse {
		if !c.transport.IsConnected() {
			return
		}
		c.reject(&ProtocolError{Raw: m.String(), Reason: "unexpected handshake"})
		return
	}

	restoring := c.restoring
	c.restoring = false

	if m.PayloadKey() == "error" {
		err := newRemoteError(m.Payload())
		c.logger.Warn("handshake failed", "code", err.Code, "restoring", restoring)
		if restoring {
			// The peer no longer knows the session: start over next time.
			c.policy.OnNewConnection(c.app, "", c.pendingCallbacks())
		}
		// Frames queued behind the handshake belong to a session the peer
		// refused.
		c.transport.ClearQueue()
		c.setState(AwaitingHandshake)
		c.later(func() {
			if cerr := c.transport.Close(true); cerr != nil {
				c.logger.Debug("close after handshake error", "error", cerr)
			}
			c.opts.onError(err)
		})
		return
	}

	switch v := m.Payload().(type) {
	case jsrs.String:
		c.nextNumber = 1
		c.policy.OnNewConnection(c.app, string(v), c.pendingCallbacks())
		c.setState(Connected)
		c.logger.Info("session established", "app", c.app.Name, "session", string(v))
		c.later(func() { c.opts.onConnected(false) })

	case jsrs.Number:
		acked := uint64(v)
		next := c.policy.SessionData().NumSentMessages
		if acked > next {
			next = acked
		}
		c.nextNumber = next + 1
		c.setState(Connected)
		c.policy.Restore(acked)
		if c.state != Connected {
			return
		}
		c.logger.Info("session restored", "app", c.app.Name, "acked", acked)
		c.later(func() { c.opts.onConnected(true) })
	}
}
