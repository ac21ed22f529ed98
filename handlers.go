package jstp

import (
	"sort"

	"github.com/Zereker/jstp/jsrs"
)

// CallHandler serves a remote call. Answer it with Connection.Callback using
// the same number.
type CallHandler func(number uint64, args jsrs.Array)

// EventHandler receives the arguments of a remote event.
type EventHandler func(args jsrs.Array)

// CallbackHandler receives the answer to a call, inspect or ping. err is a
// *RemoteError when the peer answered with an error, or ErrCallbackLost when
// no answer will arrive.
type CallbackHandler func(result jsrs.Array, err error)

// SetCallHandler registers h for calls of method on iface, replacing any
// previous handler.
func (c *Connection) SetCallHandler(iface, method string, h CallHandler) {
	c.mu.Lock()
	defer c.unlock()

	methods, ok := c.calls[iface]
	if !ok {
		methods = make(map[string]CallHandler)
		c.calls[iface] = methods
	}
	methods[method] = h
}

// RemoveCallHandler unregisters the handler for method on iface. The
// interface disappears from inspect answers once its last method is removed.
func (c *Connection) RemoveCallHandler(iface, method string) {
	c.mu.Lock()
	defer c.unlock()

	methods, ok := c.calls[iface]
	if !ok {
		return
	}
	delete(methods, method)
	if len(methods) == 0 {
		delete(c.calls, iface)
	}
}

// AddEventHandler appends h to the handlers of event on iface. All handlers
// run in registration order.
func (c *Connection) AddEventHandler(iface, event string, h EventHandler) {
	c.mu.Lock()
	defer c.unlock()

	events, ok := c.events[iface]
	if !ok {
		events = make(map[string][]EventHandler)
		c.events[iface] = events
	}
	events[event] = append(events[event], h)
}

// RemoveEventHandlers drops every handler of event on iface.
func (c *Connection) RemoveEventHandlers(iface, event string) {
	c.mu.Lock()
	defer c.unlock()

	events, ok := c.events[iface]
	if !ok {
		return
	}
	delete(events, event)
	if len(events) == 0 {
		delete(c.events, iface)
	}
}

// methodNames returns the sorted method names registered for iface.
func (c *Connection) methodNames(iface string) (jsrs.Array, bool) {
	methods, ok := c.calls[iface]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(jsrs.Array, len(names))
	for i, name := range names {
		out[i] = jsrs.String(name)
	}
	return out, true
}

func (c *Connection) addCallback(number uint64, h CallbackHandler) {
	if old, ok := c.callbacks[number]; ok {
		c.metrics.CallbacksLost(1)
		c.later(func() { old(nil, ErrCallbackLost) })
	}
	c.callbacks[number] = h
}

// popCallback removes and returns the handler registered under number.
func (c *Connection) popCallback(number uint64) CallbackHandler {
	h, ok := c.callbacks[number]
	if !ok {
		return nil
	}
	delete(c.callbacks, number)
	return h
}

func (c *Connection) loseCallback(number uint64) {
	h := c.popCallback(number)
	if h == nil {
		return
	}
	c.metrics.CallbacksLost(1)
	c.later(func() { h(nil, ErrCallbackLost) })
}

// pendingCallbacks returns the numbers with a registered handler in
// ascending order.
func (c *Connection) pendingCallbacks() []uint64 {
	out := make([]uint64, 0, len(c.callbacks))
	for n := range c.callbacks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Connection) loseAllCallbacks() {
	for _, n := range c.pendingCallbacks() {
		c.loseCallback(n)
	}
}
