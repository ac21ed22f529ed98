// Package jstp implements the client side of the JSTP protocol: numbered
// messages encoded as jsrs records, exchanged over a pluggable Transport,
// with a session that can survive transport drops.
package jstp

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/jstp/jsrs"
)

type credentials struct {
	username string
	password string
}

// Connection is a JSTP session bound to a Transport.
//
// All state is guarded by one mutex. Handlers and listener callbacks are
// collected while it is held and run after it is released, in the order
// the events happened, so they may call back into the Connection.
type Connection struct {
	transport Transport
	opts      options
	logger    Logger
	metrics   Metrics
	policy    SessionPolicy

	mu         sync.Mutex
	state      State
	app        AppData
	hasApp     bool
	login      *credentials
	restoring  bool
	nextNumber uint64
	callbacks  map[uint64]CallbackHandler
	calls      map[string]map[string]CallHandler
	events     map[string]map[string][]EventHandler
	deferred   []func()
}

// New creates a connection over transport and registers itself as the
// transport listener. The transport is not connected until Connect.
func New(transport Transport, opt ...Option) (*Connection, error) {
	if transport == nil {
		return nil, ErrInvalidTransport
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	opts.checkOptions()

	c := &Connection{
		transport:  transport,
		opts:       opts,
		logger:     opts.logger,
		metrics:    opts.metrics,
		policy:     opts.policy,
		nextNumber: 1,
		callbacks:  make(map[uint64]CallbackHandler),
		calls:      make(map[string]map[string]CallHandler),
		events:     make(map[string]map[string][]EventHandler),
	}
	c.policy.Attach(sessionHost{c: c})
	transport.SetListener(transportListener{c: c})
	return c, nil
}

// later queues fn to run once the lock is released.
func (c *Connection) later(fn func()) {
	c.deferred = append(c.deferred, fn)
}

// unlock releases the lock and runs the queued functions.
func (c *Connection) unlock() {
	fns := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *Connection) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Debug("connection state changed", "from", from.String(), "to", to.String())
	c.metrics.StateChanged(from, to)
	c.later(func() { c.opts.onStateChange(from, to) })
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionData returns the identity and counters of the current session.
func (c *Connection) SessionData() SessionData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.SessionData()
}

// Connect starts an anonymous session with app. The handshake is sent as
// soon as the transport is up; success is reported through OnConnectedOption.
func (c *Connection) Connect(app AppData) error {
	return c.connect(app, nil)
}

// ConnectWithLogin is like Connect but authenticates with the given
// credentials.
func (c *Connection) ConnectWithLogin(app AppData, username, password string) error {
	return c.connect(app, &credentials{username: username, password: password})
}

func (c *Connection) connect(app AppData, login *credentials) error {
	if app.Name == "" {
		return ErrNoApplication
	}

	c.mu.Lock()
	switch c.state {
	case Closing, Closed:
		c.unlock()
		return ErrConnectionClosed
	case AwaitingHandshakeResponse, Connected:
		c.unlock()
		return nil
	}
	c.app, c.hasApp, c.login = app, true, login
	connected := c.transport.IsConnected()
	if connected && c.state == AwaitingHandshake {
		c.beginHandshake()
	}
	c.unlock()

	if connected {
		return nil
	}
	return errors.Wrap(c.transport.Connect(), "connect transport")
}

// beginHandshake resumes a known session through the policy, or sends a
// fresh handshake for the configured application.
func (c *Connection) beginHandshake() {
	if c.policy.SessionData().SessionID != "" {
		c.policy.OnTransportAvailable()
		return
	}
	if c.hasApp {
		c.sendHandshake(c.app, nil)
	}
}

func (c *Connection) sendHandshake(app AppData, restore *SessionData) {
	args := []jsrs.Value{jsrs.String(app.Name)}
	if app.Version != "" {
		args = append(args, jsrs.String(app.Version))
	}
	m := NewMessage(Handshake, 0, args...)

	c.restoring = false
	switch {
	case restore != nil:
		m.WithPayload("session", jsrs.Array{
			jsrs.String(restore.SessionID),
			jsrs.Number(restore.NumReceivedMessages),
		})
		c.restoring = true
	case c.login != nil:
		m.WithPayload("login", jsrs.Array{
			jsrs.String(c.login.username),
			jsrs.String(c.login.password),
		})
	}
	if !c.hasApp {
		c.app, c.hasApp = app, true
	}

	c.setState(AwaitingHandshakeResponse)
	c.logger.Debug("sending handshake", "app", app.Name, "restoring", c.restoring)
	c.write(m)
}

// write hands a message to the transport.
func (c *Connection) write(m *Message) {
	c.transport.Send(m.String())
	c.metrics.MessageSent(m.Type())
}

// Call invokes method on the remote iface. h, if not nil, receives the
// answer exactly once.
func (c *Connection) Call(iface, method string, args jsrs.Array, h CallbackHandler) error {
	if args == nil {
		args = jsrs.Array{}
	}
	m := NewMessage(Call, 0, jsrs.String(iface)).WithPayload(method, args)
	return c.send(m, h)
}

// Event emits event on iface to the peer.
func (c *Connection) Event(iface, event string, args jsrs.Array) error {
	if args == nil {
		args = jsrs.Array{}
	}
	m := NewMessage(Event, 0, jsrs.String(iface)).WithPayload(event, args)
	return c.send(m, nil)
}

// Inspect asks the peer for the method names of iface.
func (c *Connection) Inspect(iface string, h CallbackHandler) error {
	return c.send(NewMessage(Inspect, 0, jsrs.String(iface)), h)
}

// Ping asks the peer for a pong. h receives a nil result on success.
func (c *Connection) Ping(h CallbackHandler) error {
	return c.send(NewMessage(Ping, 0), h)
}

// send numbers m and delivers it. While the transport is down the message
// is only handed to the session policy.
func (c *Connection) send(m *Message, h CallbackHandler) error {
	c.mu.Lock()
	defer c.unlock()

	switch c.state {
	case Connected, AwaitingReconnect:
	case AwaitingHandshakeResponse:
		if !c.restoring {
			return ErrNotConnected
		}
	case Closing, Closed:
		return ErrConnectionClosed
	default:
		return ErrNotConnected
	}

	m.SetNumber(c.nextNumber)
	c.nextNumber++
	if h != nil {
		c.addCallback(m.Number(), h)
	}
	if c.state == Connected {
		c.write(m)
	}
	c.policy.OnMessageSent(m)
	return nil
}

// Callback answers the remote call numbered number. ok selects between a
// result and an error payload.
func (c *Connection) Callback(number uint64, ok bool, result jsrs.Array) error {
	c.mu.Lock()
	defer c.unlock()

	switch c.state {
	case Connected:
	case Closing, Closed:
		return ErrConnectionClosed
	default:
		return ErrNotConnected
	}

	if result == nil {
		result = jsrs.Array{}
	}
	key := "ok"
	if !ok {
		key = "error"
	}
	c.write(NewMessage(Callback, number).WithPayload(key, result))
	return nil
}

// SaveSession persists the session so that another process can resume it.
func (c *Connection) SaveSession(ctx context.Context, s Storage) error {
	c.mu.Lock()
	defer c.unlock()
	return c.policy.SaveSession(ctx, s)
}

// RestoreSession loads a saved session. It must be called before Connect;
// the next handshake then asks the peer to resume it.
func (c *Connection) RestoreSession(ctx context.Context, s Storage) error {
	c.mu.Lock()
	defer c.unlock()

	if c.state != AwaitingHandshake {
		return ErrSessionActive
	}
	if err := c.policy.RestoreSession(ctx, s); err != nil {
		return err
	}

	data := c.policy.SessionData()
	c.nextNumber = data.NumSentMessages + 1
	if data.AppName != "" && !c.hasApp {
		c.app, c.hasApp = data.App(), true
	}
	return nil
}

// Close shuts the connection down. A graceful close lets the transport
// flush queued records first. Pending callbacks are resolved with
// ErrCallbackLost. Close is idempotent.
func (c *Connection) Close(forced bool) error {
	c.mu.Lock()
	if c.state == Closing || c.state == Closed {
		c.unlock()
		return nil
	}
	c.setState(Closing)
	c.unlock()

	err := c.transport.Close(forced)
	c.finishClose()
	return errors.Wrap(err, "close transport")
}

func (c *Connection) finishClose() {
	c.mu.Lock()
	defer c.unlock()
	if c.state == Closing {
		c.closeLocked()
	}
}

func (c *Connection) closeLocked() {
	c.setState(Closed)
	c.loseAllCallbacks()
	c.later(c.opts.onClosed)
}

// reject closes the connection after a protocol violation.
func (c *Connection) reject(err *ProtocolError) {
	c.logger.Warn("protocol violation", "reason", err.Reason, "record", err.Raw)
	c.metrics.MessageRejected()
	c.setState(Closing)
	c.later(func() {
		if cerr := c.transport.Close(true); cerr != nil {
			c.logger.Debug("close after violation", "error", cerr)
		}
		c.finishClose()
		c.opts.onRejected(err.Raw)
		c.opts.onError(err)
	})
}

type sessionHost struct {
	c *Connection
}

func (h sessionHost) Resend(m *Message) {
	h.c.write(m)
	h.c.metrics.MessagesResent(1)
}

func (h sessionHost) Handshake(app AppData, restore *SessionData) {
	h.c.sendHandshake(app, restore)
}

func (h sessionHost) LoseCallback(number uint64) {
	h.c.loseCallback(number)
}
