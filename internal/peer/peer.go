// Package peer implements the answering side of JSTP for a single
// application. It is what jstpctl serve runs and what the transport tests
// talk to: it accepts handshakes, keeps sessions across reconnects, answers
// calls, inspects and pings, and can push events to its clients.
package peer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/jsrs"
)

// Conn is one framed connection from a client.
type Conn interface {
	ReadFrame() (string, error)
	WriteFrame(frame string) error
	Close() error
}

// Method answers a call. A *jstp.RemoteError is sent back as is, any other
// error as an internal API error.
type Method func(args jsrs.Array) (jsrs.Array, error)

// Authenticator checks the credentials of a login handshake.
type Authenticator func(username, password string) bool

// Peer serves one application.
type Peer struct {
	app    string
	logger jstp.Logger
	auth   Authenticator

	mu         sync.RWMutex
	interfaces map[string]map[string]Method
	sessions   map[string]*session
	conns      map[int64]*client

	connID   int64
	received atomic.Int64
	onFrame  func(frame string)
}

// session survives reconnects of the same client.
type session struct {
	id       string
	received atomic.Uint64 // numbered messages received from the client
	sent     atomic.Uint64 // numbered messages sent to the client
}

type client struct {
	conn    Conn
	session *session
	writeMu sync.Mutex
}

// Option configures a Peer.
type Option func(*Peer)

// LoggerOption sets the logger.
func LoggerOption(logger jstp.Logger) Option {
	return func(p *Peer) {
		p.logger = logger
	}
}

// AuthOption requires login handshakes to pass auth. Without it any login
// is accepted.
func AuthOption(auth Authenticator) Option {
	return func(p *Peer) {
		p.auth = auth
	}
}

// FrameHookOption calls fn with every frame read from a client, heartbeats
// included.
func FrameHookOption(fn func(frame string)) Option {
	return func(p *Peer) {
		p.onFrame = fn
	}
}

// New creates a peer for the named application. An empty name accepts any
// application.
func New(app string, opts ...Option) *Peer {
	p := &Peer{
		app:        app,
		logger:     jstp.DefaultLogger(),
		interfaces: make(map[string]map[string]Method),
		sessions:   make(map[string]*session),
		conns:      make(map[int64]*client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle registers a method.
func (p *Peer) Handle(iface, method string, fn Method) {
	p.mu.Lock()
	defer p.mu.Unlock()

	methods, ok := p.interfaces[iface]
	if !ok {
		methods = make(map[string]Method)
		p.interfaces[iface] = methods
	}
	methods[method] = fn
}

// Received returns the number of records read from all clients, excluding
// heartbeats.
func (p *Peer) Received() int64 {
	return p.received.Load()
}

// Clients returns the number of connected clients.
func (p *Peer) Clients() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Emit sends an event to every client that completed a handshake.
func (p *Peer) Emit(iface, event string, args jsrs.Array) int {
	p.mu.RLock()
	clients := make([]*client, 0, len(p.conns))
	for _, c := range p.conns {
		if c.session != nil {
			clients = append(clients, c)
		}
	}
	p.mu.RUnlock()

	for _, c := range clients {
		n := c.session.sent.Add(1)
		m := jstp.NewMessage(jstp.Event, n, jsrs.String(iface)).WithPayload(event, args)
		if err := c.write(m.String()); err != nil {
			p.logger.Warn("emit failed", "error", err)
		}
	}
	return len(clients)
}

// DropAll closes every client connection without any goodbye, as a network
// failure would.
func (p *Peer) DropAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.conns {
		_ = c.conn.Close()
	}
}

// Serve handles one connection until it fails or ctx is done. A malformed
// record ends the connection with an error.
func (p *Peer) Serve(ctx context.Context, conn Conn) error {
	id := atomic.AddInt64(&p.connID, 1)
	c := &client{conn: conn}

	p.mu.Lock()
	p.conns[id] = c
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.conns, id)
		p.mu.Unlock()
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if p.onFrame != nil {
			p.onFrame(frame)
		}

		if err := p.handle(c, frame); err != nil {
			p.logger.Warn("closing client", "conn_id", id, "error", err)
			return err
		}
	}
}

func (p *Peer) handle(c *client, frame string) error {
	obj, err := jsrs.ParseObject(frame)
	if err != nil {
		return errors.Wrap(err, "parse record")
	}
	if obj.Len() == 0 {
		return nil
	}
	p.received.Add(1)

	typ, ok := jstp.ParseMessageType(obj.KeyAt(0))
	if !ok {
		return errors.Errorf("unknown message type %q", obj.KeyAt(0))
	}
	head, _ := obj.ValueAt(0).(jsrs.Array)
	if len(head) == 0 {
		return errors.Errorf("missing message number in %s", frame)
	}
	num, ok := head[0].(jsrs.Number)
	if !ok || !num.IsInteger() || num < 0 || num > jstp.MaxMessageNumber {
		return errors.Errorf("invalid message number in %s", frame)
	}
	number := uint64(num)

	if typ == jstp.Handshake {
		return p.handshake(c, head, obj)
	}
	if c.session == nil {
		return errors.Errorf("%s before handshake", typ)
	}

	switch typ {
	case jstp.Call, jstp.Event, jstp.Inspect, jstp.Ping:
		c.session.received.Add(1)
	}

	switch typ {
	case jstp.Call:
		return p.call(c, number, head, obj)
	case jstp.Inspect:
		return p.inspect(c, number, head)
	case jstp.Ping:
		return c.write(jstp.NewMessage(jstp.Pong, number).String())
	case jstp.Event:
		event, _ := second(obj)
		p.logger.Debug("event received", "interface", stringAt(head, 1), "event", event)
	}
	return nil
}

func (p *Peer) handshake(c *client, head jsrs.Array, obj *jsrs.Object) error {
	reply := func(key string, v jsrs.Value) error {
		return c.write(jstp.NewMessage(jstp.Handshake, 0).WithPayload(key, v).String())
	}
	refuse := func(code int) error {
		return reply("error", jsrs.Array{jsrs.Number(code)})
	}

	if app := stringAt(head, 1); p.app != "" && app != p.app {
		p.logger.Info("unknown application", "app", app)
		return refuse(jstp.ErrCodeAppNotFound)
	}

	key, value := second(obj)
	payload, _ := value.(jsrs.Array)
	switch key {
	case "session":
		p.mu.RLock()
		s, ok := p.sessions[stringAt(payload, 0)]
		p.mu.RUnlock()
		if !ok {
			return refuse(jstp.ErrCodeAppNotFound)
		}
		p.mu.Lock()
		c.session = s
		p.mu.Unlock()
		received := s.received.Load()
		p.logger.Info("session restored", "session_id", s.id, "received", received)
		return reply("ok", jsrs.Number(received))
	case "login":
		if p.auth != nil && !p.auth(stringAt(payload, 0), stringAt(payload, 1)) {
			return refuse(jstp.ErrCodeAuthFailed)
		}
	}

	s := &session{id: uuid.NewString()}
	p.mu.Lock()
	p.sessions[s.id] = s
	c.session = s
	p.mu.Unlock()

	p.logger.Info("session started", "session_id", s.id)
	return reply("ok", jsrs.String(s.id))
}

func (p *Peer) call(c *client, number uint64, head jsrs.Array, obj *jsrs.Object) error {
	method, value := second(obj)
	iface := stringAt(head, 1)
	args, _ := value.(jsrs.Array)

	p.mu.RLock()
	methods, ok := p.interfaces[iface]
	fn := methods[method]
	p.mu.RUnlock()

	var result jsrs.Array
	var err error
	switch {
	case !ok:
		err = &jstp.RemoteError{Code: jstp.ErrCodeInterfaceNotFound}
	case fn == nil:
		err = &jstp.RemoteError{Code: jstp.ErrCodeMethodNotFound}
	default:
		result, err = fn(args)
	}

	m := jstp.NewMessage(jstp.Callback, number)
	if err != nil {
		var remote *jstp.RemoteError
		if !errors.As(err, &remote) {
			p.logger.Error("method failed", "interface", iface, "method", method, "error", err)
			remote = &jstp.RemoteError{Code: jstp.ErrCodeInternalAPIError}
		}
		m.WithPayload("error", errorArray(remote))
	} else {
		if result == nil {
			result = jsrs.Array{}
		}
		m.WithPayload("ok", result)
	}
	return c.write(m.String())
}

func (p *Peer) inspect(c *client, number uint64, head jsrs.Array) error {
	p.mu.RLock()
	methods, ok := p.interfaces[stringAt(head, 1)]
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	p.mu.RUnlock()

	m := jstp.NewMessage(jstp.Callback, number)
	if !ok {
		m.WithPayload("error", jsrs.Array{jsrs.Number(jstp.ErrCodeInterfaceNotFound)})
		return c.write(m.String())
	}

	sort.Strings(names)
	list := make(jsrs.Array, len(names))
	for i, name := range names {
		list[i] = jsrs.String(name)
	}
	return c.write(m.WithPayload("ok", list).String())
}

func (c *client) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteFrame(frame)
}

func errorArray(e *jstp.RemoteError) jsrs.Array {
	if len(e.Args) > 0 {
		return e.Args
	}
	return jsrs.Array{jsrs.Number(e.Code)}
}

// second returns the payload key and value of a record, if any.
func second(obj *jsrs.Object) (string, jsrs.Value) {
	if obj.Len() < 2 {
		return "", nil
	}
	return obj.KeyAt(1), obj.ValueAt(1)
}

func stringAt(arr jsrs.Array, i int) string {
	if i >= len(arr) {
		return ""
	}
	s, _ := arr[i].(jsrs.String)
	return string(s)
}
