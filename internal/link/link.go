// Package link runs framed byte-stream connections for the JSTP transports:
// a writer draining a FIFO queue, a reader feeding the listener, idle
// heartbeats, graceful drain and reconnect with backoff.
package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/internal/backoff"
	"github.com/Zereker/jstp/internal/queue"
)

// Conn is one established framed connection.
type Conn interface {
	ReadFrame() (string, error)
	WriteFrame(frame string) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// DialFunc opens a new Conn.
type DialFunc func(ctx context.Context) (Conn, error)

// Heartbeat is the frame written when the link has been idle.
const Heartbeat = "{}"

// Default configuration values.
const (
	defaultIdleTimeout  = 30 * time.Second
	defaultDrainTimeout = 5 * time.Second
	defaultDialTimeout  = 10 * time.Second
)

// Config holds the link behavior shared by all transports.
type Config struct {
	Logger       jstp.Logger
	IdleTimeout  time.Duration // read/write deadline is twice this value
	Heartbeat    time.Duration // zero disables heartbeats
	DrainTimeout time.Duration
	DialTimeout  time.Duration
	Reconnect    bool
	Backoff      backoff.Policy
}

func (c *Config) fill() {
	if c.Logger == nil {
		c.Logger = jstp.DefaultLogger()
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

var errDrained = errors.New("link drained")

// ErrNoListener is returned by Connect before SetListener was called.
var ErrNoListener = errors.New("link: no listener")

// Transport implements jstp.Transport on top of a DialFunc.
type Transport struct {
	dial   DialFunc
	cfg    Config
	logger jstp.Logger

	mu       sync.Mutex
	listener jstp.TransportListener
	active   *session
	closed   bool // set by Close, cleared by Connect; suppresses reconnects
	stop     chan struct{}

	connected atomic.Bool
}

// session is the state of one established connection.
type session struct {
	id     string
	conn   Conn
	queue  *queue.Queue
	cancel context.CancelFunc
	flush  chan struct{}
	done   chan struct{}

	closing   atomic.Bool
	lastWrite atomic.Int64
}

// New creates a disconnected transport.
func New(dial DialFunc, cfg Config) *Transport {
	cfg.fill()
	return &Transport{
		dial:   dial,
		cfg:    cfg,
		logger: cfg.Logger,
		stop:   make(chan struct{}),
	}
}

func (t *Transport) SetListener(l jstp.TransportListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Connect dials once. Failed dials are returned, not retried; reconnects
// only follow the loss of an established connection.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.listener == nil {
		t.mu.Unlock()
		return ErrNoListener
	}
	if t.active != nil {
		t.mu.Unlock()
		return nil
	}
	if t.closed {
		t.closed = false
		t.stop = make(chan struct{})
	}
	t.mu.Unlock()

	conn, err := t.dialOnce()
	if err != nil {
		return err
	}
	t.attach(conn)
	return nil
}

func (t *Transport) dialOnce() (Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	defer cancel()
	conn, err := t.dial(ctx)
	return conn, pkgerrors.Wrap(err, "dial")
}

// attach starts serving conn unless another connection won the race or the
// transport was closed meanwhile.
func (t *Transport) attach(conn Conn) bool {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		conn:   conn,
		queue:  queue.New(),
		cancel: cancel,
		flush:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.lastWrite.Store(time.Now().UnixNano())

	t.mu.Lock()
	if t.active != nil || t.closed {
		t.mu.Unlock()
		cancel()
		_ = conn.Close()
		return false
	}
	t.active = s
	listener := t.listener
	t.connected.Store(true)
	t.mu.Unlock()

	t.logger.Info("link established", "link", s.id, "addr", conn.RemoteAddr())
	t.logger.Debug("link options", "link", s.id,
		"idle_timeout", t.cfg.IdleTimeout,
		"heartbeat", t.cfg.Heartbeat,
		"reconnect", t.cfg.Reconnect)

	go t.run(ctx, s, listener)
	listener.OnConnected()
	return true
}

// Send queues text on the current connection. Without one it is dropped.
func (t *Transport) Send(text string) {
	t.mu.Lock()
	s := t.active
	t.mu.Unlock()

	if s == nil || s.closing.Load() {
		t.logger.Debug("dropping frame on closed link", "size", len(text))
		return
	}
	s.queue.Push(text)
}

// ClearQueue drops the frames queued on the current connection. Frames
// queued on earlier connections were already dropped with them.
func (t *Transport) ClearQueue() {
	t.mu.Lock()
	s := t.active
	t.mu.Unlock()
	if s != nil {
		s.queue.Clear()
	}
}

// Close shuts the current connection down and stops reconnecting. A
// graceful close flushes queued frames within the drain timeout. The
// listener is not notified of a connection closed this way.
func (t *Transport) Close(forced bool) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.stop)
	}
	s := t.active
	if s != nil {
		t.active = nil
		t.connected.Store(false)
	}
	t.mu.Unlock()

	if s == nil {
		return nil
	}
	s.closing.Store(true)

	if forced {
		s.queue.Clear()
		s.cancel()
		return nil
	}

	close(s.flush)
	select {
	case <-s.done:
	case <-time.After(t.cfg.DrainTimeout):
		t.logger.Warn("drain timeout, closing link", "link", s.id, "unsent", s.queue.Len())
		s.cancel()
	}
	return nil
}

// run serves s until it fails or is closed, then reports the loss and
// reconnects when configured to.
func (t *Transport) run(ctx context.Context, s *session, listener jstp.TransportListener) {
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return t.readLoop(child, s, listener)
	})

	group.Go(func() error {
		return t.writeLoop(child, s)
	})

	group.Go(func() error {
		<-child.Done()
		return s.conn.Close()
	})

	if t.cfg.Heartbeat > 0 {
		group.Go(func() error {
			return t.heartbeatLoop(child, s)
		})
	}

	err := group.Wait()
	remaining := s.queue.Drain()

	t.mu.Lock()
	current := t.active == s
	if current {
		t.active = nil
		t.connected.Store(false)
	}
	reconnect := current && t.cfg.Reconnect && !t.closed
	t.mu.Unlock()
	close(s.done)

	if !current {
		t.logger.Info("link closed", "link", s.id)
		return
	}

	if err != nil && !isQuiet(err) {
		t.logger.Info("link closed with error", "link", s.id, "error", err)
		listener.OnError(err)
	} else {
		t.logger.Info("link closed", "link", s.id)
	}
	listener.OnConnectionClosed(remaining)

	if reconnect {
		go t.reconnectLoop()
	}
}

// readLoop delivers frames in arrival order.
func (t *Transport) readLoop(ctx context.Context, s *session, listener jstp.TransportListener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_ = s.conn.SetReadDeadline(time.Now().Add(t.cfg.IdleTimeout * 2))

			frame, err := s.conn.ReadFrame()
			if err != nil {
				t.logger.Debug("read error", "link", s.id, "error", err)
				if s.closing.Load() {
					return errDrained
				}
				return err
			}

			if err := jstp.DeliverFrame(listener, frame); err != nil {
				t.logger.Debug("undecodable frame", "link", s.id, "error", err)
			}
		}
	}
}

// writeLoop sends queued frames in FIFO order. Once a flush is requested,
// everything still queued is written before returning.
func (t *Transport) writeLoop(ctx context.Context, s *session) error {
	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.flush:
			cancel()
		case <-popCtx.Done():
		}
	}()

	for {
		frame, err := s.queue.Pop(popCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			for {
				frame, ok := s.queue.TryPop()
				if !ok {
					break
				}
				if err := t.write(s, frame); err != nil {
					return err
				}
			}
			return errDrained
		}
		if err := t.write(s, frame); err != nil {
			return err
		}
	}
}

func (t *Transport) write(s *session, frame string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(t.cfg.IdleTimeout * 2))
	if err := s.conn.WriteFrame(frame); err != nil {
		t.logger.Debug("write error", "link", s.id, "error", err)
		return err
	}
	s.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// heartbeatLoop queues a heartbeat whenever nothing was written for a
// whole interval.
func (t *Transport) heartbeatLoop(ctx context.Context, s *session) error {
	ticker := time.NewTicker(t.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			idle := now.Sub(time.Unix(0, s.lastWrite.Load()))
			if idle >= t.cfg.Heartbeat && s.queue.Len() == 0 {
				s.queue.Push(Heartbeat)
			}
		}
	}
}

func (t *Transport) reconnectLoop() {
	t.mu.Lock()
	stop := t.stop
	t.mu.Unlock()

	sched := t.cfg.Backoff.Start(nil)
	for {
		delay, ok := sched.Next()
		if !ok {
			t.logger.Warn("giving up reconnecting", "attempts", sched.Attempt())
			return
		}
		attempt := sched.Attempt()

		t.logger.Debug("reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		t.mu.Lock()
		skip := t.closed || t.active != nil
		t.mu.Unlock()
		if skip {
			return
		}

		conn, err := t.dialOnce()
		if err != nil {
			t.logger.Debug("reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		t.attach(conn)
		return
	}
}

// isQuiet reports errors that end a link without being worth reporting.
func isQuiet(err error) bool {
	return errors.Is(err, errDrained) || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
