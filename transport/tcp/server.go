package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Zereker/jstp"
)

// Handler serves one accepted connection. The connection is closed when
// Serve returns.
type Handler interface {
	ServeConn(ctx context.Context, conn *Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn *Conn) { f(ctx, conn) }

// Server accepts framed JSTP connections. It is the peer side used by
// jstpctl serve and by transport tests.
type Server struct {
	listener        *net.TCPListener
	logger          jstp.Logger
	shutdownTimeout time.Duration
	connOpts        options

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
	conns       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger jstp.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
		s.connOpts.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server waits up to this duration
// before closing the listener. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOption applies transport options, such as the codec or the
// maximum frame size, to accepted connections.
func ServerConnOption(opt ...Option) ServerOption {
	return func(s *Server) {
		for _, o := range opt {
			o(&s.connOpts)
		}
	}
}

// Listen creates a new server bound to addr ("host:port", port 0 picks a
// free one).
func Listen(addr string, opts ...ServerOption) (*Server, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      jstp.DefaultLogger(),
		shutdownNow: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	checkOptions(&s.connOpts)

	return s, nil
}

// Serve starts accepting connections and dispatching them to the handler.
// It blocks until the context is canceled or an unrecoverable error occurs.
// Handlers receive a context that is canceled when Serve stops.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	connCtx, cancelConns := context.WithCancel(ctx)
	defer cancelConns()

	go func() {
		<-ctx.Done()

		// Wait for shutdown timeout if configured, but allow early exit via Close()
		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		raw, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				cancelConns()
				s.conns.Wait()
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
		_ = raw.SetNoDelay(true)

		conn := newConn(raw, s.connOpts)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer conn.Close()

			stop := context.AfterFunc(connCtx, func() { _ = conn.Close() })
			defer stop()
			handler.ServeConn(connCtx, conn)
		}()
	}
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
