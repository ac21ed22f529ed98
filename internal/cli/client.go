package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/internal/config"
	"github.com/Zereker/jstp/internal/metrics"
	"github.com/Zereker/jstp/storage"
	"github.com/Zereker/jstp/transport/tcp"
	"github.com/Zereker/jstp/transport/ws"
)

const closeTimeout = 5 * time.Second

// client is a connection with a completed handshake and the resources
// built around it from the configuration.
type client struct {
	conn    *jstp.Connection
	store   storage.Store
	logger  jstp.Logger
	metrics *http.Server
	ready   chan error
}

// dial builds a connection from cfg, resumes a saved session if there is
// one and waits for the handshake. A saved session the peer no longer
// knows is dropped in favor of a new one.
func dial(ctx context.Context, cfg config.Config, logger jstp.Logger, setup ...func(*jstp.Connection)) (*client, error) {
	transport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}

	c := &client{store: store, logger: logger, ready: make(chan error, 1)}

	reg := prometheus.NewRegistry()
	collector := metrics.New(
		metrics.WithRegistry(reg),
		metrics.WithConstLabels(prometheus.Labels{"app": cfg.App.Name}),
	)
	if cfg.Metrics.Addr != "" {
		c.metrics, _, err = serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			c.release()
			return nil, err
		}
	}

	c.conn, err = jstp.New(transport,
		jstp.LoggerOption(logger),
		jstp.MetricsOption(collector),
		jstp.SessionPolicyOption(newPolicy(cfg.Session)),
		jstp.OnConnectedOption(func(bool) { c.notify(nil) }),
		jstp.OnErrorOption(func(err error) {
			var remote *jstp.RemoteError
			var violation *jstp.ProtocolError
			if errors.As(err, &remote) || errors.As(err, &violation) {
				c.notify(err)
			}
		}),
	)
	if err != nil {
		c.release()
		return nil, err
	}
	collector.Track(c.conn.State())
	for _, fn := range setup {
		fn(c.conn)
	}

	if store != nil {
		if err := c.conn.RestoreSession(ctx, store); err != nil {
			c.release()
			return nil, err
		}
	}
	resuming := c.conn.SessionData().SessionID != ""

	err = c.handshake(ctx, cfg)
	var remote *jstp.RemoteError
	if resuming && errors.As(err, &remote) {
		logger.Warn("saved session rejected, starting a new one", "code", remote.Code)
		err = c.handshake(ctx, cfg)
	}
	if err != nil {
		_ = c.conn.Close(true)
		c.release()
		return nil, err
	}
	return c, nil
}

func (c *client) handshake(ctx context.Context, cfg config.Config) error {
	app := jstp.AppData{Name: cfg.App.Name, Version: cfg.App.Version}
	var err error
	if cfg.Auth.Username != "" {
		err = c.conn.ConnectWithLogin(app, cfg.Auth.Username, cfg.Auth.Password)
	} else {
		err = c.conn.Connect(app)
	}
	if err != nil {
		return err
	}

	select {
	case err := <-c.ready:
		return errors.Wrap(err, "handshake")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) notify(err error) {
	select {
	case c.ready <- err:
	default:
	}
}

// close saves the session, closes the connection gracefully and releases
// everything dial opened.
func (c *client) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var result error
	if c.store != nil {
		result = c.conn.SaveSession(ctx, c.store)
	}
	if err := c.conn.Close(false); err != nil && result == nil {
		result = err
	}
	c.release()
	return result
}

func (c *client) release() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("close session storage", "error", err)
		}
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = c.metrics.Shutdown(ctx)
	}
}

func newTransport(cfg config.TransportConfig, logger jstp.Logger) (jstp.Transport, error) {
	switch cfg.Kind {
	case "tcp":
		opts := []tcp.Option{
			tcp.LoggerOption(logger),
			tcp.MessageMaxSize(cfg.MaxMessageSize),
			tcp.IdleTimeoutOption(cfg.IdleTimeout.Std()),
			tcp.HeartbeatOption(cfg.Heartbeat.Std()),
			tcp.DrainTimeoutOption(cfg.DrainTimeout.Std()),
			tcp.DialTimeoutOption(cfg.DialTimeout.Std()),
		}
		if cfg.TLS {
			host, _, err := net.SplitHostPort(cfg.Address)
			if err != nil {
				return nil, errors.Wrapf(err, "transport address %q", cfg.Address)
			}
			opts = append(opts, tcp.TLSConfigOption(&tls.Config{
				ServerName:         host,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				MinVersion:         tls.VersionTLS12,
			}))
		}
		if cfg.Reconnect.Disabled {
			opts = append(opts, tcp.NoReconnectOption())
		} else {
			opts = append(opts, tcp.ReconnectOption(cfg.Reconnect.InitialDelay.Std(), cfg.Reconnect.MaxDelay.Std(), cfg.Reconnect.MaxAttempts))
		}
		return tcp.New(cfg.Address, opts...), nil

	case "ws":
		opts := []ws.Option{
			ws.LoggerOption(logger),
			ws.MessageMaxSize(int64(cfg.MaxMessageSize)),
			ws.IdleTimeoutOption(cfg.IdleTimeout.Std()),
			ws.HeartbeatOption(cfg.Heartbeat.Std()),
			ws.DrainTimeoutOption(cfg.DrainTimeout.Std()),
			ws.DialTimeoutOption(cfg.DialTimeout.Std()),
		}
		if cfg.InsecureSkipVerify {
			opts = append(opts, ws.TLSConfigOption(&tls.Config{InsecureSkipVerify: true}))
		}
		if cfg.Reconnect.Disabled {
			opts = append(opts, ws.NoReconnectOption())
		} else {
			opts = append(opts, ws.ReconnectOption(cfg.Reconnect.InitialDelay.Std(), cfg.Reconnect.MaxDelay.Std(), cfg.Reconnect.MaxAttempts))
		}
		return ws.New(cfg.URL, opts...), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}

// openStore returns nil when sessions are not persisted.
func openStore(ctx context.Context, cfg config.SessionConfig) (storage.Store, error) {
	switch cfg.Storage {
	case "", "none":
		return nil, nil
	case "memory":
		return storage.NewMemory(), nil
	case "redis":
		s, err := storage.DialRedis(ctx, cfg.RedisAddr,
			storage.WithRedisPrefix(cfg.RedisPrefix),
			storage.WithRedisTTL(cfg.RedisTTL.Std()),
		)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown session storage %q", cfg.Storage)
}

func newPolicy(cfg config.SessionConfig) jstp.SessionPolicy {
	if cfg.Policy == "drop" {
		return jstp.NewDropSessionPolicy(cfg.Key)
	}
	return jstp.NewSimpleSessionPolicy(cfg.Key)
}

// serveMetrics exposes reg on /metrics until the returned server is shut
// down. It returns the bound address.
func serveMetrics(addr string, reg *prometheus.Registry, logger jstp.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "metrics listen failed (%s)", addr)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return srv, ln.Addr(), nil
}
