package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/internal/config"
	"github.com/Zereker/jstp/internal/peer"
	"github.com/Zereker/jstp/jsrs"
	"github.com/Zereker/jstp/transport/tcp"
	"github.com/Zereker/jstp/transport/ws"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local peer for testing clients",
		Long: `Run a local peer for testing clients.

The peer accepts the configured application over TCP and, when
serve.ws_listen is set, over WebSocket. It keeps sessions across
reconnects and provides one interface:

  echo.echo(args...)       returns its arguments
  echo.broadcast(args...)  sends event echo.message to every client

Logins are checked against the auth section when a username is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

// newServePeer creates the peer run by serve.
func newServePeer(cfg config.Config, logger jstp.Logger) *peer.Peer {
	opts := []peer.Option{peer.LoggerOption(logger)}
	if cfg.Auth.Username != "" {
		user, pass := cfg.Auth.Username, cfg.Auth.Password
		opts = append(opts, peer.AuthOption(func(username, password string) bool {
			return username == user && password == pass
		}))
	}

	p := peer.New(cfg.App.Name, opts...)
	p.Handle("echo", "echo", func(args jsrs.Array) (jsrs.Array, error) {
		return args, nil
	})
	p.Handle("echo", "broadcast", func(args jsrs.Array) (jsrs.Array, error) {
		n := p.Emit("echo", "message", args)
		return jsrs.Array{jsrs.Number(n)}, nil
	})
	return p
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	logger := opts.logger(cmd)
	out := cmd.OutOrStdout()

	p := newServePeer(cfg, logger)

	server, err := tcp.Listen(cfg.Serve.Listen,
		tcp.ServerLoggerOption(logger),
		tcp.ServerConnOption(tcp.MessageMaxSize(cfg.Transport.MaxMessageSize)),
	)
	if err != nil {
		return errors.Wrapf(err, "listen failed (%s)", cfg.Serve.Listen)
	}
	defer server.Close()
	fmt.Fprintf(out, "tcp listening on %s\n", server.Addr())

	var wsServer *http.Server
	var wsListener net.Listener
	if cfg.Serve.WSListen != "" {
		wsListener, err = net.Listen("tcp", cfg.Serve.WSListen)
		if err != nil {
			return errors.Wrapf(err, "listen failed (%s)", cfg.Serve.WSListen)
		}
		defer wsListener.Close()

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Handle(cfg.Serve.WSPath, ws.NewHandler(func(ctx context.Context, conn *ws.Conn) {
			if err := p.Serve(ctx, conn); err != nil {
				logger.Debug("client finished", "remote_addr", conn.RemoteAddr(), "error", err)
			}
		}, logger))
		wsServer = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
		fmt.Fprintf(out, "ws listening on ws://%s%s\n", wsListener.Addr(), cfg.Serve.WSPath)
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "jstp",
				Subsystem: "peer",
				Name:      "clients",
				Help:      "Connected clients.",
			}, func() float64 { return float64(p.Clients()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "jstp",
				Subsystem: "peer",
				Name:      "records_received_total",
				Help:      "Records read from clients, heartbeats excluded.",
			}, func() float64 { return float64(p.Received()) }),
		)
		srv, addr, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return err
		}
		defer srv.Close()
		fmt.Fprintf(out, "metrics on http://%s/metrics\n", addr)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(gctx, tcp.HandlerFunc(func(ctx context.Context, conn *tcp.Conn) {
			if err := p.Serve(ctx, conn); err != nil {
				logger.Debug("client finished", "remote_addr", conn.RemoteAddr(), "error", err)
			}
		}))
	})
	if wsServer != nil {
		group.Go(func() error {
			if err := wsServer.Serve(wsListener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			return wsServer.Shutdown(sctx)
		})
	}

	// hijacked websocket connections outlive the http server
	group.Go(func() error {
		<-gctx.Done()
		p.DropAll()
		return nil
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
