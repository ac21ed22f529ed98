package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Zereker/jstp"
)

// Handler upgrades requests and passes each connection to serve. The
// connection is closed when serve returns or the request context is done.
type Handler struct {
	upgrader websocket.Upgrader
	serve    func(ctx context.Context, conn *Conn)
	logger   jstp.Logger
	maxSize  int64
}

// NewHandler creates a Handler. Origins are not checked.
func NewHandler(serve func(ctx context.Context, conn *Conn), logger jstp.Logger) *Handler {
	if logger == nil {
		logger = jstp.DefaultLogger()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		serve:   serve,
		logger:  logger,
		maxSize: defaultMaxMessageSize,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	conn := newConn(c, h.maxSize)
	defer conn.Close()

	h.logger.Debug("accepted websocket", "remote_addr", conn.RemoteAddr())
	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	h.serve(ctx, conn)
}
