package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/log"
	"github.com/redfoxsec/audit-core/internal/telemetry"
)

// upgrader performs the websocket handshake. Cross-origin policy is
// already enforced by the CORS middleware on the route group.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleLiveLogs streams the telemetry of one target's in-flight audit
// over a websocket. Each viewing session is independent: a reconnect
// starts a fresh accumulation. Closing the socket cancels the
// subscription immediately; the scan itself continues server-side.
func (s *Server) handleLiveLogs(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := log.NewLogger(ctx)

	target, err := s.targets.GetTarget(ctx, ident.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe on the server's base context: the request context ends
	// with the HTTP handshake, not with the socket.
	aggregator, err := telemetry.Open(s.baseCtx, s.broker, target)
	if err != nil {
		logger.Error("could not open telemetry session",
			zap.String("target", target.ID), zap.Error(err))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("telemetry unavailable")) //nolint:errcheck
		return
	}
	defer aggregator.Close()

	// Viewer-side close unsubscribes even mid-stream.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-aggregator.Lines():
			if !ok {
				// Completion or transport drop; either way the session is
				// over and accumulated lines were already delivered.
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
