package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamWriteTimeout = 10 * time.Second

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimSpace(origin)] = struct{}{}
	}
	_, wildcard := allowed["*"]
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || wildcard {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleClimbLogStream upgrades to a websocket and forwards the user's climb log changes
// as JSON text frames in delivery order. The subscription is registered before the
// handshake completes so no change committed after the client connects is missed.
func (h *httpHandler) handleClimbLogStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, unsubscribe := h.realtime.Subscribe(streamCtx, userID)
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("climb log stream upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	readTimeout := 2 * h.pingInterval
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("climb log stream opened", zap.String("user_id", userID))
	defer h.logger.Info("climb log stream closed", zap.String("user_id", userID))

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(change); err != nil {
				h.logger.Info("climb log stream write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
