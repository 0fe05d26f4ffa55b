// Package ws serves the websocket change stream. Each connected session
// receives the same events the SSE stream carries; the session registry is
// also the presence source behind friends' online flags.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tahahasan7/yalla-server/cache"
	"github.com/tahahasan7/yalla-server/changefeed"
	"github.com/tahahasan7/yalla-server/config"
	mw "github.com/tahahasan7/yalla-server/middleware"
	"github.com/tahahasan7/yalla-server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	db       *gorm.DB
	cache    cache.Cache
	ps       cache.PubSub
	sec      config.SecurityConfig
	registry *Registry
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket Handler. sec.AllowedOrigins controls which
// origins are accepted; an empty slice permits all (development only).
func NewHandler(
	db *gorm.DB,
	c cache.Cache,
	ps cache.PubSub,
	sec config.SecurityConfig,
	registry *Registry,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		db:       db,
		cache:    c,
		ps:       ps,
		sec:      sec,
		registry: registry,
		router:   router,
		logger:   logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	var user model.User
	if err := h.db.First(&user, claims.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := NewUserSession(user.ID, user.Username, conn, h.logger)
	h.registry.Register(sess)
	go h.forwardChanges(sess)
	h.readPump(sess)
}

// forwardChanges subscribes to the user's change channels and forwards each
// event to the session. It exits when the session closes.
func (h *Handler) forwardChanges(s *UserSession) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.Done
		cancel()
	}()

	ch, unsub, err := h.ps.Subscribe(ctx,
		changefeed.FriendshipChannel(s.UserID),
		changefeed.GoalLogChannel(s.UserID),
		changefeed.UsersChannel)
	if err != nil {
		h.logger.Error("ws change subscription failed",
			zap.Int64("user_id", s.UserID), zap.Error(err))
		return
	}
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := changefeed.Decode(msg.Payload)
			if err != nil {
				h.logger.Warn("dropping malformed change event", zap.Error(err))
				continue
			}
			s.Send(&Packet{Type: packetType(msg.Channel, ev), Payload: json.RawMessage(msg.Payload)})
		}
	}
}

func packetType(channel string, ev changefeed.Event) string {
	switch {
	case channel == changefeed.UsersChannel:
		return "user_change"
	case ev.Table == "goal_logs":
		return "goal_log"
	default:
		return "friendship_change"
	}
}

// readPump reads messages from the connection and dispatches them until the
// connection closes.
func (h *Handler) readPump(s *UserSession) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", s.UserID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

func (h *Handler) handleDisconnect(s *UserSession) {
	s.Close()
	h.registry.Unregister(s)
}
