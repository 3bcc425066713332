package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/chat"
	"github.com/yakka/backend/internal/observability"
	"golang.org/x/time/rate"
)

// Authenticator admits a connection to one chat.
type Authenticator interface {
	Authenticate(ctx context.Context, token, chatID string) (*chat.Session, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub               *Hub
	gate              Authenticator
	relay             EventRelay
	upgrader          websocket.Upgrader
	allowedOrigins    []string
	messagesPerSecond int
	log               *observability.Logger
}

// NewHandler creates a new WebSocket handler. Connections without an Origin
// header (native clients) are always accepted; browser origins must match
// allowedOrigins when it is non-empty.
func NewHandler(hub *Hub, gate Authenticator, relay EventRelay, allowedOrigins []string, messagesPerSecond int) *Handler {
	h := &Handler{
		hub:               hub,
		gate:              gate,
		relay:             relay,
		allowedOrigins:    allowedOrigins,
		messagesPerSecond: messagesPerSecond,
		log:               observability.GlobalLogger.With("websocket_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// HandleWebSocket authenticates the handshake and upgrades the connection.
// The token comes from the token query parameter or a Bearer header, the
// chat from the chatId query parameter.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}

	sess, err := h.gate.Authenticate(c.Request.Context(), token, c.Query("chatId"))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": string(apperrors.CodeInvalidToken)})
		case errors.Is(err, apperrors.ErrInvalidChatID):
			c.JSON(http.StatusForbidden, gin.H{"error": string(apperrors.CodeInvalidChatID)})
		default:
			h.log.ErrorContext(c.Request.Context(), "handshake failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	var limiter *rate.Limiter
	if h.messagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.messagesPerSecond), h.messagesPerSecond*2)
	}

	client := NewClient(h.hub, conn, sess, h.relay, limiter)

	// Register client
	h.hub.register <- client

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}

// GetPresence reports whether a user is connected on this instance.
func (h *Handler) GetPresence(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	online := h.hub.IsUserOnline(userID)
	if !online && h.hub.redis != nil {
		if p, err := h.hub.redis.GetUserPresence(c.Request.Context(), userID); err == nil {
			online = p.Status == "online"
		}
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, pattern := range h.allowedOrigins {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == "*" || pattern == origin {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}

	originHost := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		originHost = u.Hostname()
	}
	suffix := strings.TrimPrefix(pattern, "*")
	return strings.HasSuffix(originHost, suffix)
}
