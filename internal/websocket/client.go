package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/chat"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Media arrives inline as base64.
	maxMessageSize = 10 << 20

	// Upper bound on one event handler; disconnecting does not cancel it
	handlerTimeout = 30 * time.Second
)

// EventRelay is the chat behaviour a socket drives.
type EventRelay interface {
	SendMessage(ctx context.Context, sess *chat.Session, in chat.SendInput) (*models.Message, error)
	Typing(ctx context.Context, sess *chat.Session, started bool) error
	MarkRead(ctx context.Context, sess *chat.Session) error
}

// Client is one authenticated socket bound to one chat.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	session     *chat.Session
	relay       EventRelay
	limiter     *rate.Limiter
	connectedAt time.Time
	log         *observability.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, session *chat.Session, relay EventRelay, limiter *rate.Limiter) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		session:     session,
		relay:       relay,
		limiter:     limiter,
		connectedAt: time.Now(),
		log:         observability.GlobalLogger.With("websocket_client"),
	}
}

func (c *Client) userID() uuid.UUID {
	return c.session.Sender().ID
}

// ReadPump reads events from the connection and handles them in order.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.touch(c.userID())
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", slog.String("error", err.Error()))
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError("rate_limited", "Too many events", "")
			continue
		}

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming WebSocket messages
func (c *Client) handleMessage(data []byte) {
	var wsMsg models.WSMessage
	if err := json.Unmarshal(data, &wsMsg); err != nil {
		c.sendError(string(apperrors.CodeInvalidArgument), "Invalid message format", "")
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(eventLabel(wsMsg.Event)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch wsMsg.Event {
	case models.EventPrivateMessage:
		c.handlePrivateMessage(ctx, wsMsg)

	case models.EventTyping, models.EventStopTyping:
		if err := c.relay.Typing(ctx, c.session, wsMsg.Event == models.EventTyping); err != nil {
			c.fail(ctx, wsMsg, err)
		}

	case models.EventMessageRead:
		if err := c.relay.MarkRead(ctx, c.session); err != nil {
			c.fail(ctx, wsMsg, err)
		}

	default:
		c.sendError(string(apperrors.CodeInvalidArgument), "Unknown event type", wsMsg.CorrelationID)
	}
}

func (c *Client) handlePrivateMessage(ctx context.Context, wsMsg models.WSMessage) {
	var req models.WSPrivateMessageIn
	if err := json.Unmarshal(wsMsg.Payload, &req); err != nil {
		c.sendError(string(apperrors.CodeInvalidArgument), "Invalid message payload", wsMsg.CorrelationID)
		return
	}

	msg, err := c.relay.SendMessage(ctx, c.session, chat.SendInput{
		Content:       req.Content,
		Type:          req.Type,
		CorrelationID: wsMsg.CorrelationID,
	})
	if err != nil {
		c.fail(ctx, wsMsg, err)
		return
	}

	c.sendEvent(models.EventMessageSent, models.WSMessageSentPayload{
		ID:            msg.ID,
		CorrelationID: wsMsg.CorrelationID,
		SentAt:        msg.CreatedAt,
	}, wsMsg.CorrelationID)
}

// fail logs err and reports it to the client without leaking internals.
func (c *Client) fail(ctx context.Context, wsMsg models.WSMessage, err error) {
	code := apperrors.CodeOf(err)
	c.log.ErrorContext(ctx, "websocket event failed",
		slog.String("event", wsMsg.Event),
		slog.String("chat_id", c.session.ChatID().String()),
		slog.String("code", string(code)),
		slog.String("error", err.Error()),
	)

	message := "Failed to process event"
	var appErr *apperrors.AppError
	if code == apperrors.CodeInvalidArgument && errors.As(err, &appErr) {
		message = appErr.Message
	}
	c.sendError(string(code), message, wsMsg.CorrelationID)
}

func (c *Client) sendEvent(event string, payload any, correlationID string) {
	data, err := encodeFrame(event, payload, correlationID)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		observability.WebSocketBackpressureDrops.Inc()
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(code, message, correlationID string) {
	c.sendEvent(models.EventError, models.WSErrorPayload{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
	}, correlationID)
}

// eventLabel bounds metric cardinality to known event names.
func eventLabel(event string) string {
	switch event {
	case models.EventPrivateMessage, models.EventTyping, models.EventStopTyping, models.EventMessageRead:
		return event
	}
	return "unknown"
}
