package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yakka/backend/internal/cache"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
)

// Hub groups connected clients into one room per chat and delivers room
// events to them. With Redis, events go through pub/sub so every instance
// delivers to its own sockets.
type Hub struct {
	// Registered clients by chat
	rooms map[uuid.UUID]map[*Client]struct{}

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Redis client for pub/sub, nil when running single instance
	redis *cache.RedisClient

	// fanout is set once the room subscription is live. Until then Emit
	// delivers to local sockets only.
	fanout atomic.Bool

	mu  sync.RWMutex
	log *observability.Logger
}

const presenceTimeout = 2 * time.Second

// roomFrame is what travels over Redis between instances.
type roomFrame struct {
	Except uuid.UUID       `json:"except"`
	Frame  json.RawMessage `json:"frame"`
}

// NewHub creates a new Hub. redis may be nil.
func NewHub(redis *cache.RedisClient) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		redis:      redis,
		log:        observability.GlobalLogger.With("websocket_hub"),
	}
}

// Run processes registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.redis != nil {
		sub, err := h.subscribeRooms(ctx)
		if err != nil {
			h.log.Error("failed to subscribe to rooms, delivering to local sockets only",
				slog.String("error", err.Error()),
			)
		} else {
			h.fanout.Store(true)
			go h.consumeRooms(ctx, sub)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.addClient(client)
			if h.redis != nil {
				if err := h.redis.SetUserOnline(ctx, client.userID()); err != nil {
					h.log.WarnContext(ctx, "failed to set presence", slog.String("error", err.Error()))
				}
			}
			h.log.Info("client registered",
				slog.String("chat_id", client.session.ChatID().String()),
				slog.String("user_id", client.userID().String()),
			)

		case client := <-h.unregister:
			if !h.removeClient(client) || h.redis == nil {
				continue
			}
			userID := client.userID()
			_ = h.redis.RemoveTyping(ctx, client.session.ChatID(), userID)
			// the user may still have a socket in another room
			if h.IsUserOnline(userID) {
				continue
			}
			if err := h.redis.SetUserOffline(ctx, userID); err != nil {
				h.log.WarnContext(ctx, "failed to set presence", slog.String("error", err.Error()))
			}
		}
	}
}

// touch extends the presence of a connected user. Called on every pong.
func (h *Hub) touch(userID uuid.UUID) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.redis.SetUserOnline(ctx, userID); err != nil {
		h.log.WarnContext(ctx, "failed to refresh presence", slog.String("error", err.Error()))
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chatID := c.session.ChatID()
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[chatID] = room
	}
	room[c] = struct{}{}
	observability.WebSocketConnections.Inc()
}

// removeClient reports whether c was still registered.
func (h *Hub) removeClient(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	chatID := c.session.ChatID()
	room, ok := h.rooms[chatID]
	if !ok {
		return false
	}
	if _, ok := room[c]; !ok {
		return false
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
	observability.WebSocketConnections.Dec()
	return true
}

// Emit sends event to every socket in the chat room except those of exceptUser.
func (h *Hub) Emit(ctx context.Context, chatID, exceptUser uuid.UUID, event string, payload any) error {
	frame, err := encodeFrame(event, payload, "")
	if err != nil {
		return err
	}

	if h.fanout.Load() {
		data, err := json.Marshal(roomFrame{Except: exceptUser, Frame: frame})
		if err != nil {
			return err
		}
		return h.redis.PublishRoom(ctx, chatID, data)
	}

	h.deliver(chatID, exceptUser, frame)
	return nil
}

func (h *Hub) deliver(chatID, exceptUser uuid.UUID, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		if client.userID() == exceptUser {
			continue
		}
		select {
		case client.send <- frame:
		default:
			// Client's send channel is full, drop the frame
			observability.WebSocketBackpressureDrops.Inc()
		}
	}
}

// subscribeRooms opens the room subscription and waits for Redis to confirm it.
func (h *Hub) subscribeRooms(ctx context.Context) (*redis.PubSub, error) {
	sub := h.redis.SubscribeRooms(ctx)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// consumeRooms delivers frames published by any instance.
func (h *Hub) consumeRooms(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			chatID, err := cache.RoomFromChannel(msg.Channel)
			if err != nil {
				continue
			}
			var rf roomFrame
			if err := json.Unmarshal([]byte(msg.Payload), &rf); err != nil {
				h.log.Warn("dropping malformed room frame", slog.String("error", err.Error()))
				continue
			}
			h.deliver(chatID, rf.Except, rf.Frame)
		}
	}
}

// RoomSize returns the number of local sockets in a chat room.
func (h *Hub) RoomSize(chatID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// IsUserOnline checks if a user has a socket on this instance
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, room := range h.rooms {
		for client := range room {
			if client.userID() == userID {
				return true
			}
		}
	}
	return false
}

func encodeFrame(event string, payload any, correlationID string) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(models.WSMessage{Event: event, Payload: raw, CorrelationID: correlationID})
}
