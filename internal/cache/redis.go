package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RoomChannelPrefix prefixes the pub/sub channel of every chat room.
const RoomChannelPrefix = "chat:room:"

type RedisClient struct {
	client *redis.Client
}

// Presence is a user's last known connection state.
type Presence struct {
	UserID   uuid.UUID `json:"userId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Presence Management

// SetUserOnline marks a user online. The key expires so crashed instances
// do not leave users online forever.
func (r *RedisClient) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	return r.setPresence(ctx, userID, "online", 5*time.Minute)
}

// SetUserOffline sets a user as offline
func (r *RedisClient) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	return r.setPresence(ctx, userID, "offline", 24*time.Hour)
}

func (r *RedisClient) setPresence(ctx context.Context, userID uuid.UUID, status string, ttl time.Duration) error {
	data, err := json.Marshal(Presence{UserID: userID, Status: status, LastSeen: time.Now()})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, presenceKey(userID), data, ttl).Err()
}

// GetUserPresence gets a user's presence
func (r *RedisClient) GetUserPresence(ctx context.Context, userID uuid.UUID) (*Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return &Presence{UserID: userID, Status: "offline", LastSeen: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}

	var presence Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, err
	}
	return &presence, nil
}

func presenceKey(userID uuid.UUID) string {
	return "presence:user:" + userID.String()
}

// Typing Indicators

// SetTyping sets a user as typing in a chat
func (r *RedisClient) SetTyping(ctx context.Context, chatID, userID uuid.UUID) error {
	key := typingKey(chatID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, userID.String())
	pipe.Expire(ctx, key, time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveTyping removes a user from typing in a chat
func (r *RedisClient) RemoveTyping(ctx context.Context, chatID, userID uuid.UUID) error {
	return r.client.SRem(ctx, typingKey(chatID), userID.String()).Err()
}

// GetTypingUsers gets all users typing in a chat
func (r *RedisClient) GetTypingUsers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, typingKey(chatID)).Result()
	if err != nil {
		return nil, err
	}

	userIDs := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		userID, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

func typingKey(chatID uuid.UUID) string {
	return "typing:" + chatID.String()
}

// Pub/Sub

// PublishRoom publishes a frame to every instance serving the chat room.
func (r *RedisClient) PublishRoom(ctx context.Context, chatID uuid.UUID, data []byte) error {
	return r.client.Publish(ctx, RoomChannelPrefix+chatID.String(), data).Err()
}

// SubscribeRooms subscribes to every chat room channel.
func (r *RedisClient) SubscribeRooms(ctx context.Context) *redis.PubSub {
	return r.client.PSubscribe(ctx, RoomChannelPrefix+"*")
}

// RoomFromChannel extracts the chat id from a room channel name.
func RoomFromChannel(channel string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimPrefix(channel, RoomChannelPrefix))
}

// Locks

// TryLock sets key to a random token if it is absent. The returned token
// must be passed to Unlock.
func (r *RedisClient) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Unlock releases key only if it still holds token.
func (r *RedisClient) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, r.client, []string{key}, token).Err()
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// AllowAction implements a Redis-backed token-bucket limiter per key (user+action).
// Returns true if the action is allowed, false if rate-limited.
func (r *RedisClient) AllowAction(ctx context.Context, userID uuid.UUID, action string, rate int, burst int) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", action, userID.String())
	now := time.Now().UnixMilli()
	res, err := allowScript.Run(ctx, r.client, []string{key}, rate, burst, now).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}

var allowScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local vals = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(vals[1])
local last = tonumber(vals[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end
local delta = math.max(0, now - last)
local new_tokens = math.min(burst, tokens + (delta * rate / 1000))
local allowed = 0
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	allowed = 1
end
redis.call('HSET', key, 'tokens', new_tokens, 'last', now)
redis.call('PEXPIRE', key, 60000)
return allowed
`)
