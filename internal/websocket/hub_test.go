package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/yakka/backend/internal/cache"
	"github.com/yakka/backend/internal/chat"
	"github.com/yakka/backend/internal/models"
)

func newTestClient(chatID, userID uuid.UUID) *Client {
	sess := chat.NewSession(chatID, chat.Participant{ID: userID}, chat.Participant{ID: uuid.New()}, make([]byte, 32))
	return &Client{session: sess, send: make(chan []byte, 4)}
}

func receive(t *testing.T, c *Client) models.WSMessage {
	t.Helper()
	select {
	case b := <-c.send:
		var msg models.WSMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return models.WSMessage{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubEmitSkipsSender(t *testing.T) {
	h := NewHub(nil)
	chatID := uuid.New()
	alice, bob := uuid.New(), uuid.New()

	aliceClient := newTestClient(chatID, alice)
	bobClient := newTestClient(chatID, bob)
	otherRoom := newTestClient(uuid.New(), bob)
	h.addClient(aliceClient)
	h.addClient(bobClient)
	h.addClient(otherRoom)

	if err := h.Emit(context.Background(), chatID, alice, models.EventTyping, models.WSTypingPayload{SenderID: alice}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	msg := receive(t, bobClient)
	if msg.Event != models.EventTyping {
		t.Fatalf("unexpected event %q", msg.Event)
	}
	var payload models.WSTypingPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.SenderID != alice {
		t.Fatalf("unexpected payload %s", msg.Payload)
	}
	expectNothing(t, aliceClient)
	expectNothing(t, otherRoom)
}

func TestHubRemoveClient(t *testing.T) {
	h := NewHub(nil)
	chatID := uuid.New()
	c := newTestClient(chatID, uuid.New())
	h.addClient(c)

	if got := h.RoomSize(chatID); got != 1 {
		t.Fatalf("room size = %d, want 1", got)
	}
	if !h.removeClient(c) {
		t.Fatalf("expected client to be removed")
	}
	if h.removeClient(c) {
		t.Fatalf("second remove should be a no-op")
	}
	if got := h.RoomSize(chatID); got != 0 {
		t.Fatalf("room size = %d, want 0", got)
	}
	if _, ok := <-c.send; ok {
		t.Fatalf("send channel should be closed")
	}
}

func TestHubDropsWhenClientIsSlow(t *testing.T) {
	h := NewHub(nil)
	chatID := uuid.New()
	slow := &Client{
		session: chat.NewSession(chatID, chat.Participant{ID: uuid.New()}, chat.Participant{ID: uuid.New()}, nil),
		send:    make(chan []byte, 1),
	}
	h.addClient(slow)

	for i := 0; i < 3; i++ {
		if err := h.Emit(context.Background(), chatID, uuid.Nil, models.EventStopTyping, nil); err != nil {
			t.Fatalf("Emit error: %v", err)
		}
	}
	if got := len(slow.send); got != 1 {
		t.Fatalf("buffered frames = %d, want 1", got)
	}
}

func TestHubFanOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newRedis := func() *cache.RedisClient {
		rc, err := cache.NewRedisClient(mr.Addr(), "", 0)
		if err != nil {
			t.Fatalf("redis: %v", err)
		}
		t.Cleanup(func() { rc.Close() })
		return rc
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewHub(newRedis())
	b := NewHub(newRedis())
	go a.Run(ctx)
	go b.Run(ctx)

	chatID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	aliceClient := newTestClient(chatID, alice)
	bobClient := newTestClient(chatID, bob)
	a.register <- aliceClient
	b.register <- bobClient
	waitFor(t, func() bool { return a.RoomSize(chatID) == 1 && b.RoomSize(chatID) == 1 })

	if err := a.Emit(ctx, chatID, alice, models.EventPrivateMessage, models.WSPrivateMessageOut{Content: "hi", SenderID: alice}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	msg := receive(t, bobClient)
	if msg.Event != models.EventPrivateMessage {
		t.Fatalf("unexpected event %q", msg.Event)
	}
	expectNothing(t, aliceClient)

	if !b.IsUserOnline(bob) || b.IsUserOnline(alice) {
		t.Fatalf("presence is per instance")
	}
}

func newTestRedis(t *testing.T, mr *miniredis.Miniredis) *cache.RedisClient {
	t.Helper()
	rc, err := cache.NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { rc.Close() })
	return rc
}

func presenceOf(t *testing.T, rc *cache.RedisClient, userID uuid.UUID) string {
	t.Helper()
	p, err := rc.GetUserPresence(context.Background(), userID)
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	return p.Status
}

func TestHubOfflineOnlyAfterLastSocket(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := newTestRedis(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(rc)
	go h.Run(ctx)

	user := uuid.New()
	first := newTestClient(uuid.New(), user)
	second := newTestClient(uuid.New(), user)
	h.register <- first
	h.register <- second
	waitFor(t, func() bool { return presenceOf(t, rc, user) == "online" })

	h.unregister <- first
	waitFor(t, func() bool { return h.RoomSize(first.session.ChatID()) == 0 })
	// a later register is processed after the unregister above
	h.register <- newTestClient(uuid.New(), uuid.New())
	if got := presenceOf(t, rc, user); got != "online" {
		t.Fatalf("presence = %q with a socket still open, want online", got)
	}

	h.unregister <- second
	waitFor(t, func() bool { return presenceOf(t, rc, user) == "offline" })
}

func TestHubTouchExtendsPresence(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := newTestRedis(t, mr)
	h := NewHub(rc)
	user := uuid.New()

	if err := rc.SetUserOnline(context.Background(), user); err != nil {
		t.Fatalf("SetUserOnline: %v", err)
	}
	mr.FastForward(4 * time.Minute)
	h.touch(user)
	mr.FastForward(4 * time.Minute)

	if got := presenceOf(t, rc, user); got != "online" {
		t.Fatalf("presence = %q after refresh, want online", got)
	}
}

func TestHubDeliversLocallyWhenSubscribeFails(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := newTestRedis(t, mr)
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(rc)
	go h.Run(ctx)

	chatID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	aliceClient := newTestClient(chatID, alice)
	bobClient := newTestClient(chatID, bob)
	h.register <- aliceClient
	h.register <- bobClient
	waitFor(t, func() bool { return h.RoomSize(chatID) == 2 })

	if err := h.Emit(ctx, chatID, alice, models.EventPrivateMessage, models.WSPrivateMessageOut{Content: "hi", SenderID: alice}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	msg := receive(t, bobClient)
	if msg.Event != models.EventPrivateMessage {
		t.Fatalf("unexpected event %q", msg.Event)
	}
	expectNothing(t, aliceClient)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern, origin string
		want            bool
	}{
		{"https://app.yakka.app", "https://app.yakka.app", true},
		{"*.yakka.app", "https://web.yakka.app", true},
		{"*.yakka.app", "https://evilyakka.app", false},
		{"*.yakka.app", "https://yakka.app.evil.com", false},
		{"http://localhost:3000", "http://localhost:4000", false},
		{"*", "https://anything.test", true},
	}
	for _, tt := range tests {
		if got := matchOrigin(tt.pattern, tt.origin); got != tt.want {
			t.Errorf("matchOrigin(%q, %q) = %v, want %v", tt.pattern, tt.origin, got, tt.want)
		}
	}
}
