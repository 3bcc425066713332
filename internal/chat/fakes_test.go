package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/auth"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/push"
)

type fakeVerifier struct {
	claims map[string]*auth.Claims
}

func (f *fakeVerifier) Verify(token string) (*auth.Claims, error) {
	if c, ok := f.claims[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeSessions struct {
	active map[uuid.UUID]bool
	calls  int
}

func (f *fakeSessions) IsSessionActive(_ context.Context, id uuid.UUID) (bool, error) {
	f.calls++
	return f.active[id], nil
}

type fakeChats struct {
	chats map[uuid.UUID]*models.ChatWithParticipants
	calls int
	err   error
}

func (f *fakeChats) GetChatWithParticipants(_ context.Context, chatID, userID uuid.UUID) (*models.ChatWithParticipants, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.chats[chatID]
	if !ok {
		return nil, apperrors.NotFound("chat not found")
	}
	for _, p := range c.Participants {
		if p.ID == userID {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("chat not found")
}

type fakeImages struct{}

func (fakeImages) PublicURL(dir, fileName string) string {
	return "https://cdn.test/" + dir + "/" + fileName
}

type emitted struct {
	ChatID  uuid.UUID
	Except  uuid.UUID
	Event   string
	Payload any
}

// recorder captures every side effect of the relay in call order.
type recorder struct {
	mu      sync.Mutex
	steps   []string
	msgs    []*models.Message
	emits   []emitted
	unread  map[uuid.UUID]bool
	uploads map[string][]byte
	pushes  []push.Notification

	failCreate bool
	failUpload bool
	failEmit   bool
}

func newRecorder() *recorder {
	return &recorder{unread: map[uuid.UUID]bool{}, uploads: map[string][]byte{}}
}

func (r *recorder) step(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recorder) Create(_ context.Context, m *models.Message) error {
	r.step("persist")
	if r.failCreate {
		return errors.New("db down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) SetUnread(_ context.Context, _ uuid.UUID, userID uuid.UUID, unread bool) error {
	r.step("unread")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread[userID] = unread
	return nil
}

func (r *recorder) Upload(_ context.Context, data []byte, dir, fileName, _ string) error {
	r.step("upload")
	if r.failUpload {
		return apperrors.Storage("failed to upload object", errors.New("denied"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[dir+"/"+fileName] = data
	return nil
}

func (r *recorder) PresignGet(_ context.Context, dir, fileName string) (string, error) {
	return "https://signed.test/" + dir + "/" + fileName + "?sig=1", nil
}

func (r *recorder) Emit(_ context.Context, chatID, except uuid.UUID, event string, payload any) error {
	r.step("relay")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failEmit {
		return errors.New("redis publish failed")
	}
	r.emits = append(r.emits, emitted{ChatID: chatID, Except: except, Event: event, Payload: payload})
	return nil
}

func (r *recorder) Send(_ context.Context, n []push.Notification) {
	r.step("push")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, n...)
}

type fakeTyping struct {
	typing map[uuid.UUID]bool
}

func (f *fakeTyping) SetTyping(_ context.Context, _, userID uuid.UUID) error {
	f.typing[userID] = true
	return nil
}

func (f *fakeTyping) RemoveTyping(_ context.Context, _, userID uuid.UUID) error {
	delete(f.typing, userID)
	return nil
}
