// Package moderator runs the periodic moderation sweep over chat messages.
package moderator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yakka/backend/internal/envelope"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/observability"
	"github.com/yakka/backend/internal/push"
)

const sweepLockKey = "lock:moderation-sweep"

type Store interface {
	FetchUnscannedTextMessages(ctx context.Context) ([]models.ScanCandidate, error)
	GetWordLists(ctx context.Context) (*models.WordLists, error)
	ApplySweep(ctx context.Context, out models.SweepOutcome) ([]uuid.UUID, error)
}

type KeyUnwrapper interface {
	Unwrap(wrapped string) ([]byte, error)
}

type Notifier interface {
	Send(ctx context.Context, notifications []push.Notification)
}

// Locker serializes sweeps across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// SweepResult summarizes one cycle.
type SweepResult struct {
	Scanned int
	Flagged int
	Failed  int
	Banned  []uuid.UUID
}

// Sweeper scans unscanned TEXT messages against the moderation word lists.
type Sweeper struct {
	store    Store
	vault    KeyUnwrapper
	notifier Notifier
	locker   Locker
	interval time.Duration
	log      *observability.Logger
	now      func() time.Time
}

func NewSweeper(store Store, vault KeyUnwrapper, notifier Notifier, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		vault:    vault,
		notifier: notifier,
		interval: interval,
		log:      observability.GlobalLogger.With("moderation_sweep"),
		now:      time.Now,
	}
}

// WithLocker makes Run skip ticks another instance already holds.
func (s *Sweeper) WithLocker(l Locker) *Sweeper {
	s.locker = l
	return s
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("moderation sweep started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("moderation sweep stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.SweepRuns.WithLabelValues("panic").Inc()
			s.log.ErrorContext(ctx, "moderation sweep panicked", slog.Any("panic", r))
		}
	}()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			s.log.WarnContext(ctx, "sweep lock unavailable, sweeping anyway", slog.String("error", err.Error()))
		} else if !ok {
			observability.SweepRuns.WithLabelValues("skipped").Inc()
			return
		} else {
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
					s.log.WarnContext(ctx, "failed to release sweep lock", slog.String("error", err.Error()))
				}
			}()
		}
	}

	res, err := s.RunOnce(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "moderation sweep failed", slog.String("error", err.Error()))
		return
	}
	if res.Scanned > 0 {
		s.log.InfoContext(ctx, "moderation sweep finished",
			slog.Int("scanned", res.Scanned),
			slog.Int("flagged", res.Flagged),
			slog.Int("failed", res.Failed),
			slog.Int("banned", len(res.Banned)),
		)
	}
}

// RunOnce performs one sweep cycle. Shared state is only changed by the
// single ApplySweep transaction; on error nothing was committed and the
// same messages are picked up again next cycle.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	candidates, err := s.store.FetchUnscannedTextMessages(ctx)
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	res := &SweepResult{Banned: []uuid.UUID{}}
	if len(candidates) == 0 {
		observability.SweepRuns.WithLabelValues("empty").Inc()
		return res, nil
	}

	lists, err := s.store.GetWordLists(ctx)
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load word lists: %w", err)
	}
	flagged := NewMatcher(lists.Flagged)
	autoBan := NewMatcher(lists.AutoBan)

	out := models.SweepOutcome{Now: s.now().UTC()}
	keys := map[uuid.UUID][]byte{}
	banSet := map[uuid.UUID]bool{}
	pushTokens := map[uuid.UUID]string{}

	for _, c := range candidates {
		out.ScannedIDs = append(out.ScannedIDs, c.MessageID)

		text, err := s.decrypt(c, keys)
		if err != nil {
			res.Failed++
			s.log.ErrorContext(ctx, "failed to decrypt message for moderation",
				slog.String("message_id", c.MessageID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		if flagged.Match(text) {
			out.FlaggedIDs = append(out.FlaggedIDs, c.MessageID)
		}
		if autoBan.Match(text) && !banSet[c.SenderID] {
			banSet[c.SenderID] = true
			out.BanUserIDs = append(out.BanUserIDs, c.SenderID)
		}
		if c.SenderPushToken != nil && *c.SenderPushToken != "" {
			pushTokens[c.SenderID] = *c.SenderPushToken
		}
	}

	banned, err := s.store.ApplySweep(ctx, out)
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to apply sweep: %w", err)
	}

	res.Scanned = len(out.ScannedIDs)
	res.Flagged = len(out.FlaggedIDs)
	res.Banned = banned
	observability.SweepRuns.WithLabelValues("ok").Inc()
	observability.ModerationOutcomes.WithLabelValues("scanned").Add(float64(res.Scanned))
	observability.ModerationOutcomes.WithLabelValues("flagged").Add(float64(res.Flagged))
	observability.ModerationOutcomes.WithLabelValues("failed").Add(float64(res.Failed))
	observability.ModerationOutcomes.WithLabelValues("banned").Add(float64(len(banned)))

	s.notifyBanned(ctx, banned, pushTokens)
	return res, nil
}

func (s *Sweeper) decrypt(c models.ScanCandidate, keys map[uuid.UUID][]byte) (string, error) {
	key, ok := keys[c.ChatID]
	if !ok {
		var err error
		key, err = s.vault.Unwrap(c.WrappedKey)
		if err != nil {
			return "", err
		}
		keys[c.ChatID] = key
	}
	return envelope.Decrypt(c.Content, key)
}

func (s *Sweeper) notifyBanned(ctx context.Context, banned []uuid.UUID, tokens map[uuid.UUID]string) {
	if s.notifier == nil || len(banned) == 0 {
		return
	}
	notes := make([]push.Notification, 0, len(banned))
	for _, userID := range banned {
		notes = append(notes, push.Notification{
			To:    tokens[userID],
			Title: "You have been banned",
			Body:  "You have been banned from YAKKA for saying a banned word",
			Data:  map[string]any{"type": "BLACKLISTED"},
		})
	}
	s.notifier.Send(ctx, notes)
}
