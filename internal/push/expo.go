// Package push delivers notifications through the Expo push service.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yakka/backend/internal/observability"
)

const (
	DefaultURL = "https://exp.host/--/api/v2/push/send"
	chunkSize  = 100
)

// Notification is one push message addressed to a device token.
type Notification struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

type ticket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type sendResponse struct {
	Data   []ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoSender posts notifications to the Expo API. Delivery failures are
// logged and counted, never returned.
type ExpoSender struct {
	url         string
	accessToken string
	httpClient  *http.Client
	log         *observability.Logger
}

func NewExpoSender(url, accessToken string) *ExpoSender {
	if url == "" {
		url = DefaultURL
	}
	return &ExpoSender{
		url:         url,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         observability.GlobalLogger.With("push"),
	}
}

// IsExpoPushToken reports whether token looks like an Expo device token.
func IsExpoPushToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

// Send drops notifications without a valid token and posts the rest in
// chunks of 100.
func (s *ExpoSender) Send(ctx context.Context, notifications []Notification) {
	valid := make([]Notification, 0, len(notifications))
	for _, n := range notifications {
		if !IsExpoPushToken(n.To) {
			if n.To != "" {
				s.log.WarnContext(ctx, "skipping invalid push token")
			}
			continue
		}
		if n.Sound == "" {
			n.Sound = "default"
		}
		valid = append(valid, n)
	}

	for start := 0; start < len(valid); start += chunkSize {
		end := start + chunkSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]
		if err := s.sendChunk(ctx, chunk); err != nil {
			observability.PushFailures.Add(float64(len(chunk)))
			s.log.ErrorContext(ctx, "push chunk failed",
				slog.Int("count", len(chunk)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *ExpoSender) sendChunk(ctx context.Context, chunk []Notification) error {
	body, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to encode notifications: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notifications: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("push request rejected: %s", parsed.Errors[0].Message)
	}

	for _, t := range parsed.Data {
		if t.Status == "error" {
			observability.PushFailures.Inc()
			s.log.WarnContext(ctx, "push ticket error",
				slog.String("message", t.Message),
				slog.String("detail", t.Details.Error),
			)
		}
	}
	return nil
}
