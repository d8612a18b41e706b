package notify

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

	"github.com/joescharf/trackwatch/internal/models"
)

// WebhookSink posts one Slack-compatible message per session to an incoming
// webhook URL.
type WebhookSink struct {
	url     string
	channel string
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookSink returns a sink posting to url. channel overrides the
// webhook's default channel when set. A nil client uses a 10s timeout.
func NewWebhookSink(url, channel string, client *http.Client, logger *slog.Logger) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{url: url, channel: channel, client: client, logger: logger}
}

// WebhookError reports a rejected post.
type WebhookError struct {
	Issue string
	Code  int
	Body  string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("deliver %s: webhook status %d: %s", e.Issue, e.Code, e.Body)
}

func (s *WebhookSink) Deliver(ctx context.Context, sessions []models.EditSession) []DeliveryResult {
	results := make([]DeliveryResult, len(sessions))
	for i, sess := range sessions {
		err := s.post(ctx, sess)
		if err != nil {
			s.logger.Warn("session delivery failed", "issue", sess.Issue.Key(), "error", err)
		}
		results[i] = DeliveryResult{Session: sess, Err: err}
	}
	return results
}

func (s *WebhookSink) post(ctx context.Context, sess models.EditSession) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver %s: %w", sess.Issue.Key(), err)
	}

	msg := NewMessage(sess)
	msg.Channel = s.channel
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", sess.Issue.Key(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", sess.Issue.Key(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &WebhookError{Issue: sess.Issue.Key(), Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
