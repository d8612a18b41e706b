// Package notify delivers edit sessions to their audience.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joescharf/trackwatch/internal/models"
)

// Sink delivers sessions in order and reports the outcome of each.
type Sink interface {
	Deliver(ctx context.Context, sessions []models.EditSession) []DeliveryResult
}

// DeliveryResult is the outcome for one session. Err is nil on success.
type DeliveryResult struct {
	Session models.EditSession
	Err     error
}

// Delivered counts successful results.
func Delivered(results []DeliveryResult) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Errors joins the failures in results, or returns nil.
func Errors(results []DeliveryResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes sessions to a structured logger. It never fails.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, sessions []models.EditSession) []DeliveryResult {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]DeliveryResult, len(sessions))
	for i, sess := range sessions {
		logger.Info("edit session",
			"issue", sess.Issue.Key(),
			"updater", sess.Updater,
			"updated", sess.Updated,
			"summary", sess.Summary(),
		)
		results[i] = DeliveryResult{Session: sess}
	}
	return results
}
