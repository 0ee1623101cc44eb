// Package dispatch delivers ride notifications to drivers and passengers.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/ride-pool/internal/models"
)

// Notifier hands a notification to a user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

// LogNotifier only logs notifications. Used when no push backend is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, userID string, n models.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "user_id", userID, "type", n.Type, "ride_id", n.RideID, "message", n.Message)
	return nil
}

// NewNotifier returns a PushDispatcher when a websocket registry or push
// endpoint is available and a LogNotifier otherwise.
func NewNotifier(endpoint, key string, ws *WSRegistry, logger *slog.Logger) Notifier {
	if endpoint == "" && ws == nil {
		return &LogNotifier{Logger: logger}
	}
	return NewPushDispatcher(endpoint, key, ws, logger)
}
