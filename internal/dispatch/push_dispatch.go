package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-pool/internal/models"
)

// PushDispatcher tries a live websocket session first and falls back to
// the HTTP push endpoint.
type PushDispatcher struct {
	WS     *WSRegistry
	HTTP   *HTTPPusher // optional
	Logger *slog.Logger
}

func NewPushDispatcher(endpoint, key string, ws *WSRegistry, logger *slog.Logger) *PushDispatcher {
	p := &PushDispatcher{WS: ws, Logger: logger}
	if endpoint != "" {
		p.HTTP = NewHTTPPusher(endpoint, key)
	}
	return p
}

func (p *PushDispatcher) Notify(ctx context.Context, userID string, n models.Notification) error {
	if p.WS != nil {
		err := p.WS.Notify(ctx, userID, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) && p.Logger != nil {
			p.Logger.Warn("ws delivery failed, falling back", "user_id", userID, "err", err)
		}
	}
	if p.HTTP == nil {
		return ErrNoSession
	}
	return p.HTTP.Notify(ctx, userID, n)
}
