package notify

import (
	"context"
	"errors"
	"log/slog"
)

// TokenStore removes a stored delivery token.
type TokenStore interface {
	ClearPushToken(ctx context.Context, token string) error
}

// DropExpired wraps a Notifier and clears a rider's stored token when the
// push endpoint reports the subscription gone, so the next operation stops
// addressing it.
type DropExpired struct {
	inner  Notifier
	store  TokenStore
	logger *slog.Logger
}

func NewDropExpired(inner Notifier, store TokenStore, logger *slog.Logger) *DropExpired {
	return &DropExpired{inner: inner, store: store, logger: logger}
}

func (d *DropExpired) Send(ctx context.Context, msg Message) error {
	err := d.inner.Send(ctx, msg)
	if errors.Is(err, ErrTokenExpired) {
		if cerr := d.store.ClearPushToken(ctx, msg.Token); cerr != nil {
			d.logger.Error("failed to clear expired push token", "error", cerr)
		}
	}
	return err
}
