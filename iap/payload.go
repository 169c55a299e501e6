package iap

import (
	"context"
	"time"
)

// PayloadStore remembers the developer payload of in-flight purchase attempts,
// so a completed purchase can be matched against the payload it was started
// with.
type PayloadStore interface {
	// PutPending sets the pending payload for (owner, sku), replacing any
	// previous one. A zero ttl never expires.
	PutPending(ctx context.Context, owner, sku, payload string, ttl time.Duration) error

	// GetPending returns ErrNotFound if there is no pending payload.
	GetPending(ctx context.Context, owner, sku string) (string, error)

	ClearPending(ctx context.Context, owner, sku string) error
}
