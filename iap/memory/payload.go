package memory

import (
	"context"
	"sync"
	"time"

	"github.com/code-payments/premium-server/iap"
)

type pendingPayload struct {
	payload   string
	expiresAt time.Time
}

type InMemoryPayloadStore struct {
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]pendingPayload
}

func NewPayloadsInMemory() iap.PayloadStore {
	return &InMemoryPayloadStore{
		now:     time.Now,
		pending: make(map[string]pendingPayload),
	}
}

func (s *InMemoryPayloadStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = make(map[string]pendingPayload)
}

func (s *InMemoryPayloadStore) PutPending(_ context.Context, owner, sku, payload string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := pendingPayload{payload: payload}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.pending[key(owner, sku)] = entry
	return nil
}

func (s *InMemoryPayloadStore) GetPending(_ context.Context, owner, sku string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(owner, sku)
	entry, ok := s.pending[k]
	if !ok {
		return "", iap.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.pending, k)
		return "", iap.ErrNotFound
	}
	return entry.payload, nil
}

func (s *InMemoryPayloadStore) ClearPending(_ context.Context, owner, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, key(owner, sku))
	return nil
}

func key(owner, sku string) string {
	return owner + "/" + sku
}
