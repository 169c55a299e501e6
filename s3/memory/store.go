package memory

import (
	"context"
	"sync"

	"github.com/code-payments/premium-server/s3"
)

type store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemory() s3.Store {
	return &store{
		data: make(map[string][]byte),
	}
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)
}

func (s *store) Upload(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *store) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[key]
	if !exists {
		return nil, s3.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
