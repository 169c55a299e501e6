package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/query"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	purchases map[string]*iap.Purchase
}

func NewInMemory() iap.Store {
	return &InMemoryStore{
		purchases: map[string]*iap.Purchase{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchases = make(map[string]*iap.Purchase)
}

func (s *InMemoryStore) CreatePurchase(ctx context.Context, purchase *iap.Purchase) error {
	if purchase.Token == "" {
		return errors.New("purchase token is required")
	}
	if purchase.State != iap.StatePurchased {
		return errors.New("state must be purchased")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.purchases[purchase.Token]
	if ok {
		return iap.ErrExists
	}

	s.purchases[purchase.Token] = purchase.Clone()

	return nil
}

func (s *InMemoryStore) GetPurchase(ctx context.Context, token string) (*iap.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchases[token]
	if !ok {
		return nil, iap.ErrNotFound
	}
	return purchase.Clone(), nil
}

func (s *InMemoryStore) GetOwnedPurchase(ctx context.Context, owner, sku string) (*iap.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *iap.Purchase
	for _, purchase := range s.purchases {
		if purchase.Owner != owner || purchase.Sku != sku || purchase.State != iap.StatePurchased {
			continue
		}
		if latest == nil || purchase.CreatedAt.After(latest.CreatedAt) {
			latest = purchase
		}
	}

	if latest == nil {
		return nil, iap.ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *InMemoryStore) GetPurchases(ctx context.Context, owner string, opts ...query.Option) ([]*iap.Purchase, error) {
	o := query.ApplyOptions(opts...)

	s.mu.RLock()
	var purchases []*iap.Purchase
	for _, purchase := range s.purchases {
		if purchase.Owner == owner && o.After(purchase.CreatedAt, purchase.ReceiptIDString()) {
			purchases = append(purchases, purchase.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(purchases, func(i, j int) bool {
		return o.Less(
			purchases[i].CreatedAt, purchases[i].ReceiptIDString(),
			purchases[j].CreatedAt, purchases[j].ReceiptIDString(),
		)
	})

	if len(purchases) > o.Limit {
		purchases = purchases[:o.Limit]
	}
	return purchases, nil
}

func (s *InMemoryStore) MarkConsumed(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[token]
	if !ok {
		return iap.ErrNotFound
	}
	purchase.State = iap.StateConsumed
	return nil
}
