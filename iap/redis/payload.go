package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/code-payments/premium-server/iap"
)

const keyPrefix = "premium:payload"

type payloadStore struct {
	rdb *goredis.Client
}

func NewPayloadsInRedis(rdb *goredis.Client) iap.PayloadStore {
	return &payloadStore{rdb: rdb}
}

func pendingKey(owner, sku string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, owner, sku)
}

func (s *payloadStore) reset() {
	ctx := context.Background()

	keys, err := s.rdb.Keys(ctx, keyPrefix+":*").Result()
	if err != nil {
		panic(err)
	}
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		panic(err)
	}
}

func (s *payloadStore) PutPending(ctx context.Context, owner, sku, payload string, ttl time.Duration) error {
	// go-redis treats a zero expiration as "no expiry".
	return s.rdb.Set(ctx, pendingKey(owner, sku), payload, ttl).Err()
}

func (s *payloadStore) GetPending(ctx context.Context, owner, sku string) (string, error) {
	payload, err := s.rdb.Get(ctx, pendingKey(owner, sku)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", iap.ErrNotFound
	} else if err != nil {
		return "", err
	}
	return payload, nil
}

func (s *payloadStore) ClearPending(ctx context.Context, owner, sku string) error {
	return s.rdb.Del(ctx, pendingKey(owner, sku)).Err()
}
