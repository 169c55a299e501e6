package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/premium-server/iap"
)

func RunPayloadStoreTests(t *testing.T, s iap.PayloadStore, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.PayloadStore){
		testPayloadStore_HappyPath,
		testPayloadStore_Isolation,
	} {
		tf(t, s)
		teardown()
	}
}

func testPayloadStore_HappyPath(t *testing.T, store iap.PayloadStore) {
	ctx := context.Background()

	_, err := store.GetPending(ctx, "owner", "premium")
	require.Equal(t, iap.ErrNotFound, err)

	require.NoError(t, store.PutPending(ctx, "owner", "premium", "first", 0))
	payload, err := store.GetPending(ctx, "owner", "premium")
	require.NoError(t, err)
	require.Equal(t, "first", payload)

	require.NoError(t, store.PutPending(ctx, "owner", "premium", "second", time.Hour))
	payload, err = store.GetPending(ctx, "owner", "premium")
	require.NoError(t, err)
	require.Equal(t, "second", payload)

	require.NoError(t, store.ClearPending(ctx, "owner", "premium"))
	_, err = store.GetPending(ctx, "owner", "premium")
	require.Equal(t, iap.ErrNotFound, err)

	// Clearing nothing is not an error.
	require.NoError(t, store.ClearPending(ctx, "owner", "premium"))
}

func testPayloadStore_Isolation(t *testing.T, store iap.PayloadStore) {
	ctx := context.Background()

	require.NoError(t, store.PutPending(ctx, "a", "premium", "a-premium", 0))
	require.NoError(t, store.PutPending(ctx, "b", "premium", "b-premium", 0))
	require.NoError(t, store.PutPending(ctx, "a", "coins", "a-coins", 0))

	for _, tc := range []struct{ owner, sku, payload string }{
		{"a", "premium", "a-premium"},
		{"b", "premium", "b-premium"},
		{"a", "coins", "a-coins"},
	} {
		payload, err := store.GetPending(ctx, tc.owner, tc.sku)
		require.NoError(t, err)
		require.Equal(t, tc.payload, payload)
	}

	require.NoError(t, store.ClearPending(ctx, "a", "premium"))
	_, err := store.GetPending(ctx, "a", "premium")
	require.Equal(t, iap.ErrNotFound, err)
	payload, err := store.GetPending(ctx, "b", "premium")
	require.NoError(t, err)
	require.Equal(t, "b-premium", payload)
}

// RunPayloadExpiryTest checks that payloads stop being returned once their ttl
// elapsed. advance moves the store's notion of time forward.
func RunPayloadExpiryTest(t *testing.T, store iap.PayloadStore, advance func(time.Duration)) {
	ctx := context.Background()

	require.NoError(t, store.PutPending(ctx, "owner", "premium", "payload", time.Second))
	payload, err := store.GetPending(ctx, "owner", "premium")
	require.NoError(t, err)
	require.Equal(t, "payload", payload)

	advance(2 * time.Second)

	_, err = store.GetPending(ctx, "owner", "premium")
	require.Equal(t, iap.ErrNotFound, err)
}
