package tests

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/model"
	"github.com/code-payments/premium-server/query"
)

func RunStoreTests(t *testing.T, s iap.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.Store){
		testIapStore_HappyPath,
		testIapStore_OwnedPurchase,
		testIapStore_MarkConsumed,
		testIapStore_GetPurchases,
		testIapStore_GetPurchasesSameCreationTime,
	} {
		tf(t, s)
		teardown()
	}
}

func newPurchase(owner, sku string, createdAt time.Time) *iap.Purchase {
	token := model.MustGeneratePayload()
	return &iap.Purchase{
		ReceiptID: model.ReceiptID(token),
		Owner:     owner,
		Sku:       sku,
		Token:     token,
		OrderID:   "GPA." + token,
		Payload:   model.MustGeneratePayload(),
		Data:      `{"productId":"` + sku + `","purchaseToken":"` + token + `"}`,
		Signature: "c2lnbmF0dXJl",
		State:     iap.StatePurchased,
		CreatedAt: createdAt.Truncate(time.Millisecond),
	}
}

func testIapStore_HappyPath(t *testing.T, store iap.Store) {
	ctx := context.Background()
	expected := newPurchase("owner", "premium", time.Now())

	_, err := store.GetPurchase(ctx, expected.Token)
	require.Equal(t, iap.ErrNotFound, err)

	require.NoError(t, store.CreatePurchase(ctx, expected))

	actual, err := store.GetPurchase(ctx, expected.Token)
	require.NoError(t, err)
	require.Equal(t, expected.ReceiptID, actual.ReceiptID)
	require.Equal(t, expected.Owner, actual.Owner)
	require.Equal(t, expected.Sku, actual.Sku)
	require.Equal(t, expected.Token, actual.Token)
	require.Equal(t, expected.OrderID, actual.OrderID)
	require.Equal(t, expected.Payload, actual.Payload)
	require.Equal(t, expected.Data, actual.Data)
	require.Equal(t, expected.Signature, actual.Signature)
	require.Equal(t, expected.State, actual.State)

	require.Equal(t, iap.ErrExists, store.CreatePurchase(ctx, expected))

	invalid := newPurchase("owner", "premium", time.Now())
	invalid.State = iap.StateConsumed
	require.Error(t, store.CreatePurchase(ctx, invalid))
}

func testIapStore_OwnedPurchase(t *testing.T, store iap.Store) {
	ctx := context.Background()

	_, err := store.GetOwnedPurchase(ctx, "owner", "premium")
	require.Equal(t, iap.ErrNotFound, err)

	now := time.Now()
	older := newPurchase("owner", "premium", now.Add(-time.Hour))
	newer := newPurchase("owner", "premium", now)
	otherSku := newPurchase("owner", "coins", now.Add(time.Hour))
	otherOwner := newPurchase("someone-else", "premium", now.Add(time.Hour))

	for _, p := range []*iap.Purchase{older, newer, otherSku, otherOwner} {
		require.NoError(t, store.CreatePurchase(ctx, p))
	}

	owned, err := store.GetOwnedPurchase(ctx, "owner", "premium")
	require.NoError(t, err)
	require.Equal(t, newer.Token, owned.Token)

	require.NoError(t, store.MarkConsumed(ctx, newer.Token))

	owned, err = store.GetOwnedPurchase(ctx, "owner", "premium")
	require.NoError(t, err)
	require.Equal(t, older.Token, owned.Token)
}

func testIapStore_MarkConsumed(t *testing.T, store iap.Store) {
	ctx := context.Background()

	require.Equal(t, iap.ErrNotFound, store.MarkConsumed(ctx, "missing"))

	p := newPurchase("owner", "premium", time.Now())
	require.NoError(t, store.CreatePurchase(ctx, p))
	require.NoError(t, store.MarkConsumed(ctx, p.Token))

	actual, err := store.GetPurchase(ctx, p.Token)
	require.NoError(t, err)
	require.Equal(t, iap.StateConsumed, actual.State)

	_, err = store.GetOwnedPurchase(ctx, "owner", "premium")
	require.Equal(t, iap.ErrNotFound, err)

	// Consuming twice is not an error.
	require.NoError(t, store.MarkConsumed(ctx, p.Token))
}

func testIapStore_GetPurchases(t *testing.T, store iap.Store) {
	ctx := context.Background()

	purchases, err := store.GetPurchases(ctx, "owner")
	require.NoError(t, err)
	require.Empty(t, purchases)

	now := time.Now()
	var expected []*iap.Purchase
	for i := 0; i < 5; i++ {
		p := newPurchase("owner", "premium", now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.CreatePurchase(ctx, p))
		expected = append(expected, p)
	}
	require.NoError(t, store.CreatePurchase(ctx, newPurchase("someone-else", "premium", now)))
	require.NoError(t, store.MarkConsumed(ctx, expected[0].Token))

	tokens := func(purchases []*iap.Purchase) []string {
		var tokens []string
		for _, p := range purchases {
			tokens = append(tokens, p.Token)
		}
		return tokens
	}

	// Consumed purchases are part of the history
	purchases, err = store.GetPurchases(ctx, "owner")
	require.NoError(t, err)
	require.Equal(t, tokens(expected), tokens(purchases))
	require.Equal(t, iap.StateConsumed, purchases[0].State)

	purchases, err = store.GetPurchases(ctx, "owner", query.WithDescending(), query.WithLimit(2))
	require.NoError(t, err)
	require.Equal(t, []string{expected[4].Token, expected[3].Token}, tokens(purchases))

	purchases, err = store.GetPurchases(ctx, "owner", query.WithDescending(), query.WithCursor(purchases[1].CreatedAt, purchases[1].ReceiptIDString()))
	require.NoError(t, err)
	require.Equal(t, []string{expected[2].Token, expected[1].Token, expected[0].Token}, tokens(purchases))

	purchases, err = store.GetPurchases(ctx, "owner", query.WithCursor(expected[2].CreatedAt, expected[2].ReceiptIDString()), query.WithLimit(1))
	require.NoError(t, err)
	require.Equal(t, []string{expected[3].Token}, tokens(purchases))
}

func testIapStore_GetPurchasesSameCreationTime(t *testing.T, store iap.Store) {
	ctx := context.Background()

	createdAt := time.Now()
	var expected []*iap.Purchase
	for i := 0; i < 5; i++ {
		p := newPurchase("owner", "premium", createdAt)
		require.NoError(t, store.CreatePurchase(ctx, p))
		expected = append(expected, p)
	}
	sort.Slice(expected, func(i, j int) bool {
		return expected[i].ReceiptIDString() < expected[j].ReceiptIDString()
	})

	for _, order := range []query.Order{query.Ascending, query.Descending} {
		var paged []string
		var cursor *iap.Purchase
		for {
			opts := []query.Option{query.WithOrder(order), query.WithLimit(2)}
			if cursor != nil {
				opts = append(opts, query.WithCursor(cursor.CreatedAt, cursor.ReceiptIDString()))
			}

			page, err := store.GetPurchases(ctx, "owner", opts...)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			for _, p := range page {
				paged = append(paged, p.Token)
			}
			cursor = page[len(page)-1]
		}

		var tokens []string
		for _, p := range expected {
			tokens = append(tokens, p.Token)
		}
		if order == query.Descending {
			for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
				tokens[i], tokens[j] = tokens[j], tokens[i]
			}
		}
		require.Equal(t, tokens, paged, order.String())
	}
}
