package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/premium-server/billing"
)

func TestAccounts_OwnershipPerOwner(t *testing.T) {
	ctx := context.Background()
	accounts := MustNewAccounts("xyz.premium.app", testProduct)

	alice := accounts.For("alice")
	require.Same(t, alice, accounts.For("alice"))
	require.Equal(t, accounts.PublicKey(), alice.PublicKey())

	intent, err := alice.GetBuyIntent(ctx, "premium", "payload")
	require.NoError(t, err)
	resultCode, data := alice.Complete(intent)
	require.Equal(t, billing.ResultOK, resultCode)
	require.NoError(t, billing.VerifySignature(accounts.PublicKey(), data.PurchaseData, data.DataSignature))

	bob := accounts.Service("bob")
	purchases, err := bob.GetPurchases(ctx)
	require.NoError(t, err)
	require.Empty(t, purchases)

	details, err := bob.GetSkuDetails(ctx, "premium")
	require.NoError(t, err)
	require.Equal(t, testProduct, details)

	_, err = bob.GetBuyIntent(ctx, "premium", "other")
	require.NoError(t, err)

	purchases, err = alice.GetPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, billing.CodeOf(bob.Consume(ctx, purchases[0].PurchaseToken)), billing.ResponseItemNotOwned)

	purchases, err = alice.GetPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
}
