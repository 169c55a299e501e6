package tests

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/model"
	"github.com/code-payments/premium-server/s3"
)

func RunArchiveTests(t *testing.T, s s3.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s s3.Store){
		testArchiveReceipt,
		testArchiveRequiresToken,
		testMissingReceipt,
	} {
		tf(t, s)
		teardown()
	}
}

func testArchiveReceipt(t *testing.T, s s3.Store) {
	ctx := context.Background()
	archive := s3.NewArchive(zap.NewNop(), s)

	purchase := iap.NewPurchase("owner", &billing.Purchase{
		OrderID:          "GPA.1234",
		ProductID:        "premium",
		PurchaseTime:     time.Now(),
		PurchaseState:    billing.PurchaseStatePurchased,
		DeveloperPayload: "payload",
		PurchaseToken:    "token",
		OriginalJSON:     `{"orderId":"GPA.1234"}`,
		Signature:        "sig",
	})
	require.NoError(t, archive.ArchiveReceipt(ctx, purchase))

	key := s3.ReceiptKey("premium", "token")
	require.True(t, strings.HasPrefix(key, "receipts/premium/"))
	require.True(t, strings.HasSuffix(key, model.ReceiptIDString("token")+".json"))

	raw, err := s.Download(ctx, key)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	receipt, err := archive.GetReceipt(ctx, "premium", "token")
	require.NoError(t, err)
	require.Equal(t, model.ReceiptIDString("token"), receipt.ReceiptID)
	require.Equal(t, "owner", receipt.Owner)
	require.Equal(t, "premium", receipt.Sku)
	require.Equal(t, "GPA.1234", receipt.OrderID)
	require.Equal(t, "payload", receipt.Payload)
	require.Equal(t, purchase.Data, receipt.Data)
	require.Equal(t, "sig", receipt.Signature)
	require.WithinDuration(t, purchase.CreatedAt, receipt.CreatedAt, time.Second)

	// Archiving again overwrites
	require.NoError(t, archive.ArchiveReceipt(ctx, purchase))
}

func testArchiveRequiresToken(t *testing.T, s s3.Store) {
	archive := s3.NewArchive(zap.NewNop(), s)

	require.Error(t, archive.ArchiveReceipt(context.Background(), nil))
	require.Error(t, archive.ArchiveReceipt(context.Background(), &iap.Purchase{Sku: "premium"}))
}

func testMissingReceipt(t *testing.T, s s3.Store) {
	archive := s3.NewArchive(zap.NewNop(), s)

	_, err := archive.GetReceipt(context.Background(), "premium", "missing")
	require.ErrorIs(t, err, s3.ErrNotFound)
}
