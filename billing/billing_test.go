package billing

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseError(t *testing.T) {
	require.NoError(t, NewResponseError("consume", ResponseOK))

	err := NewResponseError("consume", ResponseItemNotOwned)
	require.Error(t, err)
	require.Equal(t, ResponseItemNotOwned, CodeOf(err))
	require.Equal(t, ResponseItemNotOwned, CodeOf(fmt.Errorf("wrapped: %w", err)))
	require.Equal(t, "billing consume: ITEM_NOT_OWNED", err.Error())

	var re *ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "consume", re.Op)

	require.Equal(t, ResponseOK, CodeOf(nil))
	require.Equal(t, ResponseErrorCode, CodeOf(errors.New("network")))
	require.Equal(t, "ERROR", ResponseErrorCode.String())
	require.Equal(t, "UNKNOWN(42)", ResponseCode(42).String())
}

func TestParsePurchase(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	expected := &Purchase{
		OrderID:          "GPA.1234",
		PackageName:      "xyz.premium.app",
		ProductID:        "premium",
		PurchaseTime:     now,
		PurchaseState:    PurchaseStatePurchased,
		DeveloperPayload: "payload",
		PurchaseToken:    "token",
	}
	data := EncodePurchaseData(expected)

	actual, err := ParsePurchase(data, "sig")
	require.NoError(t, err)
	assert.Equal(t, expected.OrderID, actual.OrderID)
	assert.Equal(t, expected.ProductID, actual.ProductID)
	assert.True(t, expected.PurchaseTime.Equal(actual.PurchaseTime))
	assert.Equal(t, expected.DeveloperPayload, actual.DeveloperPayload)
	assert.Equal(t, expected.PurchaseToken, actual.PurchaseToken)
	assert.Equal(t, data, actual.OriginalJSON)
	assert.Equal(t, "sig", actual.Signature)

	for _, invalid := range []string{"", "{", `{"productId":"premium"}`, `{"purchaseToken":"t"}`} {
		_, err = ParsePurchase(invalid, "sig")
		require.ErrorIs(t, err, ErrMalformed, invalid)
	}
}

func TestSkuDetails(t *testing.T) {
	details, err := ParseSkuDetails(`{
		"productId": "premium",
		"type": "inapp",
		"price": "€1,99",
		"price_amount_micros": 1990000,
		"price_currency_code": "EUR",
		"title": "Premium",
		"description": "No more ads"
	}`)
	require.NoError(t, err)
	require.Equal(t, "premium", details.ProductID)
	require.True(t, decimal.RequireFromString("1.99").Equal(details.Amount()))
	require.Equal(t, "€1,99", details.FormattedPrice())

	roundTrip, err := ParseSkuDetails(details.JSON())
	require.NoError(t, err)
	require.Equal(t, details, roundTrip)

	details.Price = ""
	details.PriceCurrencyCode = "USD"
	details.PriceAmountMicros = 990000
	require.Contains(t, details.FormattedPrice(), "0.99")

	details.PriceCurrencyCode = "not-a-currency"
	require.Equal(t, "0.99", details.FormattedPrice())

	_, err = ParseSkuDetails(`{"title":"missing id"}`)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestSignature(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := EncodePublicKey(&priv.PublicKey)
	require.NoError(t, err)

	data := `{"productId":"premium","purchaseToken":"token"}`
	sig, err := Sign(priv, data)
	require.NoError(t, err)

	require.NoError(t, VerifySignature(pub, data, sig))
	require.ErrorIs(t, VerifySignature(pub, data+" ", sig), ErrInvalidSignature)
	require.ErrorIs(t, VerifySignature(pub, data, "not base64!"), ErrInvalidSignature)
	require.ErrorIs(t, VerifySignature(pub, data, ""), ErrInvalidSignature)
	require.Error(t, VerifySignature("garbage", data, sig))

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherPub, err := EncodePublicKey(&other.PublicKey)
	require.NoError(t, err)
	require.ErrorIs(t, VerifySignature(otherPub, data, sig), ErrInvalidSignature)
}
