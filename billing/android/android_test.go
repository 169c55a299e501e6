package android

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/code-payments/premium-server/billing"
)

const testPackage = "xyz.premium.app"

// fakePlay serves the subset of the Play Developer API used here.
type fakePlay struct {
	purchases map[string]map[string]any // token -> ProductPurchase
	products  map[string]map[string]any // sku -> InAppProduct
	fail      bool
}

func (f *fakePlay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.fail {
		http.Error(w, `{"error":{"code":503,"message":"unavailable"}}`, http.StatusServiceUnavailable)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	last := parts[len(parts)-1]

	var body map[string]any
	var ok bool
	switch {
	case strings.Contains(r.URL.Path, "/purchases/products/"):
		body, ok = f.purchases[last]
	case strings.Contains(r.URL.Path, "/inappproducts/"):
		body, ok = f.products[last]
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func newTestServer(t *testing.T, f *fakePlay) []option.ClientOption {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	return []option.ClientOption{
		option.WithEndpoint(srv.URL + "/"),
		option.WithHTTPClient(srv.Client()),
	}
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	play := &fakePlay{
		purchases: map[string]map[string]any{
			"valid":    {"purchaseState": 0, "developerPayload": "payload", "orderId": "GPA.1"},
			"nopaylod": {"purchaseState": 0, "orderId": "GPA.2"},
			"canceled": {"purchaseState": 1, "orderId": "GPA.3"},
		},
	}

	v, err := NewVerifier(ctx, zap.NewNop(), testPackage, newTestServer(t, play)...)
	require.NoError(t, err)

	purchase := func(token, payload string) *billing.Purchase {
		return &billing.Purchase{
			PackageName:      testPackage,
			ProductID:        "premium",
			PurchaseToken:    token,
			DeveloperPayload: payload,
		}
	}

	for _, tc := range []struct {
		name     string
		purchase *billing.Purchase
		valid    bool
	}{
		{"Valid", purchase("valid", "payload"), true},
		{"NoServerPayload", purchase("nopaylod", "anything"), true},
		{"PayloadMismatch", purchase("valid", "other"), false},
		{"Canceled", purchase("canceled", ""), false},
		{"UnknownToken", purchase("unknown", "payload"), false},
		{"WrongPackage", &billing.Purchase{PackageName: "com.other", ProductID: "premium", PurchaseToken: "valid", DeveloperPayload: "payload"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			valid, err := v.VerifyPurchase(ctx, tc.purchase)
			require.NoError(t, err)
			require.Equal(t, tc.valid, valid)
		})
	}

	play.fail = true
	_, err = v.VerifyPurchase(ctx, purchase("valid", "payload"))
	require.Error(t, err)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	play := &fakePlay{
		products: map[string]map[string]any{
			"premium": {
				"sku":             "premium",
				"status":          "active",
				"purchaseType":    "managedUser",
				"defaultLanguage": "en-US",
				"defaultPrice":    map[string]any{"currency": "USD", "priceMicros": "990000"},
				"listings": map[string]any{
					"en-US": map[string]any{"title": "Premium", "description": "No more ads"},
				},
			},
			"retired": {"sku": "retired", "status": "inactive"},
		},
	}

	c, err := NewCatalog(ctx, testPackage, newTestServer(t, play)...)
	require.NoError(t, err)

	details, err := c.GetSkuDetails(ctx, "premium")
	require.NoError(t, err)
	require.Equal(t, &billing.SkuDetails{
		ProductID:         "premium",
		Type:              billing.ProductTypeInApp,
		PriceAmountMicros: 990_000,
		PriceCurrencyCode: "USD",
		Title:             "Premium",
		Description:       "No more ads",
	}, details)

	_, err = c.GetSkuDetails(ctx, "retired")
	require.Equal(t, billing.ResponseItemUnavailable, billing.CodeOf(err))

	_, err = c.GetSkuDetails(ctx, "missing")
	require.Equal(t, billing.ResponseItemUnavailable, billing.CodeOf(err))
}
