package premium

import (
	"github.com/code-payments/premium-server/billing"
)

// Listener observes the outcome of premium operations. Calls are made one at a
// time from a single serial context and must return quickly.
type Listener interface {
	// OnShowAds is called when the sku is not owned and ads should be shown.
	OnShowAds()

	// OnHideAds is called when the sku is owned and ads should be hidden.
	OnHideAds()

	// OnBillingUnavailable is called when billing is not supported or the
	// billing service cannot be reached.
	OnBillingUnavailable()

	// OnSkuDetails delivers the result of a details request. details is nil
	// when the lookup failed.
	OnSkuDetails(details *billing.SkuDetails)

	OnSkuConsumed()
	OnFailedToConsumeSku()

	// OnPurchaseSuccessful delivers a verified purchase. p is never nil.
	OnPurchaseSuccessful(p *billing.Purchase)

	// OnPurchaseBadResult is called when the purchase screen finished with a
	// result code other than billing.ResultOK.
	OnPurchaseBadResult(resultCode int, data *billing.Intent)

	// OnPurchaseBadResponse is called when the purchase screen finished but
	// the returned data is missing, failed, or cannot be trusted.
	OnPurchaseBadResponse(data *billing.Intent)

	// OnPurchaseInvalidPayload is called when the developer payload of the
	// purchase does not match the one the purchase was started with.
	OnPurchaseInvalidPayload(p *billing.Purchase, expected, actual string)
}

// NopListener ignores every notification. Embed it to implement only the
// methods of interest.
type NopListener struct{}

func (NopListener) OnShowAds()                                                 {}
func (NopListener) OnHideAds()                                                 {}
func (NopListener) OnBillingUnavailable()                                      {}
func (NopListener) OnSkuDetails(*billing.SkuDetails)                           {}
func (NopListener) OnSkuConsumed()                                             {}
func (NopListener) OnFailedToConsumeSku()                                      {}
func (NopListener) OnPurchaseSuccessful(*billing.Purchase)                     {}
func (NopListener) OnPurchaseBadResult(int, *billing.Intent)                   {}
func (NopListener) OnPurchaseBadResponse(*billing.Intent)                      {}
func (NopListener) OnPurchaseInvalidPayload(*billing.Purchase, string, string) {}

// MultiListener forwards each notification to all of its listeners in order.
type MultiListener []Listener

func (m MultiListener) OnShowAds() {
	for _, l := range m {
		l.OnShowAds()
	}
}

func (m MultiListener) OnHideAds() {
	for _, l := range m {
		l.OnHideAds()
	}
}

func (m MultiListener) OnBillingUnavailable() {
	for _, l := range m {
		l.OnBillingUnavailable()
	}
}

func (m MultiListener) OnSkuDetails(details *billing.SkuDetails) {
	for _, l := range m {
		l.OnSkuDetails(details)
	}
}

func (m MultiListener) OnSkuConsumed() {
	for _, l := range m {
		l.OnSkuConsumed()
	}
}

func (m MultiListener) OnFailedToConsumeSku() {
	for _, l := range m {
		l.OnFailedToConsumeSku()
	}
}

func (m MultiListener) OnPurchaseSuccessful(p *billing.Purchase) {
	for _, l := range m {
		l.OnPurchaseSuccessful(p)
	}
}

func (m MultiListener) OnPurchaseBadResult(resultCode int, data *billing.Intent) {
	for _, l := range m {
		l.OnPurchaseBadResult(resultCode, data)
	}
}

func (m MultiListener) OnPurchaseBadResponse(data *billing.Intent) {
	for _, l := range m {
		l.OnPurchaseBadResponse(data)
	}
}

func (m MultiListener) OnPurchaseInvalidPayload(p *billing.Purchase, expected, actual string) {
	for _, l := range m {
		l.OnPurchaseInvalidPayload(p, expected, actual)
	}
}
