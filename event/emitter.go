package event

import (
	"time"

	"github.com/code-payments/premium-server/billing"
)

// Emitter turns premium notifications for one owner into Events.
type Emitter struct {
	owner   string
	handler Handler[string, *Event]
	now     func() time.Time
}

func NewEmitter(owner string, handler Handler[string, *Event]) *Emitter {
	return &Emitter{
		owner:   owner,
		handler: handler,
		now:     time.Now,
	}
}

func (e *Emitter) emit(event *Event) {
	event.Owner = e.owner
	event.Timestamp = e.now()
	e.handler.OnEvent(e.owner, event)
}

func (e *Emitter) OnShowAds() {
	e.emit(&Event{Kind: KindShowAds})
}

func (e *Emitter) OnHideAds() {
	e.emit(&Event{Kind: KindHideAds})
}

func (e *Emitter) OnBillingUnavailable() {
	e.emit(&Event{Kind: KindBillingUnavailable})
}

func (e *Emitter) OnSkuDetails(details *billing.SkuDetails) {
	e.emit(&Event{Kind: KindSkuDetails, SkuDetails: details.Clone()})
}

func (e *Emitter) OnSkuConsumed() {
	e.emit(&Event{Kind: KindSkuConsumed})
}

func (e *Emitter) OnFailedToConsumeSku() {
	e.emit(&Event{Kind: KindSkuConsumeFailed})
}

func (e *Emitter) OnPurchaseSuccessful(p *billing.Purchase) {
	e.emit(&Event{Kind: KindPurchaseSuccessful, Purchase: p.Clone()})
}

func (e *Emitter) OnPurchaseBadResult(resultCode int, data *billing.Intent) {
	e.emit(&Event{Kind: KindPurchaseBadResult, ResultCode: resultCode, Data: data.Clone()})
}

func (e *Emitter) OnPurchaseBadResponse(data *billing.Intent) {
	e.emit(&Event{Kind: KindPurchaseBadResponse, Data: data.Clone()})
}

func (e *Emitter) OnPurchaseInvalidPayload(p *billing.Purchase, expected, actual string) {
	e.emit(&Event{
		Kind:            KindPurchaseInvalidPayload,
		Purchase:        p.Clone(),
		ExpectedPayload: expected,
		ActualPayload:   actual,
	})
}
