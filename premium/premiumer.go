package premium

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/iap"
	iapmemory "github.com/code-payments/premium-server/iap/memory"
	"github.com/code-payments/premium-server/loop"
	"github.com/code-payments/premium-server/query"
)

var (
	ErrNotBound     = errors.New("premiumer is not bound")
	ErrAlreadyOwned = errors.New("sku is already owned")
	ErrNotOwned     = errors.New("sku is not owned")
)

// Premiumer drives the purchase of a single sku and reports every outcome to
// a Listener.
type Premiumer struct {
	log      *zap.Logger
	svc      billing.Service
	listener Listener
	sku      string
	opts     options

	mu      sync.Mutex
	bound   bool
	loop    *loop.Loop
	ownLoop bool
}

func New(log *zap.Logger, svc billing.Service, listener Listener, sku string, opts ...Option) *Premiumer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = iapmemory.NewInMemory()
	}
	if o.payloads == nil {
		o.payloads = iapmemory.NewPayloadsInMemory()
	}

	return &Premiumer{
		log: log.With(
			zap.String("owner", o.owner),
			zap.String("sku", sku),
		),
		svc:      svc,
		listener: listener,
		sku:      sku,
		opts:     o,
		loop:     o.loop,
		ownLoop:  o.loop == nil,
	}
}

func (p *Premiumer) Sku() string {
	return p.sku
}

func (p *Premiumer) Owner() string {
	return p.opts.owner
}

func (p *Premiumer) RequestCode() int {
	return p.opts.requestCode
}

// Bind connects to the billing service. It returns false, after notifying
// OnBillingUnavailable, if billing is not supported.
func (p *Premiumer) Bind(ctx context.Context) bool {
	if err := p.svc.IsBillingSupported(ctx); err != nil {
		p.log.Debug("Billing unavailable", zap.Error(err))
		p.post(p.listener.OnBillingUnavailable)
		return false
	}

	p.mu.Lock()
	p.bound = true
	p.mu.Unlock()

	if p.opts.autoNotifyAds {
		if p.OwnsSku(ctx) {
			p.post(p.listener.OnHideAds)
		} else {
			p.post(p.listener.OnShowAds)
		}
	}
	return true
}

// Unbind releases the billing service. Notifications already posted are still
// delivered.
func (p *Premiumer) Unbind() {
	p.mu.Lock()
	p.bound = false
	l := p.loop
	if p.ownLoop {
		p.loop = nil
	}
	p.mu.Unlock()

	if p.ownLoop && l != nil {
		l.Stop()
	}
}

func (p *Premiumer) IsBound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// Sync blocks until every notification posted so far has been delivered.
func (p *Premiumer) Sync(ctx context.Context) error {
	p.mu.Lock()
	l := p.loop
	p.mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Sync(ctx)
}

// Purchase starts a purchase of the sku. The returned intent is launched by
// the host; its result is handed back through HandleActivityResult.
func (p *Premiumer) Purchase(ctx context.Context) (*billing.BuyIntent, error) {
	if !p.IsBound() {
		return nil, ErrNotBound
	}
	if p.OwnsSku(ctx) {
		return nil, ErrAlreadyOwned
	}

	payload, err := p.opts.payloadGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to generate payload: %w", err)
	}

	if err := p.opts.payloads.PutPending(ctx, p.opts.owner, p.sku, payload, p.opts.payloadTTL); err != nil {
		return nil, fmt.Errorf("failed to store pending payload: %w", err)
	}

	intent, err := p.svc.GetBuyIntent(ctx, p.sku, payload)
	if err != nil {
		if clearErr := p.opts.payloads.ClearPending(ctx, p.opts.owner, p.sku); clearErr != nil {
			p.log.Warn("Failed to clear pending payload", zap.Error(clearErr))
		}
		if billing.CodeOf(err) == billing.ResponseItemAlreadyOwned {
			return nil, ErrAlreadyOwned
		}
		return nil, fmt.Errorf("failed to get buy intent: %w", err)
	}

	intent.RequestCode = p.opts.requestCode

	p.log.Debug("Purchase started", zap.String("payload", payload))

	return intent, nil
}

// HandleActivityResult processes the result of the purchase screen. It returns
// false if requestCode does not belong to this Premiumer, in which case no
// notification is made.
func (p *Premiumer) HandleActivityResult(ctx context.Context, requestCode, resultCode int, data *billing.Intent) bool {
	if requestCode != p.opts.requestCode {
		return false
	}

	log := p.log.With(zap.Int("result_code", resultCode))
	data = data.Clone()

	if resultCode != billing.ResultOK {
		log.Debug("Purchase finished with bad result")
		p.post(func() { p.listener.OnPurchaseBadResult(resultCode, data) })
		return true
	}

	purchase, err := p.checkResponse(ctx, data)
	if err != nil {
		log.Debug("Purchase finished with bad response", zap.Error(err))
		p.post(func() { p.listener.OnPurchaseBadResponse(data) })
		return true
	}

	log = log.With(zap.String("order_id", purchase.OrderID))

	actual := purchase.DeveloperPayload
	expected, err := p.opts.payloads.GetPending(ctx, p.opts.owner, p.sku)
	if errors.Is(err, iap.ErrNotFound) {
		// No purchase was requested, so no payload can match.
		log.Warn("Purchase without pending payload", zap.String("actual", actual))
		p.post(func() { p.listener.OnPurchaseInvalidPayload(purchase, "", actual) })
		return true
	} else if err != nil {
		log.Warn("Failed to get pending payload", zap.Error(err))
		p.post(func() { p.listener.OnPurchaseBadResponse(data) })
		return true
	}

	if expected != actual {
		log.Warn("Purchase payload mismatch",
			zap.String("expected", expected),
			zap.String("actual", actual),
		)
		p.post(func() { p.listener.OnPurchaseInvalidPayload(purchase, expected, actual) })
		return true
	}

	p.recordPurchase(ctx, log, purchase)

	if err := p.opts.payloads.ClearPending(ctx, p.opts.owner, p.sku); err != nil {
		log.Warn("Failed to clear pending payload", zap.Error(err))
	}

	log.Debug("Purchase successful")

	p.post(func() {
		p.listener.OnPurchaseSuccessful(purchase)
		if p.opts.autoNotifyAds {
			p.listener.OnHideAds()
		}
	})
	return true
}

// checkResponse returns the purchase carried by data, or an error if the data
// is missing, failed, or cannot be trusted.
func (p *Premiumer) checkResponse(ctx context.Context, data *billing.Intent) (*billing.Purchase, error) {
	if data == nil {
		return nil, errors.New("no data")
	}
	if err := billing.NewResponseError("purchase", data.ResponseCode); err != nil {
		return nil, err
	}

	purchase, err := billing.ParsePurchase(data.PurchaseData, data.DataSignature)
	if err != nil {
		return nil, err
	}
	if purchase.ProductID != p.sku {
		return nil, fmt.Errorf("%w: unexpected product %s", billing.ErrMalformed, purchase.ProductID)
	}

	if err := p.verifySignature(purchase); err != nil {
		return nil, err
	}

	if p.opts.verifier != nil {
		valid, err := p.opts.verifier.VerifyPurchase(ctx, purchase)
		if err != nil {
			return nil, fmt.Errorf("failed to verify purchase: %w", err)
		}
		if !valid {
			return nil, errors.New("purchase rejected by verifier")
		}
	}

	return purchase, nil
}

func (p *Premiumer) verifySignature(purchase *billing.Purchase) error {
	if p.opts.signatureKey == "" {
		return nil
	}
	return billing.VerifySignature(p.opts.signatureKey, purchase.OriginalJSON, purchase.Signature)
}

func (p *Premiumer) recordPurchase(ctx context.Context, log *zap.Logger, purchase *billing.Purchase) {
	record := iap.NewPurchase(p.opts.owner, purchase)

	err := p.opts.store.CreatePurchase(ctx, record)
	if errors.Is(err, iap.ErrExists) {
		log.Debug("Purchase already recorded")
	} else if err != nil {
		log.Warn("Failed to record purchase", zap.Error(err))
	}

	if p.opts.archive != nil {
		if err := p.opts.archive.ArchiveReceipt(ctx, record); err != nil {
			log.Warn("Failed to archive receipt", zap.Error(err))
		}
	}
}

// RequestSkuDetails looks up the sku and notifies OnSkuDetails exactly once,
// with nil if the lookup failed.
func (p *Premiumer) RequestSkuDetails(ctx context.Context) {
	details, err := p.skuDetails(ctx)
	if err != nil {
		p.log.Debug("Failed to get sku details", zap.Error(err))
		details = nil
	}
	p.post(func() { p.listener.OnSkuDetails(details) })
}

func (p *Premiumer) skuDetails(ctx context.Context) (*billing.SkuDetails, error) {
	if !p.IsBound() {
		return nil, ErrNotBound
	}

	catalog := billing.Catalog(p.svc)
	if p.opts.catalog != nil {
		catalog = p.opts.catalog
	}
	return catalog.GetSkuDetails(ctx, p.sku)
}

// ConsumeSku consumes the owned sku so it can be purchased again.
func (p *Premiumer) ConsumeSku(ctx context.Context) {
	if err := p.consume(ctx); err != nil {
		p.log.Debug("Failed to consume sku", zap.Error(err))
		p.post(p.listener.OnFailedToConsumeSku)
		return
	}

	p.log.Debug("Sku consumed")

	p.post(func() {
		p.listener.OnSkuConsumed()
		if p.opts.autoNotifyAds {
			p.listener.OnShowAds()
		}
	})
}

func (p *Premiumer) consume(ctx context.Context) error {
	if !p.IsBound() {
		return ErrNotBound
	}

	purchase, listed, err := p.ownedPurchase(ctx)
	if err != nil {
		return err
	}

	err = p.svc.Consume(ctx, purchase.PurchaseToken)
	if err != nil && (listed || billing.CodeOf(err) != billing.ResponseItemNotOwned) {
		return err
	} else if err != nil {
		p.log.Debug("Consuming stored purchase unknown to the billing service", zap.String("order_id", purchase.OrderID))
	}

	err = p.opts.store.MarkConsumed(ctx, purchase.PurchaseToken)
	if err != nil && !errors.Is(err, iap.ErrNotFound) {
		p.log.Warn("Failed to mark purchase consumed", zap.Error(err))
	}
	return nil
}

// OwnsSku reports whether the sku is currently owned.
func (p *Premiumer) OwnsSku(ctx context.Context) bool {
	_, err := p.PurchaseDetails(ctx)
	return err == nil
}

// PurchaseDetails returns the purchase that owns the sku, or ErrNotOwned.
// Purchases listed by the billing service are synced into the store. A stored
// purchase that the billing service does not list still owns the sku.
func (p *Premiumer) PurchaseDetails(ctx context.Context) (*billing.Purchase, error) {
	purchase, _, err := p.ownedPurchase(ctx)
	return purchase, err
}

// ownedPurchase also reports whether the billing service listed the purchase.
func (p *Premiumer) ownedPurchase(ctx context.Context) (*billing.Purchase, bool, error) {
	purchases, err := p.svc.GetPurchases(ctx)
	if err != nil {
		p.log.Debug("Failed to get purchases, using stored purchases", zap.Error(err))
		purchase, err := p.storedPurchase(ctx)
		return purchase, false, err
	}

	for _, purchase := range purchases {
		if purchase.ProductID != p.sku || purchase.PurchaseState != billing.PurchaseStatePurchased {
			continue
		}
		if err := p.verifySignature(purchase); err != nil {
			p.log.Warn("Ignoring owned purchase with invalid signature", zap.String("order_id", purchase.OrderID))
			continue
		}

		p.syncPurchase(ctx, purchase)
		return purchase, true, nil
	}

	purchase, err := p.storedPurchase(ctx)
	return purchase, false, err
}

// PurchaseHistory returns the stored purchases of the owner in any state.
func (p *Premiumer) PurchaseHistory(ctx context.Context, opts ...query.Option) ([]*iap.Purchase, error) {
	return p.opts.store.GetPurchases(ctx, p.opts.owner, opts...)
}

func (p *Premiumer) storedPurchase(ctx context.Context) (*billing.Purchase, error) {
	record, err := p.opts.store.GetOwnedPurchase(ctx, p.opts.owner, p.sku)
	if errors.Is(err, iap.ErrNotFound) {
		return nil, ErrNotOwned
	} else if err != nil {
		return nil, err
	}
	return record.Billing()
}

func (p *Premiumer) syncPurchase(ctx context.Context, purchase *billing.Purchase) {
	err := p.opts.store.CreatePurchase(ctx, iap.NewPurchase(p.opts.owner, purchase))
	if err != nil && !errors.Is(err, iap.ErrExists) {
		p.log.Warn("Failed to sync owned purchase", zap.Error(err))
	}
}

// post queues f on the notification loop, starting a private loop on demand.
func (p *Premiumer) post(f func()) {
	p.mu.Lock()
	if p.loop == nil {
		p.loop = loop.New(p.log, loop.DefaultSize)
	}
	l := p.loop
	p.mu.Unlock()

	if !l.Post(f) {
		p.log.Warn("Dropped notification, loop is stopped")
	}
}
