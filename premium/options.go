package premium

import (
	"context"
	"time"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/loop"
	"github.com/code-payments/premium-server/model"
)

const (
	DefaultRequestCode = 148
	DefaultOwner       = "default"
	DefaultPayloadTTL  = 24 * time.Hour
)

// ReceiptArchive keeps a copy of every successful purchase receipt.
type ReceiptArchive interface {
	ArchiveReceipt(ctx context.Context, purchase *iap.Purchase) error
}

type options struct {
	owner            string
	requestCode      int
	autoNotifyAds    bool
	signatureKey     string
	payloadGenerator func() (string, error)
	payloadTTL       time.Duration

	store    iap.Store
	payloads iap.PayloadStore
	verifier billing.Verifier
	catalog  billing.Catalog
	archive  ReceiptArchive
	loop     *loop.Loop
}

func defaultOptions() options {
	return options{
		owner:            DefaultOwner,
		requestCode:      DefaultRequestCode,
		autoNotifyAds:    true,
		payloadGenerator: model.GeneratePayload,
		payloadTTL:       DefaultPayloadTTL,
	}
}

type Option func(o *options)

// WithOwner scopes stored purchases and pending payloads to owner.
func WithOwner(owner string) Option {
	return func(o *options) {
		o.owner = owner
	}
}

// WithRequestCode sets the request code that identifies our purchase screen
// results.
func WithRequestCode(requestCode int) Option {
	return func(o *options) {
		o.requestCode = requestCode
	}
}

// WithAutoNotifyAds controls whether show/hide ads notifications follow
// binding, purchases and consumption.
func WithAutoNotifyAds(enabled bool) Option {
	return func(o *options) {
		o.autoNotifyAds = enabled
	}
}

// WithSignatureKey sets the base64 encoded RSA public key used to check
// purchase signatures. Without it signatures are not checked locally.
func WithSignatureKey(key string) Option {
	return func(o *options) {
		o.signatureKey = key
	}
}

func WithPayloadGenerator(generator func() (string, error)) Option {
	return func(o *options) {
		o.payloadGenerator = generator
	}
}

// WithPayloadTTL bounds how long a started purchase can be completed. Zero
// disables expiry.
func WithPayloadTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.payloadTTL = ttl
	}
}

func WithStore(store iap.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func WithPayloads(payloads iap.PayloadStore) Option {
	return func(o *options) {
		o.payloads = payloads
	}
}

// WithVerifier adds a server side check of every purchase.
func WithVerifier(verifier billing.Verifier) Option {
	return func(o *options) {
		o.verifier = verifier
	}
}

// WithCatalog serves sku details from catalog instead of the billing service.
func WithCatalog(catalog billing.Catalog) Option {
	return func(o *options) {
		o.catalog = catalog
	}
}

func WithArchive(archive ReceiptArchive) Option {
	return func(o *options) {
		o.archive = archive
	}
}

// WithLoop delivers notifications on a shared loop. The loop is not stopped
// by Unbind.
func WithLoop(l *loop.Loop) Option {
	return func(o *options) {
		o.loop = l
	}
}
