package iap

import (
	"context"
	"errors"
	"time"

	"github.com/mr-tron/base58"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/model"
	"github.com/code-payments/premium-server/query"
)

var (
	ErrExists   = errors.New("iap already exists")
	ErrNotFound = errors.New("iap not found")
)

type State uint8

const (
	StateUnknown State = iota
	StatePurchased
	StateConsumed
)

func (s State) String() string {
	switch s {
	case StatePurchased:
		return "purchased"
	case StateConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// Purchase is the stored record of a verified purchase.
type Purchase struct {
	ReceiptID []byte
	Owner     string
	Sku       string
	Token     string
	OrderID   string
	Payload   string

	// Data and Signature are the platform purchase JSON and its signature.
	Data      string
	Signature string

	State     State
	CreatedAt time.Time
}

type Store interface {
	// CreatePurchase stores a new purchase. It returns ErrExists if a purchase
	// with the same token is already stored.
	CreatePurchase(ctx context.Context, purchase *Purchase) error

	// GetPurchase returns the purchase with the given token.
	GetPurchase(ctx context.Context, token string) (*Purchase, error)

	// GetOwnedPurchase returns the most recent purchase of sku by owner that
	// has not been consumed.
	GetOwnedPurchase(ctx context.Context, owner, sku string) (*Purchase, error)

	// GetPurchases returns every purchase of owner, in any state, ordered by
	// creation time and then by receipt id.
	GetPurchases(ctx context.Context, owner string, opts ...query.Option) ([]*Purchase, error)

	// MarkConsumed moves a purchase to StateConsumed.
	MarkConsumed(ctx context.Context, token string) error
}

func NewPurchase(owner string, p *billing.Purchase) *Purchase {
	return &Purchase{
		ReceiptID: model.ReceiptID(p.PurchaseToken),
		Owner:     owner,
		Sku:       p.ProductID,
		Token:     p.PurchaseToken,
		OrderID:   p.OrderID,
		Payload:   p.DeveloperPayload,
		Data:      p.OriginalJSON,
		Signature: p.Signature,
		State:     StatePurchased,
		CreatedAt: time.Now(),
	}
}

// ReceiptIDString is the base58 form of the receipt id. It is the tie breaker
// of purchase listings.
func (p *Purchase) ReceiptIDString() string {
	return base58.Encode(p.ReceiptID)
}

// Billing re-parses the stored platform purchase.
func (p *Purchase) Billing() (*billing.Purchase, error) {
	return billing.ParsePurchase(p.Data, p.Signature)
}

func (p *Purchase) Clone() *Purchase {
	return &Purchase{
		ReceiptID: append([]byte(nil), p.ReceiptID...),
		Owner:     p.Owner,
		Sku:       p.Sku,
		Token:     p.Token,
		OrderID:   p.OrderID,
		Payload:   p.Payload,
		Data:      p.Data,
		Signature: p.Signature,
		State:     p.State,
		CreatedAt: p.CreatedAt,
	}
}
