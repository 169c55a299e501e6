package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const ProductTypeInApp = "inapp"

// SkuDetails describes a purchasable product.
type SkuDetails struct {
	ProductID         string
	Type              string
	Price             string
	PriceAmountMicros int64
	PriceCurrencyCode string
	Title             string
	Description       string
}

type skuDetailsJSON struct {
	ProductID         string `json:"productId"`
	Type              string `json:"type"`
	Price             string `json:"price"`
	PriceAmountMicros int64  `json:"price_amount_micros"`
	PriceCurrencyCode string `json:"price_currency_code"`
	Title             string `json:"title"`
	Description       string `json:"description"`
}

func ParseSkuDetails(data string) (*SkuDetails, error) {
	var raw skuDetailsJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: sku details: %v", ErrMalformed, err)
	}
	if raw.ProductID == "" {
		return nil, fmt.Errorf("%w: sku details without productId", ErrMalformed)
	}

	return &SkuDetails{
		ProductID:         raw.ProductID,
		Type:              raw.Type,
		Price:             raw.Price,
		PriceAmountMicros: raw.PriceAmountMicros,
		PriceCurrencyCode: raw.PriceCurrencyCode,
		Title:             raw.Title,
		Description:       raw.Description,
	}, nil
}

func (d *SkuDetails) JSON() string {
	b, _ := json.Marshal(skuDetailsJSON{
		ProductID:         d.ProductID,
		Type:              d.Type,
		Price:             d.Price,
		PriceAmountMicros: d.PriceAmountMicros,
		PriceCurrencyCode: d.PriceCurrencyCode,
		Title:             d.Title,
		Description:       d.Description,
	})
	return string(b)
}

// Amount is the price in units of PriceCurrencyCode.
func (d *SkuDetails) Amount() decimal.Decimal {
	return decimal.New(d.PriceAmountMicros, -6)
}

// FormattedPrice returns the store-formatted price, or formats Amount when the
// store did not provide one.
func (d *SkuDetails) FormattedPrice() string {
	if d.Price != "" {
		return d.Price
	}

	unit, err := currency.ParseISO(d.PriceCurrencyCode)
	if err != nil {
		return d.Amount().String()
	}

	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(d.Amount().InexactFloat64())))
}

func (d *SkuDetails) Clone() *SkuDetails {
	if d == nil {
		return nil
	}
	cloned := *d
	return &cloned
}

type PurchaseState int

const (
	PurchaseStatePurchased PurchaseState = iota
	PurchaseStateCanceled
	PurchaseStatePending
)

// Purchase is a completed purchase as reported by the platform. OriginalJSON
// and Signature are kept verbatim so the purchase can be re-verified.
type Purchase struct {
	OrderID          string
	PackageName      string
	ProductID        string
	PurchaseTime     time.Time
	PurchaseState    PurchaseState
	DeveloperPayload string
	PurchaseToken    string

	OriginalJSON string
	Signature    string
}

type purchaseJSON struct {
	OrderID          string `json:"orderId"`
	PackageName      string `json:"packageName"`
	ProductID        string `json:"productId"`
	PurchaseTime     int64  `json:"purchaseTime"`
	PurchaseState    int    `json:"purchaseState"`
	DeveloperPayload string `json:"developerPayload"`
	PurchaseToken    string `json:"purchaseToken"`
}

func ParsePurchase(data, signature string) (*Purchase, error) {
	var raw purchaseJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: purchase: %v", ErrMalformed, err)
	}
	if raw.ProductID == "" || raw.PurchaseToken == "" {
		return nil, fmt.Errorf("%w: purchase without productId or purchaseToken", ErrMalformed)
	}

	return &Purchase{
		OrderID:          raw.OrderID,
		PackageName:      raw.PackageName,
		ProductID:        raw.ProductID,
		PurchaseTime:     time.UnixMilli(raw.PurchaseTime),
		PurchaseState:    PurchaseState(raw.PurchaseState),
		DeveloperPayload: raw.DeveloperPayload,
		PurchaseToken:    raw.PurchaseToken,
		OriginalJSON:     data,
		Signature:        signature,
	}, nil
}

// EncodePurchaseData renders the platform JSON for a purchase. Used by
// simulators that need to sign purchase data.
func EncodePurchaseData(p *Purchase) string {
	b, _ := json.Marshal(purchaseJSON{
		OrderID:          p.OrderID,
		PackageName:      p.PackageName,
		ProductID:        p.ProductID,
		PurchaseTime:     p.PurchaseTime.UnixMilli(),
		PurchaseState:    int(p.PurchaseState),
		DeveloperPayload: p.DeveloperPayload,
		PurchaseToken:    p.PurchaseToken,
	})
	return string(b)
}

func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	cloned := *p
	return &cloned
}

// Intent is the payload delivered with an activity result. A nil *Intent means
// the platform returned no data.
type Intent struct {
	ResponseCode  ResponseCode
	PurchaseData  string
	DataSignature string
}

func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	cloned := *i
	return &cloned
}

// BuyIntent is what a host launches to show the purchase screen.
type BuyIntent struct {
	Sku         string
	Payload     string
	RequestCode int

	// Token identifies the pending purchase screen with the billing service.
	Token string
}
