package memory

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/code-payments/premium-server/billing"
)

// Service is an in-memory billing service for a single user. Purchases it
// reports are signed with its own key, see PublicKey.
type Service struct {
	mu sync.Mutex

	packageName string
	key         *rsa.PrivateKey
	publicKey   string
	unavailable bool

	products map[string]*billing.SkuDetails
	owned    map[string]*billing.Purchase  // sku -> purchase
	pending  map[string]*billing.BuyIntent // token -> intent
}

func NewService(packageName string, products ...*billing.SkuDetails) (*Service, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newService(packageName, key, products...)
}

func newService(packageName string, key *rsa.PrivateKey, products ...*billing.SkuDetails) (*Service, error) {
	publicKey, err := billing.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	s := &Service{
		packageName: packageName,
		key:         key,
		publicKey:   publicKey,
		products:    make(map[string]*billing.SkuDetails),
		owned:       make(map[string]*billing.Purchase),
		pending:     make(map[string]*billing.BuyIntent),
	}
	for _, p := range products {
		s.products[p.ProductID] = p.Clone()
	}
	return s, nil
}

func MustNewService(packageName string, products ...*billing.SkuDetails) *Service {
	s, err := NewService(packageName, products...)
	if err != nil {
		panic(fmt.Sprintf("failed to create memory billing service: %v", err))
	}
	return s
}

// PublicKey is the base64 key that verifies purchases signed by this service.
func (s *Service) PublicKey() string {
	return s.publicKey
}

// SetUnavailable makes every call fail with ResponseBillingUnavailable.
func (s *Service) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unavailable = unavailable
}

func (s *Service) AddProduct(details *billing.SkuDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[details.ProductID] = details.Clone()
}

func (s *Service) IsBillingSupported(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkLocked(ctx, "isBillingSupported")
}

func (s *Service) GetSkuDetails(ctx context.Context, sku string) (*billing.SkuDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, "getSkuDetails"); err != nil {
		return nil, err
	}

	details, ok := s.products[sku]
	if !ok {
		return nil, billing.NewResponseError("getSkuDetails", billing.ResponseItemUnavailable)
	}
	return details.Clone(), nil
}

func (s *Service) GetBuyIntent(ctx context.Context, sku, payload string) (*billing.BuyIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, "getBuyIntent"); err != nil {
		return nil, err
	}
	if _, ok := s.products[sku]; !ok {
		return nil, billing.NewResponseError("getBuyIntent", billing.ResponseItemUnavailable)
	}
	if _, ok := s.owned[sku]; ok {
		return nil, billing.NewResponseError("getBuyIntent", billing.ResponseItemAlreadyOwned)
	}

	intent := &billing.BuyIntent{
		Sku:     sku,
		Payload: payload,
		Token:   uuid.NewString(),
	}
	s.pending[intent.Token] = intent

	cloned := *intent
	return &cloned, nil
}

func (s *Service) GetPurchases(ctx context.Context) ([]*billing.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, "getPurchases"); err != nil {
		return nil, err
	}

	purchases := make([]*billing.Purchase, 0, len(s.owned))
	for _, p := range s.owned {
		purchases = append(purchases, p.Clone())
	}
	return purchases, nil
}

func (s *Service) Consume(ctx context.Context, purchaseToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, "consume"); err != nil {
		return err
	}

	for sku, p := range s.owned {
		if p.PurchaseToken == purchaseToken {
			delete(s.owned, sku)
			return nil
		}
	}
	return billing.NewResponseError("consume", billing.ResponseItemNotOwned)
}

// Grant records sku as owned without going through a purchase screen.
func (s *Service) Grant(sku, payload string) (*billing.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.newPurchaseLocked(sku, payload)
	if err != nil {
		return nil, err
	}
	s.owned[sku] = p
	return p.Clone(), nil
}

type completeOptions struct {
	cancel           bool
	noData           bool
	responseCode     billing.ResponseCode
	payload          *string
	corruptSignature bool
}

type CompleteOption func(o *completeOptions)

// Cancel simulates the user backing out of the purchase screen.
func Cancel() CompleteOption {
	return func(o *completeOptions) { o.cancel = true }
}

// WithoutData simulates an OK activity result that carries no data.
func WithoutData() CompleteOption {
	return func(o *completeOptions) { o.noData = true }
}

// WithResponseCode makes the billing response carry code instead of OK.
func WithResponseCode(code billing.ResponseCode) CompleteOption {
	return func(o *completeOptions) { o.responseCode = code }
}

// WithPayload replaces the developer payload echoed in the purchase data.
func WithPayload(payload string) CompleteOption {
	return func(o *completeOptions) { o.payload = &payload }
}

// WithCorruptSignature signs different data than what is returned.
func WithCorruptSignature() CompleteOption {
	return func(o *completeOptions) { o.corruptSignature = true }
}

// Complete plays the purchase screen for intent and returns the activity
// result code and data the platform would deliver.
func (s *Service) Complete(intent *billing.BuyIntent, opts ...CompleteOption) (int, *billing.Intent) {
	var o completeOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[intent.Token]
	delete(s.pending, intent.Token)

	if o.cancel {
		return billing.ResultCanceled, nil
	}
	if o.noData {
		return billing.ResultOK, nil
	}
	if !ok {
		return billing.ResultOK, &billing.Intent{ResponseCode: billing.ResponseDeveloperError}
	}
	if o.responseCode != billing.ResponseOK {
		return billing.ResultOK, &billing.Intent{ResponseCode: o.responseCode}
	}

	payload := pending.Payload
	if o.payload != nil {
		payload = *o.payload
	}

	p, err := s.newPurchaseLocked(pending.Sku, payload)
	if err != nil {
		return billing.ResultOK, &billing.Intent{ResponseCode: billing.ResponseErrorCode}
	}
	s.owned[pending.Sku] = p

	signature := p.Signature
	if o.corruptSignature {
		signature, _ = billing.Sign(s.key, p.OriginalJSON+"tampered")
	}

	return billing.ResultOK, &billing.Intent{
		ResponseCode:  billing.ResponseOK,
		PurchaseData:  p.OriginalJSON,
		DataSignature: signature,
	}
}

func (s *Service) newPurchaseLocked(sku, payload string) (*billing.Purchase, error) {
	p := &billing.Purchase{
		OrderID:          "GPA." + uuid.NewString(),
		PackageName:      s.packageName,
		ProductID:        sku,
		PurchaseTime:     time.UnixMilli(time.Now().UnixMilli()),
		PurchaseState:    billing.PurchaseStatePurchased,
		DeveloperPayload: payload,
		PurchaseToken:    uuid.NewString(),
	}
	p.OriginalJSON = billing.EncodePurchaseData(p)

	signature, err := billing.Sign(s.key, p.OriginalJSON)
	if err != nil {
		return nil, err
	}
	p.Signature = signature
	return p, nil
}

func (s *Service) checkLocked(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable {
		return billing.NewResponseError(op, billing.ResponseBillingUnavailable)
	}
	return nil
}
