package memory

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/code-payments/premium-server/billing"
)

// Accounts hands out one Service per owner. Every account signs with the same
// key and sells the same products, but owns its purchases alone.
type Accounts struct {
	packageName string
	key         *rsa.PrivateKey
	publicKey   string
	products    []*billing.SkuDetails

	mu       sync.Mutex
	services map[string]*Service
}

func NewAccounts(packageName string, products ...*billing.SkuDetails) (*Accounts, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	publicKey, err := billing.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	a := &Accounts{
		packageName: packageName,
		key:         key,
		publicKey:   publicKey,
		services:    make(map[string]*Service),
	}
	for _, p := range products {
		a.products = append(a.products, p.Clone())
	}
	return a, nil
}

func MustNewAccounts(packageName string, products ...*billing.SkuDetails) *Accounts {
	a, err := NewAccounts(packageName, products...)
	if err != nil {
		panic(fmt.Sprintf("failed to create memory billing accounts: %v", err))
	}
	return a
}

// PublicKey verifies purchases of every account.
func (a *Accounts) PublicKey() string {
	return a.publicKey
}

// For returns the service of owner, creating it on first use.
func (a *Accounts) For(owner string) *Service {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.services[owner]; ok {
		return s
	}

	s, err := newService(a.packageName, a.key, a.products...)
	if err != nil {
		// The key already encoded once in NewAccounts.
		panic(err)
	}
	a.services[owner] = s
	return s
}

// Service is For as a billing.Service.
func (a *Accounts) Service(owner string) billing.Service {
	return a.For(owner)
}
