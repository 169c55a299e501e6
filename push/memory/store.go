package memory

import (
	"context"
	"sync"

	"github.com/code-payments/premium-server/push"
)

type memory struct {
	sync.RWMutex

	// Map of owner -> map of appInstallID -> Token
	tokens map[string]map[string]push.Token
}

func NewInMemory() push.TokenStore {
	return &memory{
		tokens: make(map[string]map[string]push.Token),
	}
}

func (m *memory) reset() {
	m.Lock()
	defer m.Unlock()

	m.tokens = make(map[string]map[string]push.Token)
}

func (m *memory) GetTokens(_ context.Context, owner string) ([]push.Token, error) {
	m.RLock()
	defer m.RUnlock()

	return m.tokensLocked(owner), nil
}

func (m *memory) GetTokensBatch(_ context.Context, owners ...string) ([]push.Token, error) {
	m.RLock()
	defer m.RUnlock()

	var tokens []push.Token
	for _, owner := range owners {
		tokens = append(tokens, m.tokensLocked(owner)...)
	}
	return tokens, nil
}

func (m *memory) tokensLocked(owner string) []push.Token {
	ownerTokens, ok := m.tokens[owner]
	if !ok {
		return nil
	}

	tokens := make([]push.Token, 0, len(ownerTokens))
	for _, token := range ownerTokens {
		tokens = append(tokens, token)
	}
	return tokens
}

func (m *memory) AddToken(_ context.Context, owner, appInstallID string, tokenType push.TokenType, token string) error {
	m.Lock()
	defer m.Unlock()

	ownerTokens, ok := m.tokens[owner]
	if !ok {
		ownerTokens = make(map[string]push.Token)
		m.tokens[owner] = ownerTokens
	}

	ownerTokens[appInstallID] = push.Token{
		Type:         tokenType,
		Token:        token,
		AppInstallID: appInstallID,
	}

	return nil
}

func (m *memory) DeleteToken(_ context.Context, tokenType push.TokenType, token string) error {
	m.Lock()
	defer m.Unlock()

	// Need to scan all owners and devices to find matching token.
	for _, ownerTokens := range m.tokens {
		for appInstallID, existing := range ownerTokens {
			if existing.Type == tokenType && existing.Token == token {
				delete(ownerTokens, appInstallID)
			}
		}
	}

	return nil
}

func (m *memory) ClearTokens(_ context.Context, owner string) error {
	m.Lock()
	defer m.Unlock()

	delete(m.tokens, owner)
	return nil
}
