package push

import (
	"context"
	"errors"
)

type TokenType uint8

const (
	TokenTypeUnknown TokenType = iota
	TokenTypeFCMAndroid
	TokenTypeFCMAPNS
)

func (t TokenType) String() string {
	switch t {
	case TokenTypeFCMAndroid:
		return "fcm_android"
	case TokenTypeFCMAPNS:
		return "fcm_apns"
	default:
		return "unknown"
	}
}

func ParseTokenType(s string) (TokenType, error) {
	switch s {
	case "fcm_android":
		return TokenTypeFCMAndroid, nil
	case "fcm_apns":
		return TokenTypeFCMAPNS, nil
	default:
		return TokenTypeUnknown, errors.New("unknown token type")
	}
}

// Token represents a push notification token.
//
// Tokens are bound to an (owner, device) pair, identified by the AppInstallID.
type Token struct {
	Type         TokenType
	Token        string
	AppInstallID string
}

type TokenStore interface {
	// GetTokens returns all tokens for an owner.
	GetTokens(ctx context.Context, owner string) ([]Token, error)

	// GetTokensBatch returns all tokens for a set of owners.
	GetTokensBatch(ctx context.Context, owners ...string) ([]Token, error)

	// AddToken adds a token for an owner.
	//
	// If the token already exists for the same owner and device, it will be updated.
	AddToken(ctx context.Context, owner, appInstallID string, tokenType TokenType, token string) error

	// DeleteToken deletes a token for every owner.
	DeleteToken(ctx context.Context, tokenType TokenType, token string) error

	// ClearTokens deletes all tokens for an owner.
	ClearTokens(ctx context.Context, owner string) error
}
