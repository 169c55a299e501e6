package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/code-payments/premium-server/push"
)

const tokenTable = "premium_push_tokens"

// tokenModel maps to the premium_push_tokens table
type tokenModel struct {
	Owner        string `db:"owner"`
	AppInstallID string `db:"appInstallId"`
	Token        string `db:"token"`
	Type         int    `db:"type"`
}

type store struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB, driver string) push.TokenStore {
	if driver == "" {
		driver = "pgx"
	}
	return &store{
		db: sqlx.NewDb(db, driver),
	}
}

func (s *store) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+tokenTable)
	if err != nil {
		panic(err)
	}
}

func (s *store) GetTokens(ctx context.Context, owner string) ([]push.Token, error) {
	var models []tokenModel
	query := `SELECT "owner", "appInstallId", "token", "type" FROM ` + tokenTable + ` WHERE "owner" = $1`
	if err := s.db.SelectContext(ctx, &models, query, owner); err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func (s *store) GetTokensBatch(ctx context.Context, owners ...string) ([]push.Token, error) {
	if len(owners) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT "owner", "appInstallId", "token", "type" FROM `+tokenTable+` WHERE "owner" IN (?)`, owners)
	if err != nil {
		return nil, err
	}

	var models []tokenModel
	if err := s.db.SelectContext(ctx, &models, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func (s *store) AddToken(ctx context.Context, owner, appInstallID string, tokenType push.TokenType, token string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+tokenTable+` ("owner", "appInstallId", "token", "type", "createdAt", "updatedAt")
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT ("owner", "appInstallId") DO UPDATE
		SET "token" = EXCLUDED."token", "type" = EXCLUDED."type", "updatedAt" = EXCLUDED."updatedAt"
	`, owner, appInstallID, token, int(tokenType), now)
	return err
}

func (s *store) DeleteToken(ctx context.Context, tokenType push.TokenType, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+tokenTable+` WHERE "token" = $1 AND "type" = $2`, token, int(tokenType))
	return err
}

func (s *store) ClearTokens(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+tokenTable+` WHERE "owner" = $1`, owner)
	return err
}

func fromModels(models []tokenModel) []push.Token {
	tokens := make([]push.Token, len(models))
	for i, m := range models {
		tokens[i] = push.Token{
			Type:         push.TokenType(m.Type),
			Token:        m.Token,
			AppInstallID: m.AppInstallID,
		}
	}
	return tokens
}
