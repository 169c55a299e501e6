package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"

	pg "github.com/code-payments/premium-server/database/postgres"
	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/query"
)

const allColumns = `"receiptId", "token", "owner", "sku", "orderId", "payload", "data", "signature", "state", "createdAt", "updatedAt"`

type store struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB, driver string) iap.Store {
	if driver == "" {
		driver = "pgx"
	}
	return &store{
		db: sqlx.NewDb(db, driver),
	}
}

func (s *store) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+purchaseTable)
	if err != nil {
		panic(err)
	}
}

func (s *store) CreatePurchase(ctx context.Context, purchase *iap.Purchase) error {
	if purchase.Token == "" {
		return errors.New("purchase token is required")
	}
	if purchase.State != iap.StatePurchased {
		return errors.New("state must be purchased")
	}

	m := toModel(purchase)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO `+purchaseTable+` (`+allColumns+`)
		VALUES (:receiptId, :token, :owner, :sku, :orderId, :payload, :data, :signature, :state, :createdAt, :updatedAt)
	`, m)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return iap.ErrExists
	}
	return err
}

func (s *store) GetPurchase(ctx context.Context, token string) (*iap.Purchase, error) {
	var m purchaseModel
	query := `SELECT ` + allColumns + ` FROM ` + purchaseTable + ` WHERE "token" = $1`
	err := s.db.GetContext(ctx, &m, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromModel(&m)
}

func (s *store) GetOwnedPurchase(ctx context.Context, owner, sku string) (*iap.Purchase, error) {
	var m purchaseModel
	query := `SELECT ` + allColumns + ` FROM ` + purchaseTable + `
		WHERE "owner" = $1 AND "sku" = $2 AND "state" = $3
		ORDER BY "createdAt" DESC
		LIMIT 1`
	err := s.db.GetContext(ctx, &m, query, owner, sku, int(iap.StatePurchased))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromModel(&m)
}

func (s *store) GetPurchases(ctx context.Context, owner string, opts ...query.Option) ([]*iap.Purchase, error) {
	o := query.ApplyOptions(opts...)

	args := []interface{}{owner}
	where := `"owner" = $1`
	if o.Cursor != nil {
		op := ">"
		if o.Order == query.Descending {
			op = "<"
		}
		args = append(args, o.Cursor.CreatedAt.UTC(), string(pg.Base58)+":"+o.Cursor.ID)
		where += fmt.Sprintf(` AND ("createdAt", "receiptId" COLLATE "C") %s ($%d, $%d)`, op, len(args)-1, len(args))
	}
	args = append(args, o.Limit)

	dir := o.Order.SQL()
	sqlQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY "createdAt" %s, "receiptId" COLLATE "C" %s LIMIT $%d`,
		allColumns, purchaseTable, where, dir, dir, len(args))

	var models []purchaseModel
	if err := s.db.SelectContext(ctx, &models, sqlQuery, args...); err != nil {
		return nil, err
	}

	purchases := make([]*iap.Purchase, 0, len(models))
	for i := range models {
		purchase, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, purchase)
	}
	return purchases, nil
}

func (s *store) MarkConsumed(ctx context.Context, token string) error {
	query := `UPDATE ` + purchaseTable + ` SET "state" = $1, "updatedAt" = $2 WHERE "token" = $3`
	res, err := s.db.ExecContext(ctx, query, int(iap.StateConsumed), time.Now().UTC(), token)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return iap.ErrNotFound
	}
	return nil
}
