package postgres

import (
	"database/sql"
	"time"

	pg "github.com/code-payments/premium-server/database/postgres"
	"github.com/code-payments/premium-server/iap"
)

const purchaseTable = "premium_purchases"

// purchaseModel maps to the premium_purchases table
type purchaseModel struct {
	ReceiptID string         `db:"receiptId"`
	Token     string         `db:"token"`
	Owner     string         `db:"owner"`
	Sku       string         `db:"sku"`
	OrderID   sql.NullString `db:"orderId"`
	Payload   string         `db:"payload"`
	Data      string         `db:"data"`
	Signature string         `db:"signature"`
	State     int            `db:"state"`
	CreatedAt time.Time      `db:"createdAt"`
	UpdatedAt time.Time      `db:"updatedAt"`
}

func toModel(p *iap.Purchase) *purchaseModel {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &purchaseModel{
		ReceiptID: pg.Encode(p.ReceiptID),
		Token:     p.Token,
		Owner:     p.Owner,
		Sku:       p.Sku,
		OrderID:   pg.NullString(p.OrderID),
		Payload:   p.Payload,
		Data:      p.Data,
		Signature: p.Signature,
		State:     int(p.State),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func fromModel(m *purchaseModel) (*iap.Purchase, error) {
	receiptID, err := pg.Decode(m.ReceiptID)
	if err != nil {
		return nil, err
	}
	return &iap.Purchase{
		ReceiptID: receiptID,
		Owner:     m.Owner,
		Sku:       m.Sku,
		Token:     m.Token,
		OrderID:   pg.FromNullString(m.OrderID),
		Payload:   m.Payload,
		Data:      m.Data,
		Signature: m.Signature,
		State:     iap.State(m.State),
		CreatedAt: m.CreatedAt,
	}, nil
}
