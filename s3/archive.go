package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/model"
)

const ReceiptPathPrefix = "receipts/"

// Receipt is the archived form of a successful purchase.
type Receipt struct {
	ReceiptID string    `json:"receipt_id"`
	Owner     string    `json:"owner"`
	Sku       string    `json:"sku"`
	OrderID   string    `json:"order_id"`
	Payload   string    `json:"payload"`
	Data      string    `json:"data"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

// ReceiptKey returns the object key of the receipt for a purchase token.
func ReceiptKey(sku, purchaseToken string) string {
	return fmt.Sprintf("%s%s/%s.json", ReceiptPathPrefix, url.PathEscape(sku), model.ReceiptIDString(purchaseToken))
}

// Archive writes signed purchase receipts to a Store.
type Archive struct {
	log   *zap.Logger
	store Store
}

func NewArchive(log *zap.Logger, store Store) *Archive {
	return &Archive{
		log:   log,
		store: store,
	}
}

func (a *Archive) ArchiveReceipt(ctx context.Context, purchase *iap.Purchase) error {
	if purchase == nil || purchase.Token == "" {
		return errors.New("purchase token is required")
	}

	receipt := Receipt{
		ReceiptID: model.ReceiptIDString(purchase.Token),
		Owner:     purchase.Owner,
		Sku:       purchase.Sku,
		OrderID:   purchase.OrderID,
		Payload:   purchase.Payload,
		Data:      purchase.Data,
		Signature: purchase.Signature,
		CreatedAt: purchase.CreatedAt.UTC(),
	}

	data, err := json.Marshal(receipt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal receipt")
	}

	key := ReceiptKey(purchase.Sku, purchase.Token)
	if err := a.store.Upload(ctx, key, data); err != nil {
		return errors.Wrapf(err, "failed to upload receipt %s", key)
	}

	a.log.Debug("Archived receipt", zap.String("key", key), zap.String("owner", purchase.Owner))
	return nil
}

// GetReceipt returns the archived receipt for a purchase token, or ErrNotFound.
func (a *Archive) GetReceipt(ctx context.Context, sku, purchaseToken string) (*Receipt, error) {
	data, err := a.store.Download(ctx, ReceiptKey(sku, purchaseToken))
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal receipt")
	}
	return &receipt, nil
}
