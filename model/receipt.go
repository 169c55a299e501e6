package model

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// ReceiptID derives the stable identifier of a purchase from its token.
func ReceiptID(purchaseToken string) []byte {
	h := sha256.Sum256([]byte(purchaseToken))
	return h[:]
}

func ReceiptIDString(purchaseToken string) string {
	return base58.Encode(ReceiptID(purchaseToken))
}
