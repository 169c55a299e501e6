package billing

import (
	"context"
	"errors"
	"fmt"
)

// Activity result codes reported by the platform for a finished purchase
// screen.
const (
	ResultOK        = -1
	ResultCanceled  = 0
	ResultFirstUser = 1
)

type ResponseCode int

const (
	ResponseOK ResponseCode = iota
	ResponseUserCanceled
	ResponseServiceUnavailable
	ResponseBillingUnavailable
	ResponseItemUnavailable
	ResponseDeveloperError
	ResponseErrorCode
	ResponseItemAlreadyOwned
	ResponseItemNotOwned
)

func (c ResponseCode) String() string {
	switch c {
	case ResponseOK:
		return "OK"
	case ResponseUserCanceled:
		return "USER_CANCELED"
	case ResponseServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case ResponseBillingUnavailable:
		return "BILLING_UNAVAILABLE"
	case ResponseItemUnavailable:
		return "ITEM_UNAVAILABLE"
	case ResponseDeveloperError:
		return "DEVELOPER_ERROR"
	case ResponseErrorCode:
		return "ERROR"
	case ResponseItemAlreadyOwned:
		return "ITEM_ALREADY_OWNED"
	case ResponseItemNotOwned:
		return "ITEM_NOT_OWNED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

var (
	ErrInvalidSignature = errors.New("invalid purchase signature")
	ErrMalformed        = errors.New("malformed billing payload")
)

// ResponseError carries a non-OK billing response code as an error.
type ResponseError struct {
	Op   string
	Code ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("billing %s: %s", e.Op, e.Code)
}

// NewResponseError returns nil for ResponseOK.
func NewResponseError(op string, code ResponseCode) error {
	if code == ResponseOK {
		return nil
	}
	return &ResponseError{Op: op, Code: code}
}

// CodeOf extracts the billing response code from err. Errors that did not
// originate from the billing service map to ResponseErrorCode.
func CodeOf(err error) ResponseCode {
	if err == nil {
		return ResponseOK
	}

	var re *ResponseError
	if errors.As(err, &re) {
		return re.Code
	}
	return ResponseErrorCode
}

// Catalog looks up purchasable product metadata.
type Catalog interface {
	GetSkuDetails(ctx context.Context, sku string) (*SkuDetails, error)
}

// Verifier performs an independent check of a purchase the platform already
// reported, typically against the store's server API.
type Verifier interface {
	VerifyPurchase(ctx context.Context, purchase *Purchase) (bool, error)
}

// Service is the platform billing service a Premiumer drives.
type Service interface {
	Catalog

	// IsBillingSupported returns an error when in-app billing cannot be used.
	IsBillingSupported(ctx context.Context) error

	// GetBuyIntent prepares the purchase screen for sku. The payload is echoed
	// back in the purchase data once the purchase completes.
	GetBuyIntent(ctx context.Context, sku, payload string) (*BuyIntent, error)

	// GetPurchases returns the purchases currently owned.
	GetPurchases(ctx context.Context) ([]*Purchase, error)

	// Consume makes a purchased product available for purchase again.
	Consume(ctx context.Context, purchaseToken string) error
}
