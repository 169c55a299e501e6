package android

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/code-payments/premium-server/billing"
)

// Verifier uses the Google Play Developer API to verify purchase tokens.
type Verifier struct {
	log *zap.Logger
	svc *androidpublisher.Service

	// PackageName is the Android app's package name.
	packageName string
}

// NewVerifier creates a Verifier. Use option.WithCredentialsJSON or
// option.WithCredentialsFile to pass the service account.
func NewVerifier(ctx context.Context, log *zap.Logger, packageName string, opts ...option.ClientOption) (*Verifier, error) {
	svc, err := newService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		log:         log,
		svc:         svc,
		packageName: packageName,
	}, nil
}

func (v *Verifier) VerifyPurchase(ctx context.Context, purchase *billing.Purchase) (bool, error) {
	log := v.log.With(
		zap.String("sku", purchase.ProductID),
		zap.String("order_id", purchase.OrderID),
	)

	if purchase.PackageName != "" && purchase.PackageName != v.packageName {
		log.Warn("Purchase is for a different package", zap.String("package_name", purchase.PackageName))
		return false, nil
	}

	productPurchase, err := v.svc.Purchases.Products.Get(v.packageName, purchase.ProductID, purchase.PurchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		// Unknown or malformed tokens come back as client errors; those are a
		// verdict, not a failure to verify.
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code < http.StatusInternalServerError {
			log.Debug("Purchase token rejected by play", zap.Int("status", gerr.Code))
			return false, nil
		}
		return false, fmt.Errorf("google products.get: %w", err)
	}

	// 0 = purchased, 1 = canceled, 2 = pending.
	if productPurchase.PurchaseState != 0 {
		log.Debug("Purchase is not in purchased state", zap.Int64("purchase_state", productPurchase.PurchaseState))
		return false, nil
	}

	if productPurchase.DeveloperPayload != "" && productPurchase.DeveloperPayload != purchase.DeveloperPayload {
		log.Warn("Developer payload differs from play record")
		return false, nil
	}

	return true, nil
}

func newService(ctx context.Context, opts ...option.ClientOption) (*androidpublisher.Service, error) {
	opts = append([]option.ClientOption{option.WithScopes(androidpublisher.AndroidpublisherScope)}, opts...)

	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create android publisher client: %w", err)
	}
	return svc, nil
}
