package android

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/code-payments/premium-server/billing"
)

// Catalog reads in-app product listings from the Google Play Developer API.
type Catalog struct {
	svc         *androidpublisher.Service
	packageName string
}

func NewCatalog(ctx context.Context, packageName string, opts ...option.ClientOption) (*Catalog, error) {
	svc, err := newService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		svc:         svc,
		packageName: packageName,
	}, nil
}

func (c *Catalog) GetSkuDetails(ctx context.Context, sku string) (*billing.SkuDetails, error) {
	product, err := c.svc.Inappproducts.Get(c.packageName, sku).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, billing.NewResponseError("getSkuDetails", billing.ResponseItemUnavailable)
		}
		return nil, fmt.Errorf("google inappproducts.get: %w", err)
	}

	if product.Status != "" && product.Status != "active" {
		return nil, billing.NewResponseError("getSkuDetails", billing.ResponseItemUnavailable)
	}

	return toSkuDetails(product)
}

func toSkuDetails(product *androidpublisher.InAppProduct) (*billing.SkuDetails, error) {
	details := &billing.SkuDetails{
		ProductID: product.Sku,
		Type:      billing.ProductTypeInApp,
	}
	if product.PurchaseType == "subscription" {
		details.Type = "subs"
	}

	if product.DefaultPrice != nil {
		micros, err := strconv.ParseInt(product.DefaultPrice.PriceMicros, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price micros %q", billing.ErrMalformed, product.DefaultPrice.PriceMicros)
		}
		details.PriceAmountMicros = micros
		details.PriceCurrencyCode = product.DefaultPrice.Currency
	}

	listing, ok := product.Listings[product.DefaultLanguage]
	if !ok {
		for _, l := range product.Listings {
			listing = l
			break
		}
	}
	details.Title = listing.Title
	details.Description = listing.Description

	return details, nil
}
