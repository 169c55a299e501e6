package event

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/premium-server/billing"
)

// Kind identifies one of the premium notifications.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindShowAds
	KindHideAds
	KindBillingUnavailable
	KindSkuDetails
	KindSkuConsumed
	KindSkuConsumeFailed
	KindPurchaseSuccessful
	KindPurchaseBadResult
	KindPurchaseBadResponse
	KindPurchaseInvalidPayload
)

var kindNames = map[Kind]string{
	KindShowAds:                "show_ads",
	KindHideAds:                "hide_ads",
	KindBillingUnavailable:     "billing_unavailable",
	KindSkuDetails:             "sku_details",
	KindSkuConsumed:            "sku_consumed",
	KindSkuConsumeFailed:       "sku_consume_failed",
	KindPurchaseSuccessful:     "purchase_successful",
	KindPurchaseBadResult:      "purchase_bad_result",
	KindPurchaseBadResponse:    "purchase_bad_response",
	KindPurchaseInvalidPayload: "purchase_invalid_payload",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Event is a single notification delivered to an owner. Only the fields that
// belong to Kind are set.
type Event struct {
	Owner     string
	Kind      Kind
	Timestamp time.Time

	// KindSkuDetails. Nil when the lookup failed.
	SkuDetails *billing.SkuDetails

	// KindPurchaseSuccessful and KindPurchaseInvalidPayload.
	Purchase *billing.Purchase

	// KindPurchaseBadResult and KindPurchaseBadResponse.
	ResultCode int
	Data       *billing.Intent

	// KindPurchaseInvalidPayload.
	ExpectedPayload string
	ActualPayload   string
}

func (e *Event) Clone() *Event {
	return &Event{
		Owner:           e.Owner,
		Kind:            e.Kind,
		Timestamp:       e.Timestamp,
		SkuDetails:      e.SkuDetails.Clone(),
		Purchase:        e.Purchase.Clone(),
		ResultCode:      e.ResultCode,
		Data:            e.Data.Clone(),
		ExpectedPayload: e.ExpectedPayload,
		ActualPayload:   e.ActualPayload,
	}
}

// ToStruct renders the event for the wire.
func (e *Event) ToStruct() (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"owner":     e.Owner,
		"kind":      e.Kind.String(),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	switch e.Kind {
	case KindSkuDetails:
		if e.SkuDetails != nil {
			var details map[string]interface{}
			if err := json.Unmarshal([]byte(e.SkuDetails.JSON()), &details); err != nil {
				return nil, err
			}
			fields["sku_details"] = details
		}
	case KindPurchaseBadResult:
		fields["result_code"] = e.ResultCode
		if e.Data != nil {
			fields["data"] = intentFields(e.Data)
		}
	case KindPurchaseBadResponse:
		if e.Data != nil {
			fields["data"] = intentFields(e.Data)
		}
	case KindPurchaseInvalidPayload:
		fields["expected_payload"] = e.ExpectedPayload
		fields["actual_payload"] = e.ActualPayload
		fallthrough
	case KindPurchaseSuccessful:
		if e.Purchase != nil {
			fields["purchase"] = map[string]interface{}{
				"product_id": e.Purchase.ProductID,
				"order_id":   e.Purchase.OrderID,
				"data":       e.Purchase.OriginalJSON,
				"signature":  e.Purchase.Signature,
			}
		}
	}

	return structpb.NewStruct(fields)
}

func intentFields(i *billing.Intent) map[string]interface{} {
	return map[string]interface{}{
		"response_code":  int(i.ResponseCode),
		"purchase_data":  i.PurchaseData,
		"data_signature": i.DataSignature,
	}
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (*Event, error) {
	fields := s.GetFields()

	e := &Event{
		Owner: fields["owner"].GetStringValue(),
		Kind:  ParseKind(fields["kind"].GetStringValue()),
	}
	if e.Kind == KindUnknown {
		return nil, fmt.Errorf("unknown event kind %q", fields["kind"].GetStringValue())
	}

	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = t
	}

	if v, ok := fields["sku_details"]; ok {
		b, err := json.Marshal(v.GetStructValue().AsMap())
		if err != nil {
			return nil, err
		}
		if e.SkuDetails, err = billing.ParseSkuDetails(string(b)); err != nil {
			return nil, err
		}
	}

	if v, ok := fields["purchase"]; ok {
		p := v.GetStructValue().GetFields()
		purchase, err := billing.ParsePurchase(p["data"].GetStringValue(), p["signature"].GetStringValue())
		if err != nil {
			return nil, err
		}
		e.Purchase = purchase
	}

	if v, ok := fields["data"]; ok {
		d := v.GetStructValue().GetFields()
		e.Data = &billing.Intent{
			ResponseCode:  billing.ResponseCode(d["response_code"].GetNumberValue()),
			PurchaseData:  d["purchase_data"].GetStringValue(),
			DataSignature: d["data_signature"].GetStringValue(),
		}
	}

	e.ResultCode = int(fields["result_code"].GetNumberValue())
	e.ExpectedPayload = fields["expected_payload"].GetStringValue()
	e.ActualPayload = fields["actual_payload"].GetStringValue()

	return e, nil
}
