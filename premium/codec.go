package premium

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/iap"
	"github.com/code-payments/premium-server/protoutil"
	"github.com/code-payments/premium-server/query"
)

func buyIntentToStruct(intent *billing.BuyIntent) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"sku":          intent.Sku,
		"payload":      intent.Payload,
		"request_code": intent.RequestCode,
		"token":        intent.Token,
	})
}

func buyIntentFromStruct(s *structpb.Struct) *billing.BuyIntent {
	fields := s.GetFields()
	return &billing.BuyIntent{
		Sku:         fields["sku"].GetStringValue(),
		Payload:     fields["payload"].GetStringValue(),
		RequestCode: int(fields["request_code"].GetNumberValue()),
		Token:       fields["token"].GetStringValue(),
	}
}

// activityResult is the decoded HandleActivityResult request.
type activityResult struct {
	owner       string
	requestCode int
	resultCode  int
	data        *billing.Intent
}

func activityResultToStruct(owner string, requestCode, resultCode int, data *billing.Intent) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"owner":        owner,
		"request_code": requestCode,
		"result_code":  resultCode,
	}
	if data != nil {
		fields["data"] = map[string]interface{}{
			"response_code":  int(data.ResponseCode),
			"purchase_data":  data.PurchaseData,
			"data_signature": data.DataSignature,
		}
	}
	return structpb.NewStruct(fields)
}

func activityResultFromStruct(s *structpb.Struct) (*activityResult, error) {
	owner, err := protoutil.String(s, "owner")
	if err != nil {
		return nil, err
	}
	requestCode, err := protoutil.Int(s, "request_code")
	if err != nil {
		return nil, err
	}
	resultCode, err := protoutil.Int(s, "result_code")
	if err != nil {
		return nil, err
	}

	result := &activityResult{
		owner:       owner,
		requestCode: requestCode,
		resultCode:  resultCode,
	}

	d, err := protoutil.Struct(s, "data")
	if err != nil {
		return nil, err
	}
	if d != nil {
		result.data = &billing.Intent{
			ResponseCode:  billing.ResponseCode(d.GetFields()["response_code"].GetNumberValue()),
			PurchaseData:  d.GetFields()["purchase_data"].GetStringValue(),
			DataSignature: d.GetFields()["data_signature"].GetStringValue(),
		}
	}

	return result, nil
}

// HistoryEntry is a stored purchase as reported by GetPurchaseHistory.
type HistoryEntry struct {
	ReceiptID string
	OrderID   string
	Sku       string
	State     string
	CreatedAt time.Time
}

func historyRequestToStruct(owner string, opts query.Options) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"owner": owner,
		"limit": opts.Limit,
		"order": opts.Order.String(),
	}
	if opts.Cursor != nil {
		fields["cursor"] = opts.Cursor.CreatedAt.UTC().Format(time.RFC3339Nano)
		fields["cursor_id"] = opts.Cursor.ID
	}
	return structpb.NewStruct(fields)
}

func historyRequestFromStruct(s *structpb.Struct) (string, []query.Option, error) {
	owner, err := protoutil.String(s, "owner")
	if err != nil {
		return "", nil, err
	}

	var opts []query.Option
	if _, ok := s.GetFields()["limit"]; ok {
		limit, err := protoutil.Int(s, "limit")
		if err != nil {
			return "", nil, err
		}
		opts = append(opts, query.WithLimit(limit))
	}

	order, err := query.ParseOrder(s.GetFields()["order"].GetStringValue())
	if err != nil {
		return "", nil, err
	}
	opts = append(opts, query.WithOrder(order))

	if cursor := s.GetFields()["cursor"].GetStringValue(); cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return "", nil, fmt.Errorf("invalid cursor: %w", err)
		}
		opts = append(opts, query.WithCursor(t, s.GetFields()["cursor_id"].GetStringValue()))
	}

	return owner, opts, nil
}

func historyToStruct(purchases []*iap.Purchase) (*structpb.Struct, error) {
	entries := make([]interface{}, len(purchases))
	for i, p := range purchases {
		entries[i] = map[string]interface{}{
			"receipt_id": p.ReceiptIDString(),
			"order_id":   p.OrderID,
			"sku":        p.Sku,
			"state":      p.State.String(),
			"created_at": p.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return structpb.NewStruct(map[string]interface{}{
		"purchases": entries,
	})
}

func historyFromStruct(s *structpb.Struct) ([]*HistoryEntry, error) {
	values := s.GetFields()["purchases"].GetListValue().GetValues()

	entries := make([]*HistoryEntry, 0, len(values))
	for _, v := range values {
		fields := v.GetStructValue().GetFields()
		createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"].GetStringValue())
		if err != nil {
			return nil, err
		}
		entries = append(entries, &HistoryEntry{
			ReceiptID: fields["receipt_id"].GetStringValue(),
			OrderID:   fields["order_id"].GetStringValue(),
			Sku:       fields["sku"].GetStringValue(),
			State:     fields["state"].GetStringValue(),
			CreatedAt: createdAt,
		})
	}
	return entries, nil
}
