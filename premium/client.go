package premium

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/event"
	"github.com/code-payments/premium-server/query"
)

// PremiumClient calls the premium.v1.Premium service.
type PremiumClient struct {
	cc grpc.ClientConnInterface
}

func NewPremiumClient(cc grpc.ClientConnInterface) *PremiumClient {
	return &PremiumClient{cc: cc}
}

func (c *PremiumClient) Bind(ctx context.Context, owner string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, bindMethod, wrapperspb.String(owner), out, opts...); err != nil {
		return false, err
	}
	return out.Value, nil
}

func (c *PremiumClient) GetSkuDetails(ctx context.Context, owner string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, getSkuDetailsMethod, wrapperspb.String(owner), new(emptypb.Empty), opts...)
}

func (c *PremiumClient) Purchase(ctx context.Context, owner string, opts ...grpc.CallOption) (*billing.BuyIntent, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, purchaseMethod, wrapperspb.String(owner), out, opts...); err != nil {
		return nil, err
	}
	return buyIntentFromStruct(out), nil
}

func (c *PremiumClient) HandleActivityResult(ctx context.Context, owner string, requestCode, resultCode int, data *billing.Intent, opts ...grpc.CallOption) (bool, error) {
	in, err := activityResultToStruct(owner, requestCode, resultCode, data)
	if err != nil {
		return false, err
	}

	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, handleActivityResultMethod, in, out, opts...); err != nil {
		return false, err
	}
	return out.Value, nil
}

func (c *PremiumClient) ConsumeSku(ctx context.Context, owner string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, consumeSkuMethod, wrapperspb.String(owner), new(emptypb.Empty), opts...)
}

// GetPurchaseHistory returns the stored purchases of owner.
func (c *PremiumClient) GetPurchaseHistory(ctx context.Context, owner string, opts ...query.Option) ([]*HistoryEntry, error) {
	in, err := historyRequestToStruct(owner, query.ApplyOptions(opts...))
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getPurchaseHistoryMethod, in, out); err != nil {
		return nil, err
	}
	return historyFromStruct(out)
}

// StreamEvents opens the event stream of owner.
func (c *PremiumClient) StreamEvents(ctx context.Context, owner string, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamEventsMethod, opts...)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.String(owner)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: x}, nil
}

type EventStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (*event.Event, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return event.FromStruct(msg)
}
