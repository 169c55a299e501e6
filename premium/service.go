package premium

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "premium.v1.Premium"

const (
	bindMethod                 = "/" + ServiceName + "/Bind"
	getSkuDetailsMethod        = "/" + ServiceName + "/GetSkuDetails"
	purchaseMethod             = "/" + ServiceName + "/Purchase"
	handleActivityResultMethod = "/" + ServiceName + "/HandleActivityResult"
	consumeSkuMethod           = "/" + ServiceName + "/ConsumeSku"
	getPurchaseHistoryMethod   = "/" + ServiceName + "/GetPurchaseHistory"
	streamEventsMethod         = "/" + ServiceName + "/StreamEvents"
)

// PremiumServer is the server API of the premium.v1.Premium service. Every
// request is addressed by owner.
type PremiumServer interface {
	Bind(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetSkuDetails(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Purchase(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	HandleActivityResult(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	ConsumeSku(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetPurchaseHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamEvents(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
}

func RegisterPremiumServer(s grpc.ServiceRegistrar, srv PremiumServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts a typed unary method to a grpc.MethodDesc handler.
func unaryHandler[Req any, Res any](
	fullMethod string,
	call func(srv PremiumServer, ctx context.Context, req *Req) (*Res, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PremiumServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PremiumServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PremiumServer).StreamEvents(m, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PremiumServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Bind",
			Handler: unaryHandler(bindMethod, func(srv PremiumServer, ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
				return srv.Bind(ctx, req)
			}),
		},
		{
			MethodName: "GetSkuDetails",
			Handler: unaryHandler(getSkuDetailsMethod, func(srv PremiumServer, ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
				return srv.GetSkuDetails(ctx, req)
			}),
		},
		{
			MethodName: "Purchase",
			Handler: unaryHandler(purchaseMethod, func(srv PremiumServer, ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
				return srv.Purchase(ctx, req)
			}),
		},
		{
			MethodName: "HandleActivityResult",
			Handler: unaryHandler(handleActivityResultMethod, func(srv PremiumServer, ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
				return srv.HandleActivityResult(ctx, req)
			}),
		},
		{
			MethodName: "ConsumeSku",
			Handler: unaryHandler(consumeSkuMethod, func(srv PremiumServer, ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
				return srv.ConsumeSku(ctx, req)
			}),
		},
		{
			MethodName: "GetPurchaseHistory",
			Handler: unaryHandler(getPurchaseHistoryMethod, func(srv PremiumServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetPurchaseHistory(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "premium/v1/premium.proto",
}
