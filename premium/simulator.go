package premium

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/billing/memory"
	"github.com/code-payments/premium-server/protoutil"
)

const SimulatorServiceName = "premium.v1.Simulator"

const completeMethod = "/" + SimulatorServiceName + "/Complete"

// Outcome selects how the simulated purchase screen completes.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeCancel           Outcome = "cancel"
	OutcomeNoData           Outcome = "no_data"
	OutcomeError            Outcome = "error"
	OutcomeWrongPayload     Outcome = "wrong_payload"
	OutcomeCorruptSignature Outcome = "corrupt_signature"
)

func (o Outcome) options() ([]memory.CompleteOption, error) {
	switch o {
	case OutcomeOK, "":
		return nil, nil
	case OutcomeCancel:
		return []memory.CompleteOption{memory.Cancel()}, nil
	case OutcomeNoData:
		return []memory.CompleteOption{memory.WithoutData()}, nil
	case OutcomeError:
		return []memory.CompleteOption{memory.WithResponseCode(billing.ResponseErrorCode)}, nil
	case OutcomeWrongPayload:
		return []memory.CompleteOption{memory.WithPayload("not-the-payload")}, nil
	case OutcomeCorruptSignature:
		return []memory.CompleteOption{memory.WithCorruptSignature()}, nil
	default:
		return nil, fmt.Errorf("unknown outcome %q", o)
	}
}

// SimulatorServer plays the platform purchase screen against the owner's
// in-memory billing account. The response is a HandleActivityResult request.
type SimulatorServer struct {
	log      *zap.Logger
	accounts *memory.Accounts
}

func NewSimulatorServer(log *zap.Logger, accounts *memory.Accounts) *SimulatorServer {
	return &SimulatorServer{
		log:      log,
		accounts: accounts,
	}
}

func (s *SimulatorServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&simulatorServiceDesc, s)
}

func (s *SimulatorServer) Complete(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := protoutil.String(req, "owner")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	intent := buyIntentFromStruct(req)
	if intent.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	opts, err := Outcome(req.GetFields()["outcome"].GetStringValue()).options()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resultCode, data := s.accounts.For(owner).Complete(intent, opts...)
	s.log.Debug("Completed simulated purchase",
		zap.String("owner", owner),
		zap.String("sku", intent.Sku),
		zap.Int("result_code", resultCode),
	)

	resp, err := activityResultToStruct(owner, intent.RequestCode, resultCode, data)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode activity result")
	}
	return resp, nil
}

type simulatorServer interface {
	Complete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var simulatorServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulatorServiceName,
	HandlerType: (*simulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Complete",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(simulatorServer).Complete(ctx, in)
				}
				info := &grpc.UnaryServerInfo{
					Server:     srv,
					FullMethod: completeMethod,
				}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(simulatorServer).Complete(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Metadata: "premium/v1/simulator.proto",
}

// SimulatorClient calls the premium.v1.Simulator service.
type SimulatorClient struct {
	cc grpc.ClientConnInterface
}

func NewSimulatorClient(cc grpc.ClientConnInterface) *SimulatorClient {
	return &SimulatorClient{cc: cc}
}

// Complete returns the activity result the platform delivers for intent.
func (c *SimulatorClient) Complete(ctx context.Context, owner string, intent *billing.BuyIntent, outcome Outcome, opts ...grpc.CallOption) (int, *billing.Intent, error) {
	in, err := buyIntentToStruct(intent)
	if err != nil {
		return 0, nil, err
	}
	in.Fields["owner"] = structpb.NewStringValue(owner)
	in.Fields["outcome"] = structpb.NewStringValue(string(outcome))

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, completeMethod, in, out, opts...); err != nil {
		return 0, nil, err
	}

	result, err := activityResultFromStruct(out)
	if err != nil {
		return 0, nil, err
	}
	return result.resultCode, result.data, nil
}
