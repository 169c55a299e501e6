package premium

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/event"
)

// A subscriber that falls streamBufferSize events behind is dropped.
const streamBufferSize = 64

type Server struct {
	log      *zap.Logger
	registry *Registry

	streamsMu sync.RWMutex
	streams   map[string][]event.Stream[*event.Event]
}

func NewServer(log *zap.Logger, registry *Registry, bus *event.Bus[string, *event.Event]) *Server {
	s := &Server{
		log:      log,
		registry: registry,
		streams:  make(map[string][]event.Stream[*event.Event]),
	}

	bus.AddHandler(event.HandlerFunc[string, *event.Event](s.handleEvent))

	return s
}

func (s *Server) Bind(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	p, err := s.premiumer(req)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(p.Bind(ctx)), nil
}

func (s *Server) GetSkuDetails(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	p, err := s.premiumer(req)
	if err != nil {
		return nil, err
	}
	p.RequestSkuDetails(ctx)
	return &emptypb.Empty{}, nil
}

func (s *Server) Purchase(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	p, err := s.premiumer(req)
	if err != nil {
		return nil, err
	}

	intent, err := p.Purchase(ctx)
	switch {
	case errors.Is(err, ErrNotBound):
		return nil, status.Error(codes.FailedPrecondition, "not bound")
	case errors.Is(err, ErrAlreadyOwned):
		return nil, status.Error(codes.AlreadyExists, "sku already owned")
	case err != nil:
		return nil, s.billingError(req.Value, "failed to start purchase", err)
	}

	resp, err := buyIntentToStruct(intent)
	if err != nil {
		s.log.Warn("Failed to encode buy intent", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode buy intent")
	}
	return resp, nil
}

func (s *Server) HandleActivityResult(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	result, err := activityResultFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	p := s.registry.Get(result.owner)
	handled := p.HandleActivityResult(ctx, result.requestCode, result.resultCode, result.data)
	return wrapperspb.Bool(handled), nil
}

func (s *Server) ConsumeSku(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	p, err := s.premiumer(req)
	if err != nil {
		return nil, err
	}
	p.ConsumeSku(ctx)
	return &emptypb.Empty{}, nil
}

func (s *Server) GetPurchaseHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, opts, err := historyRequestFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	purchases, err := s.registry.Get(owner).PurchaseHistory(ctx, opts...)
	if err != nil {
		s.log.Warn("Failed to get purchase history", zap.String("owner", owner), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get purchase history")
	}

	resp, err := historyToStruct(purchases)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode purchase history")
	}
	return resp, nil
}

func (s *Server) StreamEvents(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	owner := req.GetValue()
	if owner == "" {
		return status.Error(codes.InvalidArgument, "missing owner")
	}

	streamID := uuid.New().String()

	log := s.log.With(
		zap.String("owner", owner),
		zap.String("stream_id", streamID),
	)

	ss := event.NewEventStream(streamID, streamBufferSize)

	s.streamsMu.Lock()
	s.streams[owner] = append(s.streams[owner], ss)
	s.streamsMu.Unlock()

	log.Debug("Event stream opened")

	defer func() {
		s.streamsMu.Lock()
		streams := s.streams[owner]
		for i, other := range streams {
			if other.ID() == streamID {
				streams = append(streams[:i], streams[i+1:]...)
				break
			}
		}
		if len(streams) == 0 {
			delete(s.streams, owner)
		} else {
			s.streams[owner] = streams
		}
		s.streamsMu.Unlock()

		ss.Close()
		log.Debug("Event stream closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ss.Channel():
			if !ok {
				log.Debug("Event stream overflowed")
				return status.Error(codes.Aborted, "stream closed")
			}
			if err := stream.Send(msg); err != nil {
				log.Debug("Failed to forward event", zap.Error(err))
				return err
			}
		}
	}
}

func (s *Server) handleEvent(owner string, e *event.Event) {
	s.streamsMu.RLock()
	streams := make([]event.Stream[*event.Event], len(s.streams[owner]))
	copy(streams, s.streams[owner])
	s.streamsMu.RUnlock()

	for _, stream := range streams {
		if err := stream.Notify(e, 0); err != nil {
			s.log.Warn("Failed to notify event stream",
				zap.String("owner", owner),
				zap.String("stream_id", stream.ID()),
				zap.Error(err),
			)
		}
	}
}

func (s *Server) streamCount(owner string) int {
	s.streamsMu.RLock()
	defer s.streamsMu.RUnlock()
	return len(s.streams[owner])
}

func (s *Server) premiumer(req *wrapperspb.StringValue) (*Premiumer, error) {
	owner := req.GetValue()
	if owner == "" {
		return nil, status.Error(codes.InvalidArgument, "missing owner")
	}
	return s.registry.Get(owner), nil
}

func (s *Server) billingError(owner, msg string, err error) error {
	switch billing.CodeOf(err) {
	case billing.ResponseServiceUnavailable, billing.ResponseBillingUnavailable:
		return status.Error(codes.Unavailable, msg)
	case billing.ResponseItemUnavailable, billing.ResponseDeveloperError:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		s.log.Warn(msg, zap.String("owner", owner), zap.Error(err))
		return status.Error(codes.Internal, msg)
	}
}
