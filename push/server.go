package push

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/premium-server/protoutil"
)

const ServiceName = "premium.v1.Push"

const (
	addTokenMethod    = "/" + ServiceName + "/AddToken"
	deleteTokenMethod = "/" + ServiceName + "/DeleteToken"
)

// Server registers device push tokens. Requests are structs with owner,
// app_install_id, token_type and token fields.
type Server struct {
	log    *zap.Logger
	tokens TokenStore
}

func NewServer(log *zap.Logger, tokens TokenStore) *Server {
	return &Server{
		log:    log,
		tokens: tokens,
	}
}

func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&ServiceDesc, s)
}

type tokenRequest struct {
	owner        string
	appInstallID string
	tokenType    TokenType
	token        string
}

func parseTokenRequest(req *structpb.Struct, needInstall bool) (*tokenRequest, error) {
	owner, err := protoutil.String(req, "owner")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	token, err := protoutil.String(req, "token")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	r := &tokenRequest{
		owner: owner,
		token: token,
	}
	if needInstall {
		if r.appInstallID, err = protoutil.String(req, "app_install_id"); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	tokenType, err := ParseTokenType(req.GetFields()["token_type"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r.tokenType = tokenType

	return r, nil
}

func (s *Server) AddToken(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	r, err := parseTokenRequest(req, true)
	if err != nil {
		return nil, err
	}

	if err = s.tokens.AddToken(ctx, r.owner, r.appInstallID, r.tokenType, r.token); err != nil {
		s.log.Warn("Failed to add push token", zap.String("owner", r.owner), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to add push token")
	}

	return &emptypb.Empty{}, nil
}

func (s *Server) DeleteToken(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	r, err := parseTokenRequest(req, false)
	if err != nil {
		return nil, err
	}

	log := s.log.With(zap.String("owner", r.owner), zap.String("push_token", r.token))

	existing, err := s.tokens.GetTokens(ctx, r.owner)
	if err != nil {
		log.Warn("Failed to get push tokens", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get push tokens")
	}

	// Owners may only delete their own tokens.
	exists := slices.ContainsFunc(existing, func(token Token) bool {
		return token.Type == r.tokenType && token.Token == r.token
	})
	if !exists {
		log.Debug("Did not delete push token (not found)")
		return &emptypb.Empty{}, nil
	}

	if err = s.tokens.DeleteToken(ctx, r.tokenType, r.token); err != nil {
		log.Warn("Failed to delete push token", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to delete push token")
	}

	return &emptypb.Empty{}, nil
}

type tokenServer interface {
	AddToken(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	DeleteToken(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

func tokenHandler(fullMethod string, call func(tokenServer, context.Context, *structpb.Struct) (*emptypb.Empty, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(tokenServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(tokenServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*tokenServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AddToken",
			Handler:    tokenHandler(addTokenMethod, tokenServer.AddToken),
		},
		{
			MethodName: "DeleteToken",
			Handler:    tokenHandler(deleteTokenMethod, tokenServer.DeleteToken),
		},
	},
	Metadata: "premium/v1/push.proto",
}

// Client calls the premium.v1.Push service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) AddToken(ctx context.Context, owner, appInstallID string, tokenType TokenType, token string) error {
	in, err := structpb.NewStruct(map[string]interface{}{
		"owner":          owner,
		"app_install_id": appInstallID,
		"token_type":     tokenType.String(),
		"token":          token,
	})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, addTokenMethod, in, new(emptypb.Empty))
}

func (c *Client) DeleteToken(ctx context.Context, owner string, tokenType TokenType, token string) error {
	in, err := structpb.NewStruct(map[string]interface{}{
		"owner":      owner,
		"token_type": tokenType.String(),
		"token":      token,
	})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, deleteTokenMethod, in, new(emptypb.Empty))
}
