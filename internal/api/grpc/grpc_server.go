package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/olyamironova/quote-engine/internal/core"
	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/ratelimit"
)

type GRPCServer struct {
	Eng *core.Engine
	log *logger.Log
	srv *grpc.Server
}

var _ MarketDataServer = (*GRPCServer)(nil)

// trustClientID keys the rate limit on x-client-id metadata instead of the
// peer address; set it only behind a gateway that owns that key.
func NewGRPCServer(eng *core.Engine, limiter *ratelimit.Limiter, trustClientID bool, log *logger.Log) *GRPCServer {
	s := &GRPCServer{Eng: eng, log: log}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(RateLimitInterceptor(limiter, trustClientID, log)))
	RegisterMarketDataServer(s.srv, s)
	return s
}

func (s *GRPCServer) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.WithComponent("grpc").WithFields(logger.Fields{"addr": lis.Addr().String()}).Info("grpc server listening")
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) Stop() {
	s.srv.GracefulStop()
}

func (s *GRPCServer) GetAggregated(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol := field(req, "symbol")
	if symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "symbol is required")
	}
	view, err := s.Eng.Aggregated(ctx, symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

func (s *GRPCServer) GetOrderBook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	exchangeName, symbol := field(req, "exchange"), field(req, "symbol")
	if exchangeName == "" || symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "exchange and symbol are required")
	}
	snap, err := s.Eng.OrderBook(ctx, exchangeName, symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(snap)
}

func field(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

// toStruct converts v through its JSON form so gRPC clients see the same
// field names as HTTP clients.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExchangeUnavailable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// callerIdentity is the peer host, or the x-client-id metadata key when
// trustClientID is set and the key is present.
func callerIdentity(ctx context.Context, trustClientID bool) string {
	if trustClientID {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-client-id"); len(ids) > 0 && ids[0] != "" {
				return ids[0]
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}
	return "unknown"
}

// RateLimitInterceptor applies the same fixed window as the HTTP API.
func RateLimitInterceptor(l *ratelimit.Limiter, trustClientID bool, log *logger.Log) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		identity := callerIdentity(ctx, trustClientID)
		d, err := l.Allow(ctx, identity)
		if err != nil {
			log.WithComponent("rate_limiter").WithFields(logger.Fields{
				"client": identity,
				"method": info.FullMethod,
			}).WithError(err).Error("rate limit check failed")
			return nil, status.Error(codes.Internal, err.Error())
		}
		if !d.Allowed {
			return nil, status.Error(codes.ResourceExhausted, ratelimit.RejectMessage)
		}
		return handler(ctx, req)
	}
}
