package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "quoteengine.v1.MarketData"

// MarketDataServer takes and returns google.protobuf.Struct messages whose
// fields match the JSON shape of the HTTP API.
type MarketDataServer interface {
	// GetAggregated expects {"symbol": "..."}.
	GetAggregated(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// GetOrderBook expects {"exchange": "...", "symbol": "..."}.
	GetOrderBook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterMarketDataServer(s grpc.ServiceRegistrar, srv MarketDataServer) {
	s.RegisterService(&MarketDataServiceDesc, srv)
}

func getAggregatedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServer).GetAggregated(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetAggregated",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketDataServer).GetAggregated(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderBookHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServer).GetOrderBook(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetOrderBook",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketDataServer).GetOrderBook(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var MarketDataServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketDataServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAggregated", Handler: getAggregatedHandler},
		{MethodName: "GetOrderBook", Handler: getOrderBookHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quoteengine/v1/market_data.proto",
}
