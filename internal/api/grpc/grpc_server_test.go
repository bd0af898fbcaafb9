package grpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/olyamironova/quote-engine/internal/adapter/exchange"
	"github.com/olyamironova/quote-engine/internal/adapter/in_memory"
	"github.com/olyamironova/quote-engine/internal/config"
	"github.com/olyamironova/quote-engine/internal/core"
	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/ratelimit"
)

func startServer(t *testing.T, limit int) *grpc.ClientConn {
	t.Helper()
	return startServerTrusting(t, limit, false)
}

func startServerTrusting(t *testing.T, limit int, trustClientID bool) *grpc.ClientConn {
	t.Helper()
	log := logger.Discard()

	kraken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/public/Depth" || r.URL.Query().Get("pair") != "XBTUSD" {
			w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
			return
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{"asks":[["101","1",1]],"bids":[["100","2",1]]}}}`))
	}))
	t.Cleanup(kraken.Close)

	reg := exchange.NewRegistry(config.ExchangesConfig{
		CallTimeout: time.Second,
		Fallback:    domain.ExchangeCredential{ExchangeName: "kraken"},
		BaseURLs:    map[string]string{"kraken": kraken.URL},
	}, nil, log)
	cache := in_memory.NewCache()
	eng := core.NewEngine(reg, cache, core.Options{CallTimeout: time.Second, MaxConcurrency: 1}, log)
	srv := NewGRPCServer(eng, ratelimit.New(cache, limit, time.Minute), trustClientID, log)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func call(ctx context.Context, conn *grpc.ClientConn, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestGetAggregated(t *testing.T) {
	conn := startServer(t, 100)
	out, err := call(context.Background(), conn, "GetAggregated", map[string]interface{}{"symbol": "BTCUSD"})
	if err != nil {
		t.Fatalf("GetAggregated: %v", err)
	}
	best := out.GetFields()["best_bid"].GetStructValue().GetFields()
	if best["price"].GetNumberValue() != 100 || best["exchange"].GetStringValue() != "kraken" {
		t.Fatalf("unexpected best bid %v", best)
	}
	if n := len(out.GetFields()["exchange_data"].GetListValue().GetValues()); n != 1 {
		t.Fatalf("exchange_data has %d entries", n)
	}
}

func TestGetOrderBook(t *testing.T) {
	conn := startServer(t, 100)
	out, err := call(context.Background(), conn, "GetOrderBook", map[string]interface{}{"exchange": "kraken", "symbol": "BTC/USD"})
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if out.GetFields()["spread"].GetNumberValue() != 1 {
		t.Fatalf("unexpected snapshot %v", out)
	}
}

func TestErrorCodes(t *testing.T) {
	conn := startServer(t, 100)
	ctx := context.Background()

	_, err := call(ctx, conn, "GetAggregated", map[string]interface{}{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing symbol: %v", err)
	}
	_, err = call(ctx, conn, "GetAggregated", map[string]interface{}{"symbol": "FOOBAR"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unknown symbol: %v", err)
	}
	_, err = call(ctx, conn, "GetOrderBook", map[string]interface{}{"exchange": "ftx", "symbol": "BTCUSD"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unknown exchange: %v", err)
	}
}

func TestRateLimitInterceptor(t *testing.T) {
	conn := startServerTrusting(t, 2, true)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-client-id", "grpc-client")

	for i, want := range []codes.Code{codes.OK, codes.OK, codes.ResourceExhausted} {
		_, err := call(ctx, conn, "GetOrderBook", map[string]interface{}{"exchange": "kraken", "symbol": "BTCUSD"})
		if status.Code(err) != want {
			t.Fatalf("call %d: code %v, want %v", i+1, status.Code(err), want)
		}
	}

	other := metadata.AppendToOutgoingContext(context.Background(), "x-client-id", "someone-else")
	if _, err := call(other, conn, "GetOrderBook", map[string]interface{}{"exchange": "kraken", "symbol": "BTCUSD"}); err != nil {
		t.Fatalf("independent client limited: %v", err)
	}
}

func TestRateLimitIgnoresClientIDMetadataByDefault(t *testing.T) {
	conn := startServer(t, 2)

	var codesSeen []codes.Code
	for i := 0; i < 5; i++ {
		ctx := metadata.AppendToOutgoingContext(context.Background(), "x-client-id", fmt.Sprintf("rotating-%d", i))
		_, err := call(ctx, conn, "GetOrderBook", map[string]interface{}{"exchange": "kraken", "symbol": "BTCUSD"})
		codesSeen = append(codesSeen, status.Code(err))
	}
	for i, want := range []codes.Code{codes.OK, codes.OK, codes.ResourceExhausted, codes.ResourceExhausted, codes.ResourceExhausted} {
		if codesSeen[i] != want {
			t.Fatalf("call %d: code %v, want %v (all %v)", i+1, codesSeen[i], want, codesSeen)
		}
	}
}

func TestCallerIdentity(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.4"), Port: 5000}})
	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("x-client-id", "spoofed"))

	if got := callerIdentity(ctx, false); got != "203.0.113.4" {
		t.Fatalf("untrusted identity = %q", got)
	}
	if got := callerIdentity(ctx, true); got != "spoofed" {
		t.Fatalf("trusted identity = %q", got)
	}
}
