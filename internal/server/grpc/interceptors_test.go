package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/authserver/internal/obs"
)

type fakeAddr string

func (fakeAddr) Network() string  { return "tcp" }
func (a fakeAddr) String() string { return string(a) }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	m := obs.NewMetrics()
	ic := LoggingUnary(zap.New(core), m)

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr("127.0.0.1:12345")})
	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(RequestIDHeader, "rid-1"))
	info := &grpc.UnaryServerInfo{FullMethod: "/authserver.v1.AuthServer/CheckToken"}

	resp, err := ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	_, err = ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	entries := logs.FilterMessage("grpc").All()
	if len(entries) != 2 {
		t.Fatalf("log entries: %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "rid-1" || fields["peer"] != "127.0.0.1:12345" || fields["code"] != "OK" {
		t.Fatalf("fields: %v", fields)
	}

	families, _ := m.Registry().Gather()
	found := false
	for _, f := range families {
		if f.GetName() == "grpc_server_handled_total" {
			found = len(f.GetMetric()) == 2
		}
	}
	if !found {
		t.Fatalf("rpc counters not recorded")
	}
}

func TestLoggingUnary_GeneratesRequestID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	ic := LoggingUnary(zap.New(core), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/authserver.v1.AuthServer/Login"}

	_, _ = ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) { return nil, nil })
	rid, _ := logs.All()[0].ContextMap()["request_id"].(string)
	if len(rid) != 26 {
		t.Fatalf("want ulid request id, got %q", rid)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/authserver.v1.AuthServer/Panic"}

	_, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/authserver.v1.AuthServer/Ok"}

	resp, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}

func TestRateLimitUnary(t *testing.T) {
	t.Parallel()

	const limited = "/authserver.v1.AuthServer/Login"
	ic := RateLimitUnary(0.001, 2, limited)
	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	a := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr("10.0.0.1:1000")})
	aOtherPort := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr("10.0.0.1:2000")})
	b := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr("10.0.0.2:1000")})
	info := &grpc.UnaryServerInfo{FullMethod: limited}

	for i, ctx := range []context.Context{a, aOtherPort} {
		if _, err := ic(ctx, nil, info, h); err != nil {
			t.Fatalf("call %d within burst: %v", i, err)
		}
	}
	if _, err := ic(a, nil, info, h); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}
	if _, err := ic(b, nil, info, h); err != nil {
		t.Fatalf("other peer throttled: %v", err)
	}
	if _, err := ic(a, nil, &grpc.UnaryServerInfo{FullMethod: "/authserver.v1.AuthServer/GetRole"}, h); err != nil {
		t.Fatalf("unlisted method throttled: %v", err)
	}
}

func TestPeerLimiter_EvictsIdle(t *testing.T) {
	t.Parallel()

	pl := &peerLimiter{limit: 1, burst: 1, idle: time.Minute, buckets: map[string]*bucket{}}
	now := time.Now()
	pl.allow("a", now)
	pl.allow("b", now.Add(2*time.Minute))
	if _, ok := pl.buckets["a"]; ok {
		t.Fatalf("idle bucket kept")
	}
	if len(pl.buckets) != 1 {
		t.Fatalf("buckets: %d", len(pl.buckets))
	}
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}
