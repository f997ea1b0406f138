package grpcserver

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/authserver/internal/errs"
	"github.com/and161185/authserver/internal/obs"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "x-request-id"

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ulid.Make().String()
}

// LoggingUnary returns a unary server interceptor for structured logging and RPC metrics.
// Payloads are never logged. The caller id is logged when an inner AuthUnary
// authenticated the call.
func LoggingUnary(log *zap.Logger, metrics *obs.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		rid := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, rid))
		ctx, slot := withCallerSlot(ctx)

		resp, err := next(ctx, req)
		code := status.Code(err)
		dur := time.Since(start)
		metrics.RPC(info.FullMethod, code.String(), dur)

		fields := []zap.Field{
			zap.String("request_id", rid),
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", dur),
			zap.String("peer", remoteAddr(ctx)),
		}
		if slot.ok {
			fields = append(fields, zap.String("user_id", slot.user.ID.String()))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary resolves the bearer token of governed methods into the caller and
// stores it in context. Public methods pass through untouched.
func (s *Server) AuthUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, governed := s.routes[info.FullMethod]; !governed {
			return next(ctx, req)
		}
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		row, _, err := s.tokens.Resolve(ctx, tok)
		if err != nil {
			if errors.Is(err, errs.ErrInvalidRequest) || errors.Is(err, errs.ErrUnauthorized) {
				return nil, status.Error(codes.Unauthenticated, errs.Reason(err))
			}
			return nil, toStatus(s.log, info.FullMethod, err)
		}
		u, err := s.users.ByID(ctx, row.UserID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, status.Error(codes.Unauthenticated, "unknown user")
			}
			return nil, toStatus(s.log, info.FullMethod, err)
		}
		if !u.Active {
			return nil, status.Error(codes.Unauthenticated, "user disabled")
		}
		return next(WithCaller(ctx, u), req)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// peerLimiter hands out one token bucket per remote host.
type peerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets map[string]*bucket
	sweep   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func (p *peerLimiter) allow(host string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.sweep) > p.idle {
		for k, b := range p.buckets {
			if now.Sub(b.seen) > p.idle {
				delete(p.buckets, k)
			}
		}
		p.sweep = now
	}
	b, ok := p.buckets[host]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[host] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// RateLimitUnary throttles the listed methods per remote host with a token bucket.
// Other methods pass through.
func RateLimitUnary(rps float64, burst int, methods ...string) grpc.UnaryServerInterceptor {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}
	pl := &peerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
		buckets: map[string]*bucket{},
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !limited[info.FullMethod] {
			return next(ctx, req)
		}
		host := remoteAddr(ctx)
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !pl.allow(host, time.Now()) {
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}
		return next(ctx, req)
	}
}
