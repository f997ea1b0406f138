// Command authserver starts the authorization gRPC server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/authserver/internal/api"
	"github.com/and161185/authserver/internal/authz"
	"github.com/and161185/authserver/internal/catalog"
	"github.com/and161185/authserver/internal/config"
	"github.com/and161185/authserver/internal/license"
	"github.com/and161185/authserver/internal/limiter"
	"github.com/and161185/authserver/internal/migrate"
	"github.com/and161185/authserver/internal/obs"
	"github.com/and161185/authserver/internal/repository/postgres"
	grpcserver "github.com/and161185/authserver/internal/server/grpc"
	"github.com/and161185/authserver/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// main loads configuration, runs migrations, and serves the AuthServer API.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log level:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Build(logger.Named("catalog"), catalog.Definitions())
	if err != nil {
		logger.Fatal("operation catalog", zap.Error(err))
	}

	if err := migrate.Up(ctx, logger, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	roleRepo := postgres.NewRoleRepo(db)
	tokenRepo := postgres.NewTokenRepo(db)
	licenseRepo := postgres.NewLicenseRepo(db)

	lim := limiter.NewPG(pool, limiter.Policy{
		Window:   cfg.Login.Window,
		MaxFails: cfg.Login.MaxFails,
		BlockFor: cfg.Login.BlockFor,
	})

	minter, err := license.NewMinter([]byte(cfg.LicenseKey))
	if err != nil {
		logger.Fatal("license minter", zap.Error(err))
	}

	metrics := obs.NewMetrics()

	// Services
	tokenSvc := service.NewTokenService(tokenRepo, cfg.AccessTTL, cfg.RefreshTTL,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)
	roleSvc := service.NewRoleService(roleRepo, cat, logger)
	grantSvc := service.NewGrantService(userRepo, licenseRepo, tokenSvc, lim, minter, logger)
	userSvc := service.NewUserService(userRepo)

	added, err := roleSvc.SyncCatalog(ctx)
	if err != nil {
		logger.Fatal("sync operations", zap.Error(err))
	}
	logger.Info("operations synced", zap.Int("operations", cat.Len()), zap.Int64("added", added))

	if cfg.SuperuserRole != "" {
		if _, err := roleSvc.EnsureSuperuser(ctx, cfg.SuperuserRole); err != nil {
			logger.Fatal("superuser role", zap.String("role", cfg.SuperuserRole), zap.Error(err))
		}
	}

	if cfg.JanitorEvery > 0 {
		purge := func(ctx context.Context, now time.Time) error {
			_, err := lim.Purge(ctx, now.Add(-(cfg.Login.Window + cfg.Login.BlockFor)))
			return err
		}
		go tokenSvc.RunJanitor(ctx, cfg.JanitorEvery, purge)
	}

	// gRPC server with interceptors
	app := grpcserver.New(grantSvc, tokenSvc, roleSvc, userSvc, authz.NewAuthorizer(logger.Named("authz"), metrics), cat, logger)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger, metrics),
			grpcserver.RateLimitUnary(cfg.RateLimit.RPS, cfg.RateLimit.Burst,
				api.FullMethod(api.MethodAuthorize),
				api.FullMethod(api.MethodLogin),
				api.FullMethod(api.MethodCheckToken),
				api.FullMethod(api.MethodRefreshToken),
			),
			app.AuthUnary(),
		),
	}
	if cfg.TLS.Cert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving without TLS")
	}
	s := grpc.NewServer(opts...)
	api.RegisterAuthServerServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Reflection {
		reflection.Register(s)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLS.Cert != ""))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(sctx)
		cancel()
	}
	logger.Info("shutdown complete")
}
