package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/armada-fleet/armada/internal/abuse"
	"github.com/armada-fleet/armada/internal/app"
	"github.com/armada-fleet/armada/internal/authz"
	"github.com/armada-fleet/armada/internal/clock"
	"github.com/armada-fleet/armada/internal/credential"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/cache"
	"github.com/armada-fleet/armada/internal/platform/db"
	"github.com/armada-fleet/armada/internal/policy"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	clk := clock.System{}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	// Authorization path.
	catalog := authz.DefaultCatalog()
	resolver := authz.NewResolver(catalog, authz.NewRedisCache(redisClient), clk, cfg.ResolveCacheTTL, logger)
	evaluator := authz.NewEvaluator(resolver)
	assignments := authz.NewRepository(pool)
	authzHandler := authz.NewHandler(logger, assignments, resolver, evaluator, metrics)
	authzMiddleware := authz.Middleware{Store: assignments, Resolver: resolver, Logger: logger}

	// Policy path. A boot key is generated when the shared ring is empty:
	// a core without a signing key must fail loudly at startup, never at
	// issuance time.
	keyring, err := policy.NewPersistentKeyRing(ctx, clk, policy.NewRedisKeyStore(redisClient))
	if err != nil {
		logger.Error("load keyring", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := keyring.SigningKey(); err != nil {
		record, genErr := keyring.Generate(ctx)
		if genErr != nil {
			logger.Error("generate boot key", slog.Any("error", genErr))
			os.Exit(1)
		}
		logger.Info("generated boot signing key", slog.String("key_id", record.ID))
	}
	builder := policy.NewBuilder(cfg.PolicySkew)
	signer := policy.NewSigner(keyring)
	verifier := policy.NewVerifier(keyring, clk, cfg.PolicySkew)
	policyHandler := policy.NewHandler(policy.HandlerConfig{
		Logger:   logger,
		Builder:  builder,
		Signer:   signer,
		Verifier: verifier,
		KeyRing:  keyring,
		Clock:    clk,
		TTL:      cfg.PolicyTTL,
		Metrics:  metrics,
	})

	// Abuse-control path.
	store := abuse.NewRedisStore(redisClient)
	limiter := abuse.NewRateLimiter(store, abuse.Config{
		Purposes: map[abuse.Purpose]abuse.Limit{
			abuse.PurposeCredentialLogin:    {Max: cfg.LoginLimit, Window: cfg.LoginWindow},
			abuse.PurposePINVerify:          {Max: cfg.PINLimit, Window: cfg.PINWindow},
			abuse.PurposePrivilegedOverride: {Max: cfg.OverrideLimit, Window: cfg.OverrideWindow},
			abuse.PurposeBulkIngest:         {Max: cfg.IngestLimit, Window: cfg.IngestWindow},
		},
		GlobalOrigin: abuse.Limit{Max: cfg.GlobalOriginLimit, Window: cfg.GlobalOriginWin},
	}, logger)
	lockouts := abuse.NewLockoutTracker(store, abuse.LockoutConfig{
		Threshold: cfg.LockoutThreshold,
		BaseLock:  cfg.LockoutBase,
		MaxLock:   cfg.LockoutMax,
		Retention: cfg.LockoutRetention,
	}, clk, logger)
	gate := credential.NewGate(limiter, lockouts, credential.BcryptVerifier{}, logger)
	credentialHandler := credential.NewHandler(logger, gate, metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AuthzHandler:      authzHandler,
		AuthzMiddleware:   authzMiddleware,
		PolicyHandler:     policyHandler,
		CredentialHandler: credentialHandler,
		Metrics:           metrics,
	})

	apiServer := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("api listening", slog.String("addr", cfg.AppAddr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("serve", slog.Any("error", err))
		os.Exit(1)
	}
}
