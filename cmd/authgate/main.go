// Command authgate serves the authentication API of the admin dashboard.
//
// Without REDIS_ADDR it runs against an embedded miniredis, and without
// DATABASE_URL against the in-memory account store; both are for local
// development only.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neurocheck/authgate"
	"github.com/neurocheck/authgate/httpapi"
	"github.com/neurocheck/authgate/jwt"
	"github.com/neurocheck/authgate/metrics/export/prometheus"
	"github.com/neurocheck/authgate/store/memory"
	"github.com/neurocheck/authgate/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *migrateOnly {
		if cfg.DatabaseURL == "" {
			logger.Fatal("DATABASE_URL is required for -migrate")
		}
		if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg serverConfig) (*zap.Logger, error) {
	if cfg.production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg serverConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, closeStore, err := openAccountStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.SessionTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.JWTSecret),
		Issuer:        "authgate",
		RequireIAT:    true,
	})
	if err != nil {
		return err
	}

	engineCfg := authgate.DefaultConfig()
	engineCfg.Audit.Enabled = cfg.AuditEnabled
	engineCfg.Metrics.Enabled = cfg.MetricsEnabled
	engineCfg.Metrics.EnableLatencyHistograms = cfg.MetricsEnabled

	engine, err := authgate.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithSessionIssuer(tokens).
		WithResetNotifier(&logNotifier{logger: logger.Named("reset"), baseURL: cfg.ResetURL, showLinks: !cfg.production()}).
		WithAuditSink(authgate.NewZapAuditSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("authentication engine ready",
		zap.Int("captcha_after_failures", report.CaptchaAfterFailures),
		zap.Int("lock_after_failures", report.LockAfterFailures),
		zap.Duration("lock_duration", report.LockDuration),
		zap.Bool("shadow_lockout", report.ShadowLockoutActive),
		zap.Bool("two_factor_replay_guard", report.TwoFactorReplayGuard),
		zap.Bool("audit", report.AuditActive),
	)

	if cfg.production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(prometheus.New(engine).Handler()))
	}
	httpapi.NewHandler(engine, tokens, logger).Register(router.Group("/api"))

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(cfg serverConfig, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return rdb, func() { _ = rdb.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	logger.Warn("REDIS_ADDR not set, using embedded redis", zap.String("addr", mr.Addr()))
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}, nil
}

func openAccountStore(ctx context.Context, cfg serverConfig, logger *zap.Logger) (authgate.AccountStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, accounts are kept in memory")
		return memory.New(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}
