package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/smorting-auth/api/swagger"
	"github.com/noah-isme/smorting-auth/internal/handler"
	internalmiddleware "github.com/noah-isme/smorting-auth/internal/middleware"
	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/repository"
	"github.com/noah-isme/smorting-auth/internal/service"
	"github.com/noah-isme/smorting-auth/pkg/cache"
	"github.com/noah-isme/smorting-auth/pkg/config"
	"github.com/noah-isme/smorting-auth/pkg/database"
	"github.com/noah-isme/smorting-auth/pkg/logger"
)

// @title Smor-Ting Auth API
// @version 1.0.0
// @description Authentication and session integrity service
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.BruteForce.Backend == config.LockoutBackendRedis {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	app := buildApp(ctx, cfg, db, redisClient, logr)
	defer app.events.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "lockout_backend", cfg.BruteForce.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type app struct {
	router *gin.Engine
	events *service.SecurityEventService
}

// buildApp wires repositories, services and handlers. Background janitors stop with ctx.
func buildApp(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) *app {
	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	eventRepo := repository.NewSecurityEventRepository(db)

	events := service.NewSecurityEventService(eventRepo, service.SecurityEventConfig{
		Async:      cfg.SecurityEvents.Async,
		Workers:    cfg.SecurityEvents.Workers,
		BufferSize: cfg.SecurityEvents.BufferSize,
		MaxRetries: cfg.SecurityEvents.MaxRetries,
		RetryDelay: cfg.SecurityEvents.RetryDelay,
	}, metrics, logr)
	events.Start(ctx)

	bruteForceCfg := service.BruteForceConfig{
		AccountThreshold: cfg.BruteForce.AccountThreshold,
		IPThreshold:      cfg.BruteForce.IPThreshold,
		Window:           cfg.BruteForce.Window,
		BaseLockout:      cfg.BruteForce.BaseLockout,
		MaxLockout:       cfg.BruteForce.MaxLockout,
		CaptchaAfter:     cfg.BruteForce.CaptchaAfter,
	}
	var bruteForce *service.BruteForceProtector
	if redisClient != nil {
		store := repository.NewRedisLockoutRepository(redisClient, cfg.BruteForce.RedisKeyPrefix, cfg.BruteForce.RedisMaxTxAttempts, logr)
		bruteForce = service.NewBruteForceProtector(store, bruteForceCfg, metrics, logr)
	} else {
		store := repository.NewMemoryLockoutRepository()
		bruteForce = service.NewBruteForceProtector(store, bruteForceCfg, metrics, logr)
		go service.NewJanitor("lockout-sweep", cfg.BruteForce.SweepInterval,
			service.LockoutSweepTask(store, cfg.BruteForce.Window+cfg.BruteForce.MaxLockout, logr), logr).Run(ctx)
	}

	devices := service.NewDeviceTrustService(deviceRepo, service.TrustPolicy{
		Base:              cfg.DeviceTrust.Base,
		AttestationWeight: cfg.DeviceTrust.AttestationWeight,
		JailbreakWeight:   cfg.DeviceTrust.JailbreakWeight,
		HistoryWeight:     cfg.DeviceTrust.HistoryWeight,
		NewDeviceWeight:   cfg.DeviceTrust.NewDeviceWeight,
		HistorySaturation: time.Duration(cfg.DeviceTrust.HistorySaturationDays) * 24 * time.Hour,
		TrustedThreshold:  cfg.DeviceTrust.TrustedThreshold,
		DistrustThreshold: cfg.DeviceTrust.DistrustThreshold,
	}, logr)

	var secondFactor service.SecondFactorVerifier
	secondFactorTiers := stepUpTiers(cfg.DeviceTrust.SecondFactorTiers, secondFactor != nil, logr)

	authSvc := service.NewAuthService(service.AuthDependencies{
		Codec: service.NewTokenCodec(service.TokenCodecConfig{
			AccessSecret:  cfg.JWT.AccessSecret,
			RefreshSecret: cfg.JWT.RefreshSecret,
			Issuer:        cfg.JWT.Issuer,
		}),
		Sessions:     sessionRepo,
		Credentials:  service.NewCredentialService(userRepo, validate, logr),
		Devices:      devices,
		BruteForce:   bruteForce,
		Events:       events,
		SecondFactor: secondFactor,
		Metrics:      metrics,
	}, validate, logr, service.AuthConfig{
		AccessTTL: cfg.JWT.AccessTTL,
		RefreshTTL: map[models.TrustTier]time.Duration{
			models.TrustTierTrusted:   cfg.Session.RefreshTTLTrusted,
			models.TrustTierStandard:  cfg.Session.RefreshTTLStandard,
			models.TrustTierUntrusted: cfg.Session.RefreshTTLUntrusted,
		},
		SecondFactorTiers: secondFactorTiers,
		OperationTimeout:  cfg.Auth.OperationTimeout,
		TouchInterval:     cfg.Session.TouchInterval,
	})

	go service.NewJanitor("session-purge", cfg.Session.PurgeInterval,
		service.SessionPurgeTask(sessionRepo, cfg.Session.PurgeRetention, logr), logr).Run(ctx)

	var limiter *internalmiddleware.IPRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = internalmiddleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go service.NewJanitor("rate-limit-prune", time.Minute, func(context.Context) error {
			limiter.Prune()
			return nil
		}, logr).Run(ctx)
	}

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = cache.Ping(redisClient)
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:       handler.NewAuthHandler(authSvc),
		admin:      handler.NewAdminHandler(authSvc),
		metrics:    handler.NewMetricsHandler(metrics, checks),
		metricsSvc: metrics,
		resolver:   authSvc,
		limiter:    limiter,
	})
	return &app{router: router, events: events}
}

// stepUpTiers converts the configured second factor tiers. Without a verifier every login on
// such a tier would be refused, so the tiers are dropped and those devices fall back to their
// short refresh lifetime.
func stepUpTiers(names []string, verifierWired bool, logr *zap.Logger) []models.TrustTier {
	if len(names) == 0 {
		return nil
	}
	if !verifierWired {
		logr.Warn("second factor tiers configured but no verifier is wired, step-up disabled",
			zap.Strings("tiers", names))
		return nil
	}
	tiers := make([]models.TrustTier, 0, len(names))
	for _, name := range names {
		tiers = append(tiers, models.TrustTier(name))
	}
	return tiers
}
